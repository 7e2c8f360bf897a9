/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/argoproj-labs/commit-status-publisher/cmd/demo"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/publisher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/fake"
	"github.com/argoproj-labs/commit-status-publisher/internal/secrets"
	"github.com/argoproj-labs/commit-status-publisher/internal/settings"
	"github.com/argoproj-labs/commit-status-publisher/internal/webhookreceiver"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	opts := zap.Options{
		Development: true,
		TimeEncoder: zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	// Recover any panic and log using the configured logger. This ensures that panics get logged in JSON format if
	// JSON logging is enabled.
	defer func() {
		if r := recover(); r != nil {
			setupLog.Error(nil, "recovered from panic", "panic", r, "trace", string(debug.Stack()))
			os.Exit(1)
		}
	}()

	root := newRootCommand(&opts)
	root.PersistentFlags().AddFlagSet(pflag.CommandLine)
	if err := root.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "command failed")
		os.Exit(1)
	}
}

func newRootCommand(opts *zap.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "commit-status-publisher",
		Short:         "Publish build statuses to source code hosting services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(opts)))
		},
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newTestConnectionCommand())
	cmd.AddCommand(newParseURLCommand())
	cmd.AddCommand(demo.NewDemoCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive build events and publish commit statuses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the publisher configuration file")
	return cmd
}

// application is the wiring shared by the commands that load a configuration.
type application struct {
	settings   *settings.Manager
	problems   *problems.Store
	dispatcher *dispatcher.Dispatcher
	router     *publisher.Router
}

func newApplication(ctx context.Context, configPath string) (*application, error) {
	settingsMgr, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}

	src, err := secrets.NewSource(settingsMgr.GetSecretsConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to create secret source: %w", err)
	}

	store := problems.NewStore(settingsMgr.GetProblemsOptions())
	d := dispatcher.New(&http.Client{}, store, settingsMgr.GetDispatcherOptions())

	publishers, err := publisher.NewPublishers(ctx, settingsMgr.GetFeatures(), src, d, store, fake.NewRecorder())
	if err != nil {
		return nil, err
	}
	router, err := publisher.NewRouter(publishers...)
	if err != nil {
		return nil, err
	}

	return &application{
		settings:   settingsMgr,
		problems:   store,
		dispatcher: d,
		router:     router,
	}, nil
}

func serve(ctx context.Context, configPath string) error {
	app, err := newApplication(ctx, configPath)
	if err != nil {
		return err
	}
	for _, p := range app.router.Publishers() {
		setupLog.Info("configured feature", "feature", p.Name(), "provider", p.Provider())
	}

	app.dispatcher.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := app.dispatcher.Shutdown(shutdownCtx); err != nil {
			setupLog.Error(err, "failed to drain dispatcher")
		}
	}()

	maxPayloadSize := app.settings.GetWebhookMaxPayloadSize()
	whr := webhookreceiver.NewWebhookReceiver(app.router, app.problems, app.dispatcher, maxPayloadSize.Value())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return whr.Start(gctx, app.settings.GetServerAddress())
	})
	if addr := app.settings.GetMetricsAddress(); addr != "0" {
		g.Go(func() error {
			return serveMetrics(gctx, addr)
		})
	}

	setupLog.Info("starting commit status publisher")
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
	server := http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	setupLog.Info("metrics server started", "address", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
