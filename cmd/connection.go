package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/publisher"
)

func newTestConnectionCommand() *cobra.Command {
	var configPath string
	var features []string
	var root v1alpha1.VcsRoot

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that features can reach their hosting service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))
			return testConnections(cmd.Context(), configPath, features, root)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the publisher configuration file")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "Features to test. Every feature is tested when empty")
	cmd.Flags().StringVar(&root.URL, "vcs-url", "", "Fetch URL of the repository to probe")
	cmd.Flags().StringVar(&root.Kind, "vcs-kind", "git", "VCS kind of the repository: git, mercurial, subversion or perforce")
	return cmd
}

func testConnections(ctx context.Context, configPath string, names []string, root v1alpha1.VcsRoot) error {
	app, err := newApplication(ctx, configPath)
	if err != nil {
		return err
	}
	app.dispatcher.Start(ctx)
	defer func() {
		_ = app.dispatcher.Shutdown(context.WithoutCancel(ctx))
	}()

	var selected []*publisher.Publisher
	if len(names) == 0 {
		selected = app.router.Publishers()
	}
	for _, name := range names {
		p, ok := app.router.Publisher(name)
		if !ok {
			return fmt.Errorf("feature %q is not configured", name)
		}
		selected = append(selected, p)
	}

	failed := 0
	for _, p := range selected {
		if err := p.TestConnection(ctx, root); err != nil {
			failed++
			color.Red("✗ %s (%s): %v\n", p.Name(), p.Provider(), err)
			continue
		}
		color.Green("✓ %s (%s)\n", p.Name(), p.Provider())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connection tests failed", failed, len(selected))
	}
	return nil
}
