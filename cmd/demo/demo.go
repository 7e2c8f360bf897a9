// Package demo replays build events against an in-memory provider to show the
// statuses a configuration would publish.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/publisher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/fake"
)

var setupLog = ctrl.Log.WithName("demo")

// NewDemoCommand creates the demo command.
func NewDemoCommand() *cobra.Command {
	var scenarioPath string
	var output string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Replay build events against an in-memory provider and print the published statuses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scenario := DefaultScenario()
			if scenarioPath != "" {
				var err error
				if scenario, err = LoadScenario(scenarioPath); err != nil {
					return err
				}
			}

			statuses, problemList, err := Run(cmd.Context(), scenario)
			if err != nil {
				return err
			}
			return Print(cmd.OutOrStdout(), output, statuses, problemList)
		},
	}
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML file with the events to replay. A built-in scenario is used when empty")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}

// Run publishes every event of scenario through a fake feature and returns the
// recorded statuses along with the problems of every build.
func Run(ctx context.Context, scenario Scenario) ([]fake.CommitStatus, []problems.Problem, error) {
	rec := fake.NewRecorder()
	store := problems.NewStore(problems.Options{})
	d := dispatcher.New(&http.Client{}, store, dispatcher.Options{Workers: 1})
	d.Start(ctx)
	defer func() {
		if err := d.Shutdown(context.WithoutCancel(ctx)); err != nil {
			setupLog.Error(err, "failed to drain dispatcher")
		}
	}()

	feature := publisher.Feature{
		Name:        "demo",
		Dialect:     fake.NewDialect(rec),
		Context:     scenario.Context,
		Description: scenario.Description,
	}
	p, err := publisher.New(feature, d, store)
	if err != nil {
		return nil, nil, err
	}
	router, err := publisher.NewRouter(p)
	if err != nil {
		return nil, nil, err
	}

	builds := make([]string, 0, len(scenario.Events))
	seen := make(map[string]bool)
	for i, event := range scenario.Events {
		outcome, err := router.Route(ctx, event)
		if err != nil {
			return nil, nil, fmt.Errorf("event %d: %w", i, err)
		}
		if len(outcome.Errors) > 0 {
			return nil, nil, fmt.Errorf("event %d: %w", i, errors.Join(outcome.Errors...))
		}
		// Events are replayed one at a time so the recorded order matches the scenario.
		for _, future := range outcome.Futures {
			if _, err := future.Wait(ctx); err != nil {
				return nil, nil, err
			}
		}
		if !seen[event.Build.ID] {
			seen[event.Build.ID] = true
			builds = append(builds, event.Build.ID)
		}
	}

	var problemList []problems.Problem
	for _, id := range builds {
		problemList = append(problemList, store.Problems(id)...)
	}
	return rec.Statuses(), problemList, nil
}

// Print writes statuses and problems to w as colored text or YAML.
func Print(w io.Writer, output string, statuses []fake.CommitStatus, problemList []problems.Problem) error {
	switch output {
	case "yaml":
		data, err := yaml.Marshal(map[string]any{
			"statuses": statuses,
			"problems": problemList,
		})
		if err != nil {
			return fmt.Errorf("failed to encode statuses: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "text":
		for _, status := range statuses {
			phase := phaseColor(status.Phase).Sprintf("%-8s", status.Phase)
			if _, err := fmt.Fprintf(w, "%s %-18s %s %s: %s\n", phase, status.Event, shortSha(status.Sha), status.Context, status.Description); err != nil {
				return err
			}
		}
		for _, problem := range problemList {
			if _, err := color.New(color.FgRed).Fprintf(w, "problem %s: %s\n", problem.Kind, problem.Message); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func phaseColor(phase scms.Phase) *color.Color {
	switch phase {
	case scms.PhaseSuccess:
		return color.New(color.FgGreen)
	case scms.PhaseFailure:
		return color.New(color.FgRed)
	case scms.PhaseRunning:
		return color.New(color.FgCyan)
	case scms.PhaseCanceled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func shortSha(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
