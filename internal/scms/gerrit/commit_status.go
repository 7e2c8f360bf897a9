// Package gerrit votes on Gerrit changes through the SSH command interface.
package gerrit

import (
	"context"
	"fmt"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const (
	// DefaultLabel is the review label voted on.
	DefaultLabel = "Verified"
	// DefaultSuccessVote is cast for successful builds.
	DefaultSuccessVote = "+1"
	// DefaultFailureVote is cast for failed builds.
	DefaultFailureVote = "-1"
)

// Runner executes a Gerrit command. args is the argument list, never a command line.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// Options configures the review votes.
type Options struct {
	Project     string
	Label       string
	SuccessVote string
	FailureVote string
}

func (o Options) withDefaults() Options {
	if o.Label == "" {
		o.Label = DefaultLabel
	}
	if o.SuccessVote == "" {
		o.SuccessVote = DefaultSuccessVote
	}
	if o.FailureVote == "" {
		o.FailureVote = DefaultFailureVote
	}
	return o
}

// NewDialect returns the Gerrit dialect. Only finished builds are voted on.
func NewDialect(runner Runner, opts Options) scms.Dialect {
	opts = opts.withDefaults()

	return scms.Dialect{
		Type:   scms.Gerrit,
		Events: []scms.EventKind{scms.EventFinished},
		States: map[scms.Phase]string{
			scms.PhaseSuccess: opts.SuccessVote,
			scms.PhaseFailure: opts.FailureVote,
		},
		NoRepository: true,
		Command: func(status *scms.Status) (*dispatcher.Command, error) {
			if status.Sha() == "" {
				return nil, fmt.Errorf("no revision for VCS root %q", status.Event.Revision.Root.Name)
			}
			args := ReviewArgs(opts.Project, opts.Label, status.State, message(status), status.Sha())
			return &dispatcher.Command{
				Run: func(ctx context.Context) error {
					return runner.Run(ctx, args...)
				},
			}, nil
		},
		Verify: func(ctx context.Context) error {
			return runner.Run(ctx, "gerrit", "version")
		},
	}
}

// ReviewArgs builds the gerrit review invocation casting vote on label.
func ReviewArgs(project, label, vote, msg, revision string) []string {
	return []string{
		"gerrit", "review",
		"--project", project,
		"--label", label + "=" + vote,
		"-m", msg,
		revision,
	}
}

func message(status *scms.Status) string {
	msg := status.Context + ": " + status.Description
	if status.TargetURL != "" {
		msg += "\n\n" + status.TargetURL
	}
	return msg
}
