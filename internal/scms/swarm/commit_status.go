// Package swarm reports builds as comments on Perforce Helix Swarm changelists.
package swarm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const apiVersion = "v9"

var states = map[scms.Phase]string{
	scms.PhasePending:  "queued",
	scms.PhaseRunning:  "running",
	scms.PhaseSuccess:  "succeeded",
	scms.PhaseFailure:  "failed",
	scms.PhaseCanceled: "canceled",
}

// comment is the form body of the comments API.
type comment struct {
	Topic string `url:"topic"`
	Body  string `url:"body"`
}

// NewDialect returns the Swarm dialect. Comments are attached to the
// changelist topic, which Swarm shows on every review of the change.
func NewDialect(serverURL string) scms.Dialect {
	return scms.Dialect{
		Type:         scms.Swarm,
		Events:       []scms.EventKind{scms.EventQueued, scms.EventStarted, scms.EventFinished, scms.EventInterrupted, scms.EventRemovedFromQueue},
		States:       states,
		NoRepository: true,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			change := changelist(status)
			if change == "" {
				return nil, fmt.Errorf("no changelist for VCS root %q", status.Event.Revision.Root.Name)
			}

			body, err := payload.Form(comment{
				Topic: "changes/" + change,
				Body:  commentBody(status),
			})
			if err != nil {
				return nil, err
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "api", apiVersion, "comments"),
				Body:        body,
				ContentType: "application/x-www-form-urlencoded",
			}, nil
		},
		Probe: func(*repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(serverURL, "api", "version"),
			}, nil
		},
	}
}

func changelist(status *scms.Status) string {
	if c := status.Event.Revision.Changelist; c != "" {
		return c
	}
	return status.Sha()
}

func commentBody(status *scms.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", status.Context, status.State)
	if status.Description != "" {
		b.WriteString(": ")
		b.WriteString(status.Description)
	}
	if status.TargetURL != "" {
		b.WriteString("\n")
		b.WriteString(status.TargetURL)
	}
	return b.String()
}
