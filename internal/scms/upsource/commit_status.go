// Package upsource publishes build statuses to JetBrains Upsource.
package upsource

import (
	"fmt"
	"net/http"

	"github.com/relvacode/iso8601"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

var states = map[scms.Phase]string{
	scms.PhasePending:  "in_progress",
	scms.PhaseRunning:  "in_progress",
	scms.PhaseSuccess:  "success",
	scms.PhaseFailure:  "failed",
	scms.PhaseCanceled: "failed",
}

type buildStatus struct {
	Project     string `json:"project"`
	Key         string `json:"key"`
	State       string `json:"state"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Revision    string `json:"revision"`
	// Timestamp is in milliseconds since the epoch. Omitted when the build carries no time.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// NewDialect returns the Upsource dialect. Upsource identifies revisions by
// project, so VCS root URLs are not parsed.
func NewDialect(serverURL, project string) scms.Dialect {
	return scms.Dialect{
		Type:         scms.Upsource,
		States:       states,
		NoRepository: true,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if status.Sha() == "" {
				return nil, fmt.Errorf("no revision for VCS root %q", status.Event.Revision.Root.Name)
			}

			body, err := payload.JSON(buildStatus{
				Project:     project,
				Key:         status.Key,
				State:       status.State,
				URL:         status.TargetURL,
				Name:        status.Context,
				Description: status.Description,
				Revision:    status.Sha(),
				Timestamp:   timestamp(status.Event.Build),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode upsource status: %w", err)
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "~buildStatus"),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(*repository.Repository) (*dispatcher.Request, error) {
			body, err := payload.JSON(map[string]string{"projectId": project})
			if err != nil {
				return nil, err
			}
			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "~rpc", "getProjectInfo"),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
	}
}

// timestamp is the most recent lifecycle time of the build. Unparseable times are ignored.
func timestamp(build v1alpha1.Build) int64 {
	for _, s := range []string{build.FinishedAt, build.StartedAt, build.QueuedAt} {
		if s == "" {
			continue
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			continue
		}
		return t.UnixMilli()
	}
	return 0
}
