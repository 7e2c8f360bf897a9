// Package gitlab publishes pipeline-style commit statuses to GitLab.
package gitlab

import (
	"fmt"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// DefaultServerURL is the gitlab.com API root.
const DefaultServerURL = "https://gitlab.com/api/v4"

// NewDialect returns the GitLab dialect for the API root serverURL
// (https://host/api/v4 for self-managed instances).
func NewDialect(serverURL string) scms.Dialect {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	return scms.Dialect{
		Type:    scms.GitLab,
		States:  states,
		Grammar: repository.Generic,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			opts := gitlab.SetCommitStatusOptions{
				State:       gitlab.BuildStateValue(status.State),
				Name:        gitlab.Ptr(status.Context),
				Description: gitlab.Ptr(status.Description),
			}
			if status.TargetURL != "" {
				opts.TargetURL = gitlab.Ptr(status.TargetURL)
			}

			body, err := payload.JSON(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to encode gitlab status: %w", err)
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "projects", projectPath(status.Repository), "statuses", status.Sha()),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(serverURL, "projects", projectPath(repo)),
			}, nil
		},
	}
}

// projectPath is the URL-encoded project ID: the full namespace path including subgroups.
func projectPath(repo *repository.Repository) string {
	return repo.Owner + "/" + repo.Name
}
