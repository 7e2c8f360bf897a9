// Package bitbucket publishes build statuses to Bitbucket Server and Data Center.
package bitbucket

import (
	"fmt"
	"net/http"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// buildStatus is the body of the build-status 1.0 API.
type buildStatus struct {
	State       string `json:"state"`
	Key         string `json:"key"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// NewDialect returns the Bitbucket Server dialect. serverURL is the base URL of
// the instance, including its context path.
func NewDialect(serverURL string) scms.Dialect {
	return scms.Dialect{
		Type:    scms.BitbucketServer,
		States:  states,
		Grammar: repository.BitbucketServer,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			body, err := payload.JSON(buildStatus{
				State:       status.State,
				Key:         status.Key,
				Name:        status.Context,
				URL:         status.TargetURL,
				Description: status.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode bitbucket status: %w", err)
			}

			// Build statuses are stored per commit, not per repository.
			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "rest", "build-status", "1.0", "commits", status.Sha()),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(serverURL, "rest", "api", "1.0", "projects", repo.Owner, "repos", repo.Name),
			}, nil
		},
	}
}
