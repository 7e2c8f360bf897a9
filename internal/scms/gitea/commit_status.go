// Package gitea publishes commit statuses to Gitea.
package gitea

import (
	"fmt"
	"net/http"

	"code.gitea.io/sdk/gitea"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// NewDialect returns the Gitea dialect for the instance at serverURL.
func NewDialect(serverURL string) scms.Dialect {
	return scms.Dialect{
		Type:    scms.Gitea,
		States:  states,
		Grammar: repository.Generic,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			body, err := payload.JSON(gitea.CreateStatusOption{
				State:       gitea.StatusState(status.State),
				TargetURL:   status.TargetURL,
				Description: status.Description,
				Context:     status.Context,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode gitea status: %w", err)
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "api", "v1", "repos", status.Repository.Owner, status.Repository.Name, "statuses", status.Sha()),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(serverURL, "api", "v1", "repos", repo.Owner, repo.Name),
			}, nil
		},
	}
}
