// Package bitbucket_cloud publishes build statuses to bitbucket.org.
package bitbucket_cloud

import (
	"fmt"
	"net/http"

	"github.com/ktrysmt/go-bitbucket"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const (
	// DefaultServerURL is the Bitbucket Cloud API host.
	DefaultServerURL = "https://api.bitbucket.org"

	// Bitbucket Cloud Key field for commit status request max length is 40
	maxKeyFieldLength = 40
)

// NewDialect returns the Bitbucket Cloud dialect.
func NewDialect(serverURL string) scms.Dialect {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	return scms.Dialect{
		Type:    scms.BitbucketCloud,
		States:  states,
		Grammar: repository.BitbucketCloud,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			opts := bitbucket.CommitStatusOptions{
				Key:         payload.ShortenKey(status.Key, maxKeyFieldLength),
				Url:         status.TargetURL,
				State:       status.State,
				Name:        status.Context,
				Description: status.Description,
			}
			body, err := payload.JSON(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to encode bitbucket cloud status: %w", err)
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "2.0", "repositories", status.Repository.Owner, status.Repository.Name, "commit", status.Sha(), "statuses", "build"),
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(serverURL, "2.0", "repositories", repo.Owner, repo.Name),
			}, nil
		},
	}
}
