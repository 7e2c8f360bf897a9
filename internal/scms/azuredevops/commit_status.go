// Package azuredevops publishes Git commit statuses to Azure DevOps Services and
// Team Foundation Server.
package azuredevops

import (
	"fmt"
	"net/http"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/git"
	"k8s.io/utils/ptr"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const (
	// DefaultGenre groups the statuses published by this service.
	DefaultGenre = "teamcity"

	statusAPIVersion     = "2.1"
	repositoryAPIVersion = "4.1"
)

var states = map[scms.Phase]string{
	scms.PhasePending:  string(git.GitStatusStateValues.Pending),
	scms.PhaseRunning:  string(git.GitStatusStateValues.Pending),
	scms.PhaseSuccess:  string(git.GitStatusStateValues.Succeeded),
	scms.PhaseFailure:  string(git.GitStatusStateValues.Failed),
	scms.PhaseCanceled: string(git.GitStatusStateValues.Error),
}

// NewDialect returns the Azure DevOps dialect. When serverURL is empty the
// organization or collection URL is taken from the VCS root URL.
func NewDialect(serverURL, genre string) scms.Dialect {
	if genre == "" {
		genre = DefaultGenre
	}

	return scms.Dialect{
		Type:    scms.AzureDevOps,
		States:  states,
		Grammar: repository.AzureDevOps,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			state := git.GitStatusState(status.State)
			gitStatus := git.GitStatus{
				Context: &git.GitStatusContext{
					Name:  ptr.To(status.Context),
					Genre: ptr.To(genre),
				},
				State:       &state,
				Description: ptr.To(status.Description),
			}
			if status.TargetURL != "" {
				gitStatus.TargetUrl = ptr.To(status.TargetURL)
			}

			body, err := payload.JSON(gitStatus)
			if err != nil {
				return nil, fmt.Errorf("failed to encode azure devops status: %w", err)
			}

			repo := status.Repository
			return &dispatcher.Request{
				Method: http.MethodPost,
				URL: scms.JoinURL(collectionURL(serverURL, repo), repo.Owner, "_apis", "git", "repositories", repo.Name, "commits", status.Sha(), "statuses") +
					"?api-version=" + statusAPIVersion,
				Body:        body,
				ContentType: "application/json",
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method: http.MethodGet,
				URL:    scms.JoinURL(collectionURL(serverURL, repo), repo.Owner, "_apis", "git", "repositories", repo.Name) + "?api-version=" + repositoryAPIVersion,
			}, nil
		},
	}
}

func collectionURL(serverURL string, repo *repository.Repository) string {
	if serverURL != "" {
		return serverURL
	}
	return repo.Server
}
