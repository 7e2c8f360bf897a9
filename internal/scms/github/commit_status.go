// Package github publishes commit statuses through the GitHub REST API. It also
// serves GitHub Enterprise Server when the server URL points at its /api/v3 root.
package github

import (
	"fmt"
	"net/http"

	"github.com/google/go-github/v71/github"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const (
	// DefaultServerURL is the github.com API root.
	DefaultServerURL = "https://api.github.com"

	// GitHub rejects descriptions longer than 140 characters.
	maxDescriptionLength = 140
	mediaType            = "application/vnd.github+json"
)

// GitHub has no running or canceled states: running builds are pending and
// canceled builds are errors.
var states = map[scms.Phase]string{
	scms.PhasePending:  "pending",
	scms.PhaseRunning:  "pending",
	scms.PhaseSuccess:  "success",
	scms.PhaseFailure:  "failure",
	scms.PhaseCanceled: "error",
}

// NewDialect returns the GitHub dialect for the API root serverURL.
func NewDialect(serverURL string) scms.Dialect {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	return scms.Dialect{
		Type:           scms.GitHub,
		States:         states,
		MaxDescription: maxDescriptionLength,
		Grammar:        repository.Generic,
		Envelope:       Envelope,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			return statusRequest(serverURL, status)
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method:  http.MethodGet,
				URL:     scms.JoinURL(serverURL, "repos", repo.Owner, repo.Name),
				Headers: http.Header{"Accept": {mediaType}},
			}, nil
		},
	}
}

func statusRequest(serverURL string, status *scms.Status) (*dispatcher.Request, error) {
	if err := scms.RequireRepository(status); err != nil {
		return nil, err
	}

	repoStatus := github.RepoStatus{
		State:       github.Ptr(status.State),
		Description: github.Ptr(status.Description),
		Context:     github.Ptr(status.Context),
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = github.Ptr(status.TargetURL)
	}

	body, err := payload.JSON(repoStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to encode github status: %w", err)
	}

	return &dispatcher.Request{
		Method:      http.MethodPost,
		URL:         scms.JoinURL(serverURL, "repos", status.Repository.Owner, status.Repository.Name, "statuses", status.Sha()),
		Body:        body,
		ContentType: "application/json",
		Headers:     http.Header{"Accept": {mediaType}},
	}, nil
}
