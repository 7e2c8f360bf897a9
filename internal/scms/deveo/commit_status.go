// Package deveo publishes build events to Deveo.
package deveo

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// DefaultServerURL is the hosted Deveo service.
const DefaultServerURL = "https://app.deveo.com"

var states = map[scms.Phase]string{
	scms.PhasePending:  "queued",
	scms.PhaseRunning:  "started",
	scms.PhaseSuccess:  "succeeded",
	scms.PhaseFailure:  "failed",
	scms.PhaseCanceled: "cancelled",
}

// Keys are the API keys Deveo requires on every call.
type Keys struct {
	PluginKey  string
	CompanyKey string
	AccountKey string
}

// Validate rejects keys that cannot be quoted in the Authorization header.
func (k Keys) Validate() error {
	for name, key := range map[string]string{
		"plugin key":  k.PluginKey,
		"company key": k.CompanyKey,
		"account key": k.AccountKey,
	} {
		if strings.ContainsFunc(key, func(r rune) bool { return r == '\'' || unicode.IsControl(r) }) {
			return fmt.Errorf("deveo %s must not contain quotes or control characters", name)
		}
	}
	return nil
}

func (k Keys) header() string {
	return fmt.Sprintf("deveo plugin_key='%s',company_key='%s',account_key='%s'", k.PluginKey, k.CompanyKey, k.AccountKey)
}

type event struct {
	Target     string `json:"target"`
	Operation  string `json:"operation"`
	Name       string `json:"name"`
	Project    string `json:"project"`
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	URL        string `json:"url,omitempty"`
}

// NewDialect returns the Deveo dialect. The keys are sent in the Authorization
// header, so features using it carry no other credentials.
func NewDialect(serverURL string, keys Keys) scms.Dialect {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	headers := func() http.Header {
		h := http.Header{}
		h.Set("Authorization", keys.header())
		return h
	}

	return scms.Dialect{
		Type:    scms.Deveo,
		States:  states,
		Grammar: repository.Deveo,
		Request: func(status *scms.Status) (*dispatcher.Request, error) {
			if err := scms.RequireRepository(status); err != nil {
				return nil, err
			}

			body, err := payload.JSON(event{
				Target:     "build",
				Operation:  status.State,
				Name:       status.Context,
				Project:    status.Repository.Owner,
				Repository: status.Repository.Name,
				Ref:        status.Sha(),
				URL:        status.TargetURL,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode deveo event: %w", err)
			}

			return &dispatcher.Request{
				Method:      http.MethodPost,
				URL:         scms.JoinURL(serverURL, "api", "events"),
				Body:        body,
				ContentType: "application/json",
				Headers:     headers(),
			}, nil
		},
		Probe: func(repo *repository.Repository) (*dispatcher.Request, error) {
			return &dispatcher.Request{
				Method:  http.MethodGet,
				URL:     scms.JoinURL(serverURL, "api", "projects", repo.Owner, "repositories", repo.Name),
				Headers: headers(),
			}, nil
		},
	}
}
