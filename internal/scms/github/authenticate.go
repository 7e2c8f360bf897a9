package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// AppAuthenticator authenticates requests as a GitHub App installation.
// Installation tokens are cached and refreshed by ghinstallation.
type AppAuthenticator struct {
	transport *ghinstallation.Transport
}

// NewAppAuthenticator creates an AppAuthenticator. serverURL is the API root of
// a GitHub Enterprise instance, empty for github.com.
func NewAppAuthenticator(serverURL string, appID, installationID int64, privateKey []byte) (*AppAuthenticator, error) {
	itr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create github app transport: %w", err)
	}
	if serverURL != "" {
		itr.BaseURL = strings.TrimRight(serverURL, "/")
	}
	return &AppAuthenticator{transport: itr}, nil
}

// Apply sets an installation token on req.
func (a *AppAuthenticator) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.transport.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get github app installation token: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	log.FromContext(ctx).V(4).Info("Applied GitHub App authentication")
	return nil
}
