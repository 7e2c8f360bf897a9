package azuredevops

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAuthorityHost is the Microsoft Entra ID authority of the public cloud.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// ClientSecretCredential authenticates a service principal with a client secret
// using the OAuth2 client credentials flow of Microsoft Entra ID.
type ClientSecretCredential struct {
	tenantID      string
	authorityHost string
	clientID      string
	clientSecret  string
}

var _ azcore.TokenCredential = &ClientSecretCredential{}

// NewClientSecretCredential creates a credential for tenantID. authorityHost
// selects a sovereign cloud and defaults to DefaultAuthorityHost.
func NewClientSecretCredential(tenantID, authorityHost, clientID, clientSecret string) (*ClientSecretCredential, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("tenant ID, client ID and client secret are required")
	}
	if authorityHost == "" {
		authorityHost = DefaultAuthorityHost
	}
	return &ClientSecretCredential{
		tenantID:      tenantID,
		authorityHost: strings.TrimRight(authorityHost, "/"),
		clientID:      clientID,
		clientSecret:  clientSecret,
	}, nil
}

// GetToken requests a token for options.Scopes. A custom HTTP client can be
// passed through ctx with the oauth2.HTTPClient key.
func (c *ClientSecretCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tenant := c.tenantID
	if options.TenantID != "" {
		tenant = options.TenantID
	}

	config := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.authorityHost + "/" + tenant + "/oauth2/v2.0/token",
		Scopes:       options.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	token, err := config.Token(ctx)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to acquire token for tenant %s: %w", tenant, err)
	}
	return azcore.AccessToken{Token: token.AccessToken, ExpiresOn: token.Expiry}, nil
}
