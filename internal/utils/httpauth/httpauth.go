/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpauth authenticates the requests sent to hosting services. It
// supports Basic Auth, token headers, OAuth2 Client Credentials, GitHub App
// installations, Microsoft Entra service principals and mutual TLS (mTLS).
//
// # Secret Formats
//
// Each authentication method expects secrets with fixed keys:
//
// Basic Auth secret (keys: "username", "password"):
//
//	apiVersion: v1
//	kind: Secret
//	metadata:
//	  name: bitbucket-creds
//	type: Opaque
//	stringData:
//	  username: ci-bot
//	  password: app-password
//
// Token secret (key: "token"):
//
//	apiVersion: v1
//	kind: Secret
//	metadata:
//	  name: github-token
//	type: Opaque
//	stringData:
//	  token: ghp_xxx
//
// OAuth2 Client Credentials and Entra service principal secret (keys: "clientID", "clientSecret"):
//
//	apiVersion: v1
//	kind: Secret
//	metadata:
//	  name: oauth-creds
//	type: Opaque
//	stringData:
//	  clientID: your-client-id
//	  clientSecret: your-client-secret
//
// GitHub App secret (key: "githubAppPrivateKey").
//
// TLS Client Certificate secret (keys: "tls.crt", "tls.key", optional "ca.crt"):
//
//	apiVersion: v1
//	kind: Secret
//	metadata:
//	  name: client-cert
//	type: kubernetes.io/tls
//	data:
//	  tls.crt: <base64-encoded-cert>
//	  tls.key: <base64-encoded-key>
//	  ca.crt: <base64-encoded-ca>  # optional
package httpauth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/azuredevops"
	githubscm "github.com/argoproj-labs/commit-status-publisher/internal/scms/github"
	"github.com/argoproj-labs/commit-status-publisher/internal/secrets"
)

const (
	// Secret keys for Basic Auth
	UsernameKey = "username"
	PasswordKey = "password"

	// Secret key for token auth
	TokenKey = "token"

	// Secret keys for OAuth2 and Entra auth
	ClientIDKey     = "clientID"
	ClientSecretKey = "clientSecret"

	// Secret key for GitHub App auth
	GitHubAppPrivateKeyKey = "githubAppPrivateKey"

	// Secret keys for TLS Auth
	TLSCertKey = "tls.crt"
	TLSKeyKey  = "tls.key"
	TLSCAKey   = "ca.crt"

	authorizationHeader = "Authorization"
)

// Basic applies HTTP Basic Authentication.
type Basic struct {
	Username string
	Password string
}

// Apply sets the Authorization header.
func (b Basic) Apply(ctx context.Context, req *http.Request) error {
	credentials := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	req.Header.Set(authorizationHeader, "Basic "+credentials)
	log.FromContext(ctx).V(4).Info("Applied Basic authentication")
	return nil
}

// Token sends a static token in Header, prefixed by Scheme when it is not empty.
type Token struct {
	Header string
	Scheme string
	Token  string
}

// Apply sets the token header.
func (t Token) Apply(ctx context.Context, req *http.Request) error {
	value := t.Token
	if t.Scheme != "" {
		value = t.Scheme + " " + t.Token
	}
	req.Header.Set(t.Header, value)
	log.FromContext(ctx).V(4).Info("Applied token authentication", "header", t.Header)
	return nil
}

// TokenSource applies tokens from an oauth2.TokenSource, which handles caching and refresh.
type TokenSource struct {
	Source oauth2.TokenSource
}

// Apply sets the Authorization header from the current token.
func (t TokenSource) Apply(ctx context.Context, req *http.Request) error {
	token, err := t.Source.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain OAuth2 access token: %w", err)
	}
	token.SetAuthHeader(req)
	log.FromContext(ctx).V(4).Info("Applied OAuth2 authentication", "tokenExpiry", token.Expiry)
	return nil
}

// NewBasic reads the username and password of secret.
func NewBasic(secret *corev1.Secret) (Basic, error) {
	username, err := GetSecretValue(secret, UsernameKey)
	if err != nil {
		return Basic{}, fmt.Errorf("failed to get username from secret: %w", err)
	}
	// Token-as-username logins have no password.
	password := string(secret.Data[PasswordKey])
	return Basic{Username: username, Password: password}, nil
}

// NewToken reads the token of secret. The token goes to the Authorization
// header with the Bearer scheme unless header or scheme say otherwise.
func NewToken(secret *corev1.Secret, header string, scheme *string) (Token, error) {
	token, err := GetSecretValue(secret, TokenKey)
	if err != nil {
		return Token{}, fmt.Errorf("failed to get token from secret: %w", err)
	}
	if header == "" {
		header = authorizationHeader
	}
	s := ""
	switch {
	case scheme != nil:
		s = *scheme
	case http.CanonicalHeaderKey(header) == authorizationHeader:
		s = "Bearer"
	}
	return Token{Header: header, Scheme: s, Token: token}, nil
}

// NewOAuth2 creates a client credentials token source from the clientID and
// clientSecret of secret. Tokens are fetched lazily, on first use.
func NewOAuth2(ctx context.Context, secret *corev1.Secret, tokenURL string, scopes []string) (TokenSource, error) {
	if tokenURL == "" {
		return TokenSource{}, errors.New("OAuth2 token URL is required")
	}
	clientID, err := GetSecretValue(secret, ClientIDKey)
	if err != nil {
		return TokenSource{}, fmt.Errorf("failed to get client ID from secret: %w", err)
	}
	clientSecret, err := GetSecretValue(secret, ClientSecretKey)
	if err != nil {
		return TokenSource{}, fmt.Errorf("failed to get client secret from secret: %w", err)
	}

	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	// The token source outlives the caller and refreshes in the background of later requests.
	return TokenSource{Source: config.TokenSource(context.WithoutCancel(ctx))}, nil
}

// BuildTLSClient creates an HTTP client with mutual TLS (mTLS) authentication.
//
// Empty key names default to "tls.crt", "tls.key" and "ca.crt". The CA
// certificate is optional.
func BuildTLSClient(ctx context.Context, secret *corev1.Secret, ref v1alpha1.TLSAuthSecretRef, timeout time.Duration) (*http.Client, error) {
	logger := log.FromContext(ctx)

	certKey, keyKey, caKey := ref.CertKey, ref.KeyKey, ref.CAKey
	if certKey == "" {
		certKey = TLSCertKey
	}
	if keyKey == "" {
		keyKey = TLSKeyKey
	}
	if caKey == "" {
		caKey = TLSCAKey
	}

	certPEM, err := GetSecretValue(secret, certKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate from secret: %w", err)
	}
	keyPEM, err := GetSecretValue(secret, keyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get private key from secret: %w", err)
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caPEM, exists := secret.Data[caKey]; exists && len(caPEM) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // DefaultTransport is always an *http.Transport
	transport.TLSClientConfig = tlsConfig

	logger.V(4).Info("Built TLS authenticated HTTP client")
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// GetSecretValue retrieves a string value from a secret's data.
func GetSecretValue(secret *corev1.Secret, key string) (string, error) {
	value, exists := secret.Data[key]
	if !exists || len(value) == 0 {
		return "", fmt.Errorf("key %q not found in secret %q", key, secret.Name)
	}
	return string(value), nil
}

// New builds the credentials of a publisher feature. The returned client is
// only set for mutual TLS; the authenticator is nil when auth only configures TLS.
func New(ctx context.Context, auth *v1alpha1.HttpAuthentication, src secrets.Source, serverURL string) (dispatcher.Authenticator, *http.Client, error) {
	if auth == nil {
		return nil, nil, nil
	}

	methods := 0
	for _, set := range []bool{auth.Basic != nil, auth.Bearer != nil, auth.OAuth2 != nil, auth.GitHubApp != nil, auth.AzureServicePrincipal != nil} {
		if set {
			methods++
		}
	}
	if methods > 1 {
		return nil, nil, errors.New("only one of basic, bearer, oauth2, githubApp or azureServicePrincipal may be set")
	}

	var client *http.Client
	if auth.TLS != nil {
		secret, err := src.Secret(ctx, auth.TLS.SecretRef.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get TLS secret %q: %w", auth.TLS.SecretRef.Name, err)
		}
		// Attempt timeouts come from the dispatcher.
		client, err = BuildTLSClient(ctx, secret, auth.TLS.SecretRef, 0)
		if err != nil {
			return nil, nil, err
		}
	}

	authenticator, err := newAuthenticator(ctx, auth, src, serverURL)
	if err != nil {
		return nil, nil, err
	}
	return authenticator, client, nil
}

func newAuthenticator(ctx context.Context, auth *v1alpha1.HttpAuthentication, src secrets.Source, serverURL string) (dispatcher.Authenticator, error) {
	get := func(kind, name string) (*corev1.Secret, error) {
		secret, err := src.Secret(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s secret %q: %w", kind, name, err)
		}
		return secret, nil
	}

	switch {
	case auth.Basic != nil:
		secret, err := get("basic auth", auth.Basic.SecretRef.Name)
		if err != nil {
			return nil, err
		}
		return NewBasic(secret)
	case auth.Bearer != nil:
		secret, err := get("bearer auth", auth.Bearer.SecretRef.Name)
		if err != nil {
			return nil, err
		}
		return NewToken(secret, auth.Bearer.Header, auth.Bearer.Scheme)
	case auth.OAuth2 != nil:
		secret, err := get("OAuth2", auth.OAuth2.SecretRef.Name)
		if err != nil {
			return nil, err
		}
		return NewOAuth2(ctx, secret, auth.OAuth2.TokenURL, auth.OAuth2.Scopes)
	case auth.GitHubApp != nil:
		secret, err := get("GitHub App", auth.GitHubApp.SecretRef.Name)
		if err != nil {
			return nil, err
		}
		key, err := GetSecretValue(secret, GitHubAppPrivateKeyKey)
		if err != nil {
			return nil, err
		}
		return githubscm.NewAppAuthenticator(serverURL, auth.GitHubApp.AppID, auth.GitHubApp.InstallationID, []byte(key))
	case auth.AzureServicePrincipal != nil:
		sp := auth.AzureServicePrincipal
		secret, err := get("Azure service principal", sp.SecretRef.Name)
		if err != nil {
			return nil, err
		}
		clientID, err := GetSecretValue(secret, ClientIDKey)
		if err != nil {
			return nil, err
		}
		clientSecret, err := GetSecretValue(secret, ClientSecretKey)
		if err != nil {
			return nil, err
		}
		credential, err := azuredevops.NewClientSecretCredential(sp.TenantID, sp.AuthorityHost, clientID, clientSecret)
		if err != nil {
			return nil, err
		}
		return azuredevops.NewTokenManager(credential), nil
	default:
		return nil, nil
	}
}
