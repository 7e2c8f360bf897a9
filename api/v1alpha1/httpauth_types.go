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

package v1alpha1

// HttpAuthentication defines how a publisher feature authenticates against the hosting service.
//
// Only one authentication method should be specified.
//
// Authentication methods:
//
//  1. Basic Auth - username/password, or a token sent as the username
//     Applied as: Authorization: Basic <base64(username:password)>
//
//  2. Bearer Token - personal access tokens and API keys
//     Applied as: Authorization: Bearer <token>, or a custom header such as PRIVATE-TOKEN
//
//  3. OAuth2 - client credentials flow with automatic token refresh
//     Applied as: Authorization: Bearer <access-token>
//
//  4. TLS - mutual TLS using client certificates
//     Applied at: Transport layer (not as HTTP header)
//
//  5. GitHubApp - GitHub App installation tokens
//     Applied as: Authorization: token <installation-token>
//
//  6. AzureServicePrincipal - Microsoft Entra client credentials for Azure DevOps
//     Applied as: Authorization: Bearer <entra-token>
type HttpAuthentication struct {
	// Basic specifies HTTP Basic Authentication.
	// +optional
	Basic *BasicAuth `json:"basic,omitempty"`

	// Bearer specifies token authentication.
	// +optional
	Bearer *BearerAuth `json:"bearer,omitempty"`

	// OAuth2 specifies OAuth2 client credentials authentication.
	// +optional
	OAuth2 *OAuth2Auth `json:"oauth2,omitempty"`

	// TLS specifies TLS client certificate authentication (mutual TLS).
	// TLS may be combined with one of the header based methods.
	// +optional
	TLS *TLSAuth `json:"tls,omitempty"`

	// GitHubApp authenticates as a GitHub App installation.
	// +optional
	GitHubApp *GitHubAppAuth `json:"githubApp,omitempty"`

	// AzureServicePrincipal authenticates against Azure DevOps with a Microsoft Entra application.
	// +optional
	AzureServicePrincipal *AzureServicePrincipalAuth `json:"azureServicePrincipal,omitempty"`
}

// SecretReference names a secret holding credentials. Keys are fixed per
// authentication method.
type SecretReference struct {
	// Name of the secret.
	// +required
	Name string `json:"name"`
}

// BasicAuth defines HTTP Basic Authentication.
//
//	basic:
//	  secretRef:
//	    name: bitbucket-creds  # secret must contain keys "username" and "password"
type BasicAuth struct {
	// SecretRef references a secret containing username and password.
	// +required
	SecretRef SecretReference `json:"secretRef"`
}

// BearerAuth defines token authentication.
//
// By default the token is sent as "Authorization: Bearer <token>". Header and
// Scheme override this for services such as GitLab (PRIVATE-TOKEN header, no
// scheme) or Gitea ("token" scheme).
//
//	bearer:
//	  header: PRIVATE-TOKEN
//	  scheme: ""
//	  secretRef:
//	    name: gitlab-token  # secret must contain key "token"
type BearerAuth struct {
	// SecretRef references a secret containing the token.
	// +required
	SecretRef SecretReference `json:"secretRef"`

	// Header is the request header carrying the token. Defaults to Authorization.
	// +optional
	Header string `json:"header,omitempty"`

	// Scheme prefixes the token in the header. Defaults to "Bearer" when Header
	// is Authorization, and to no scheme otherwise.
	// +optional
	Scheme *string `json:"scheme,omitempty"`
}

// OAuth2Auth defines OAuth2 client credentials authentication (RFC 6749 Section 4.4).
//
//	oauth2:
//	  tokenURL: "https://auth.example.com/oauth/token"
//	  scopes: ["repo:status"]
//	  secretRef:
//	    name: oauth-creds  # secret must contain keys "clientID" and "clientSecret"
type OAuth2Auth struct {
	// TokenURL is the OAuth2 token endpoint where access tokens are obtained.
	// +required
	TokenURL string `json:"tokenURL"`

	// Scopes to request from the OAuth2 provider.
	// +optional
	Scopes []string `json:"scopes,omitempty"`

	// SecretRef references a secret containing clientID and clientSecret.
	// +required
	SecretRef SecretReference `json:"secretRef"`
}

// TLSAuth defines TLS client certificate authentication (mutual TLS).
//
//	tls:
//	  secretRef:
//	    name: client-cert  # secret must contain "tls.crt" and "tls.key", optionally "ca.crt"
type TLSAuth struct {
	// SecretRef references a secret containing the TLS certificate and key.
	// +required
	SecretRef TLSAuthSecretRef `json:"secretRef"`
}

// TLSAuthSecretRef references a secret for TLS client certificate authentication.
type TLSAuthSecretRef struct {
	// Name of the secret.
	// +required
	Name string `json:"name"`

	// CertKey is the key in the secret containing the client certificate.
	// +optional
	CertKey string `json:"certKey,omitempty"`

	// KeyKey is the key in the secret containing the client private key.
	// +optional
	KeyKey string `json:"keyKey,omitempty"`

	// CAKey is the key in the secret containing the CA certificate.
	// +optional
	CAKey string `json:"caKey,omitempty"`
}

// GitHubAppAuth authenticates as a GitHub App installation.
//
//	githubApp:
//	  appID: 12345
//	  installationID: 67890
//	  secretRef:
//	    name: github-app  # secret must contain key "githubAppPrivateKey"
type GitHubAppAuth struct {
	// AppID is the GitHub App identifier.
	// +required
	AppID int64 `json:"appID"`

	// InstallationID is the installation the tokens are issued for.
	// +required
	InstallationID int64 `json:"installationID"`

	// SecretRef references a secret containing the App private key.
	// +required
	SecretRef SecretReference `json:"secretRef"`
}

// AzureServicePrincipalAuth authenticates with a Microsoft Entra application
// using the client credentials grant.
//
//	azureServicePrincipal:
//	  tenantID: 00000000-0000-0000-0000-000000000000
//	  secretRef:
//	    name: azure-sp  # secret must contain keys "clientID" and "clientSecret"
type AzureServicePrincipalAuth struct {
	// TenantID is the Entra tenant that owns the application.
	// +required
	TenantID string `json:"tenantID"`

	// AuthorityHost overrides the Entra login endpoint.
	// Defaults to https://login.microsoftonline.com.
	// +optional
	AuthorityHost string `json:"authorityHost,omitempty"`

	// SecretRef references a secret containing clientID and clientSecret.
	// +required
	SecretRef SecretReference `json:"secretRef"`
}
