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

package httpauth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/azuredevops"
	githubscm "github.com/argoproj-labs/commit-status-publisher/internal/scms/github"
	"github.com/argoproj-labs/commit-status-publisher/internal/secrets"
	"github.com/argoproj-labs/commit-status-publisher/internal/utils"
	"github.com/argoproj-labs/commit-status-publisher/internal/utils/httpauth"
)

func newSource(objects ...*corev1.Secret) secrets.Source {
	builder := fake.NewClientBuilder().WithScheme(utils.GetScheme())
	for _, obj := range objects {
		obj.Namespace = "default"
		builder = builder.WithObjects(obj)
	}
	return secrets.NewKubernetesSource(builder.Build(), "default")
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "https://api.example.com/statuses", nil)
}

var _ = Describe("GetSecretValue", func() {
	It("returns the value when the key exists", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "test-secret"},
			Data: map[string][]byte{
				"username": []byte("alice"),
				"password": []byte("secret"),
			},
		}

		val, err := httpauth.GetSecretValue(secret, "username")
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal("alice"))
	})

	It("returns an error when the key is missing", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "test-secret"},
			Data:       map[string][]byte{"foo": []byte("bar")},
		}

		_, err := httpauth.GetSecretValue(secret, "missing")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("key \"missing\" not found"))
		Expect(err.Error()).To(ContainSubstring("test-secret"))
	})
})

var _ = Describe("Basic", func() {
	It("sets the Authorization header with Basic credentials", func() {
		auth, err := httpauth.NewBasic(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "basic-secret"},
			Data: map[string][]byte{
				httpauth.UsernameKey: []byte("user"),
				httpauth.PasswordKey: []byte("pass"),
			},
		})
		Expect(err).NotTo(HaveOccurred())

		req := newRequest()
		Expect(auth.Apply(context.Background(), req)).To(Succeed())
		Expect(req.Header.Get("Authorization")).To(Equal("Basic dXNlcjpwYXNz")) // base64("user:pass")
	})

	It("accepts a token as username without password", func() {
		auth, err := httpauth.NewBasic(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "azure-pat"},
			Data:       map[string][]byte{httpauth.UsernameKey: []byte("pat")},
		})
		Expect(err).NotTo(HaveOccurred())

		req := newRequest()
		Expect(auth.Apply(context.Background(), req)).To(Succeed())
		user, pass, ok := req.BasicAuth()
		Expect(ok).To(BeTrue())
		Expect(user).To(Equal("pat"))
		Expect(pass).To(BeEmpty())
	})

	It("returns an error when username is missing from secret", func() {
		_, err := httpauth.NewBasic(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "basic-secret"},
			Data:       map[string][]byte{httpauth.PasswordKey: []byte("pass")},
		})
		Expect(err).To(MatchError(ContainSubstring("username")))
	})
})

var _ = Describe("Token", func() {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "token-secret"},
		Data:       map[string][]byte{httpauth.TokenKey: []byte("my-token-123")},
	}

	DescribeTable("places the token",
		func(header string, scheme *string, expectedHeader, expectedValue string) {
			auth, err := httpauth.NewToken(secret, header, scheme)
			Expect(err).NotTo(HaveOccurred())

			req := newRequest()
			Expect(auth.Apply(context.Background(), req)).To(Succeed())
			Expect(req.Header.Get(expectedHeader)).To(Equal(expectedValue))
		},
		Entry("bearer by default", "", nil, "Authorization", "Bearer my-token-123"),
		Entry("gitea token scheme", "", ptr.To("token"), "Authorization", "token my-token-123"),
		Entry("gitlab private token header", "PRIVATE-TOKEN", nil, "Private-Token", "my-token-123"),
		Entry("custom header with scheme", "X-Api-Key", ptr.To("Key"), "X-Api-Key", "Key my-token-123"),
	)

	It("returns an error when token key is missing from secret", func() {
		_, err := httpauth.NewToken(&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "empty"}}, "", nil)
		Expect(err).To(MatchError(ContainSubstring("token")))
	})
})

var _ = Describe("OAuth2", func() {
	var (
		tokenServer *httptest.Server
		exchanges   int
	)

	BeforeEach(func() {
		exchanges = 0
		tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			exchanges++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "oauth2-access-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		DeferCleanup(tokenServer.Close)
	})

	It("exchanges client credentials once and reuses the token", func() {
		auth, err := httpauth.NewOAuth2(context.Background(), &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "oauth-secret"},
			Data: map[string][]byte{
				httpauth.ClientIDKey:     []byte("client-id"),
				httpauth.ClientSecretKey: []byte("client-secret"),
			},
		}, tokenServer.URL+"/token", []string{"repo:status"})
		Expect(err).NotTo(HaveOccurred())
		Expect(exchanges).To(BeZero())

		for range 2 {
			req := newRequest()
			Expect(auth.Apply(context.Background(), req)).To(Succeed())
			Expect(req.Header.Get("Authorization")).To(Equal("Bearer oauth2-access-token"))
		}
		Expect(exchanges).To(Equal(1))
	})

	It("returns an error when clientID is missing from secret", func() {
		_, err := httpauth.NewOAuth2(context.Background(), &corev1.Secret{
			Data: map[string][]byte{httpauth.ClientSecretKey: []byte("secret")},
		}, tokenServer.URL, nil)
		Expect(err).To(MatchError(ContainSubstring("client ID")))
	})

	It("requires a token url", func() {
		_, err := httpauth.NewOAuth2(context.Background(), &corev1.Secret{}, "", nil)
		Expect(err).To(MatchError(ContainSubstring("token URL is required")))
	})
})

var _ = Describe("BuildTLSClient", func() {
	var certPEM, keyPEM []byte

	BeforeEach(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())

		template := &x509.Certificate{
			SerialNumber:          big.NewInt(1),
			NotBefore:             time.Now(),
			NotAfter:              time.Now().Add(24 * time.Hour),
			KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
			BasicConstraintsValid: true,
		}
		certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
		Expect(err).NotTo(HaveOccurred())

		certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	})

	It("builds an HTTP client with TLS config from secret", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "tls-secret"},
			Data: map[string][]byte{
				httpauth.TLSCertKey: certPEM,
				httpauth.TLSKeyKey:  keyPEM,
				httpauth.TLSCAKey:   certPEM,
			},
		}

		client, err := httpauth.BuildTLSClient(context.Background(), secret, v1alpha1.TLSAuthSecretRef{}, 10*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Timeout).To(Equal(10 * time.Second))

		transport, ok := client.Transport.(*http.Transport)
		Expect(ok).To(BeTrue())
		Expect(transport.TLSClientConfig.Certificates).To(HaveLen(1))
		Expect(transport.TLSClientConfig.RootCAs).NotTo(BeNil())
	})

	It("reads custom keys", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "tls-secret"},
			Data: map[string][]byte{
				"client.pem": certPEM,
				"client.key": keyPEM,
			},
		}

		_, err := httpauth.BuildTLSClient(context.Background(), secret, v1alpha1.TLSAuthSecretRef{CertKey: "client.pem", KeyKey: "client.key"}, time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns an error when tls.crt is missing", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "tls-secret"},
			Data:       map[string][]byte{httpauth.TLSKeyKey: keyPEM},
		}

		_, err := httpauth.BuildTLSClient(context.Background(), secret, v1alpha1.TLSAuthSecretRef{}, time.Second)
		Expect(err).To(MatchError(ContainSubstring("certificate")))
	})

	It("returns an error for an invalid CA", func() {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "tls-secret"},
			Data: map[string][]byte{
				httpauth.TLSCertKey: certPEM,
				httpauth.TLSKeyKey:  keyPEM,
				httpauth.TLSCAKey:   []byte("garbage"),
			},
		}

		_, err := httpauth.BuildTLSClient(context.Background(), secret, v1alpha1.TLSAuthSecretRef{}, time.Second)
		Expect(err).To(MatchError("failed to parse CA certificate"))
	})
})

var _ = Describe("New", func() {
	ctx := context.Background()

	It("returns nothing without configuration", func() {
		auth, client, err := httpauth.New(ctx, nil, newSource(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(BeNil())
		Expect(client).To(BeNil())
	})

	It("fetches the secret and applies Basic auth", func() {
		src := newSource(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "basic-creds"},
			Data: map[string][]byte{
				httpauth.UsernameKey: []byte("from-secret"),
				httpauth.PasswordKey: []byte("secret-pass"),
			},
		})

		auth, _, err := httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			Basic: &v1alpha1.BasicAuth{SecretRef: v1alpha1.SecretReference{Name: "basic-creds"}},
		}, src, "")
		Expect(err).NotTo(HaveOccurred())

		req := newRequest()
		Expect(auth.Apply(ctx, req)).To(Succeed())
		Expect(req.Header.Get("Authorization")).To(Equal("Basic ZnJvbS1zZWNyZXQ6c2VjcmV0LXBhc3M=")) // base64("from-secret:secret-pass")
	})

	It("applies a GitLab private token", func() {
		src := newSource(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "gitlab"},
			Data:       map[string][]byte{httpauth.TokenKey: []byte("glpat-123")},
		})

		auth, _, err := httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			Bearer: &v1alpha1.BearerAuth{SecretRef: v1alpha1.SecretReference{Name: "gitlab"}, Header: "PRIVATE-TOKEN"},
		}, src, "")
		Expect(err).NotTo(HaveOccurred())

		req := newRequest()
		Expect(auth.Apply(ctx, req)).To(Succeed())
		Expect(req.Header.Get("PRIVATE-TOKEN")).To(Equal("glpat-123"))
		Expect(req.Header.Get("Authorization")).To(BeEmpty())
	})

	It("builds GitHub App and Azure service principal authenticators", func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())
		src := newSource(
			&corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: "github-app"},
				Data: map[string][]byte{
					httpauth.GitHubAppPrivateKeyKey: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
				},
			},
			&corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: "azure-sp"},
				Data: map[string][]byte{
					httpauth.ClientIDKey:     []byte("app"),
					httpauth.ClientSecretKey: []byte("secret"),
				},
			},
		)

		auth, _, err := httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			GitHubApp: &v1alpha1.GitHubAppAuth{AppID: 1, InstallationID: 2, SecretRef: v1alpha1.SecretReference{Name: "github-app"}},
		}, src, "https://github.example.com/api/v3")
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(BeAssignableToTypeOf(&githubscm.AppAuthenticator{}))

		auth, _, err = httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			AzureServicePrincipal: &v1alpha1.AzureServicePrincipalAuth{TenantID: "tenant", SecretRef: v1alpha1.SecretReference{Name: "azure-sp"}},
		}, src, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(BeAssignableToTypeOf(&azuredevops.TokenManager{}))
	})

	It("rejects more than one header method", func() {
		_, _, err := httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			Basic:  &v1alpha1.BasicAuth{SecretRef: v1alpha1.SecretReference{Name: "a"}},
			Bearer: &v1alpha1.BearerAuth{SecretRef: v1alpha1.SecretReference{Name: "b"}},
		}, newSource(), "")
		Expect(err).To(MatchError(ContainSubstring("only one of")))
	})

	It("returns an error when the secret does not exist", func() {
		_, _, err := httpauth.New(ctx, &v1alpha1.HttpAuthentication{
			Bearer: &v1alpha1.BearerAuth{SecretRef: v1alpha1.SecretReference{Name: "missing-secret"}},
		}, newSource(), "")
		Expect(err).To(MatchError(ContainSubstring("bearer auth secret")))
		Expect(err).To(MatchError(ContainSubstring("missing-secret")))
	})
})
