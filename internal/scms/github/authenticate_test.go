package github_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	githubscm "github.com/argoproj-labs/commit-status-publisher/internal/scms/github"
)

var _ = Describe("AppAuthenticator", func() {
	var (
		server     *httptest.Server
		privateKey []byte
		exchanges  atomic.Int32
	)

	BeforeEach(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())
		privateKey = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

		exchanges.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/app/installations/67890/access_tokens" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			exchanges.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_installation",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		}))
		DeferCleanup(server.Close)
	})

	It("applies a cached installation token", func() {
		auth, err := githubscm.NewAppAuthenticator(server.URL+"/", 12345, 67890, privateKey)
		Expect(err).NotTo(HaveOccurred())

		for range 2 {
			req := httptest.NewRequest(http.MethodPost, "https://api.github.com/repos/owner/project/statuses/abc123", nil)
			Expect(auth.Apply(context.Background(), req)).To(Succeed())
			Expect(req.Header.Get("Authorization")).To(Equal("token ghs_installation"))
		}
		Expect(exchanges.Load()).To(Equal(int32(1)))
	})

	It("rejects invalid private keys", func() {
		_, err := githubscm.NewAppAuthenticator("", 12345, 67890, []byte("not a key"))
		Expect(err).To(MatchError(ContainSubstring("github app transport")))
	})
})
