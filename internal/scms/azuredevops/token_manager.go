package azuredevops

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// azureDevOpsScope is the OAuth2 scope required for Azure DevOps API access
	// This guid is fixed for Azure DevOps and should not be changed, see https://learn.microsoft.com/en-us/rest/api/azure/devops/tokens
	azureDevOpsScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

	// refreshMargin renews tokens before they expire so in-flight requests do not race the expiry.
	refreshMargin = 5 * time.Minute
)

// TokenManager caches Microsoft Entra access tokens for Azure DevOps and adds
// them to outgoing requests.
type TokenManager struct {
	expiresAt   time.Time
	credential  azcore.TokenCredential
	cachedToken string
	scope       string
	mutex       sync.RWMutex
}

// NewTokenManager creates a token manager requesting the Azure DevOps scope from credential.
func NewTokenManager(credential azcore.TokenCredential) *TokenManager {
	return &TokenManager{
		credential: credential,
		scope:      azureDevOpsScope,
	}
}

// GetToken retrieves a valid access token, refreshing if necessary
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	tm.mutex.RLock()
	if tm.validLocked() {
		token := tm.cachedToken
		tm.mutex.RUnlock()
		return token, nil
	}
	tm.mutex.RUnlock()

	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	// Double-check after acquiring write lock
	if tm.validLocked() {
		return tm.cachedToken, nil
	}

	tokenResult, err := tm.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{tm.scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	tm.cachedToken = tokenResult.Token
	tm.expiresAt = tokenResult.ExpiresOn
	log.FromContext(ctx).V(4).Info("Refreshed Azure DevOps access token", "expiresAt", tm.expiresAt)

	return tm.cachedToken, nil
}

// IsValid checks if the current token is still valid
func (tm *TokenManager) IsValid() bool {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	return tm.validLocked()
}

func (tm *TokenManager) validLocked() bool {
	return tm.cachedToken != "" && time.Now().Before(tm.expiresAt.Add(-refreshMargin))
}

// Apply sets the bearer token on req.
func (tm *TokenManager) Apply(ctx context.Context, req *http.Request) error {
	token, err := tm.GetToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
