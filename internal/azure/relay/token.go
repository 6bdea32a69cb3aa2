package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// relayScope is the Azure AD scope accepted by Azure Relay
const relayScope = "https://relay.azure.net/.default"

// TokenProvider supplies the token presented to Azure Relay
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// AADTokenProvider provides Azure AD tokens for Azure Relay.
// It caches tokens and refreshes them proactively before expiry.
type AADTokenProvider struct {
	credential azcore.TokenCredential
	scope      string
	mu         sync.RWMutex
	token      *azcore.AccessToken
}

// NewAADTokenProvider creates a token provider. A nil credential uses
// DefaultAzureCredential, which tries environment variables, Managed Identity
// and the Azure CLI in turn.
func NewAADTokenProvider(credential azcore.TokenCredential) (*AADTokenProvider, error) {
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential: %w", err)
		}
		credential = cred
	}

	return &AADTokenProvider{
		credential: credential,
		scope:      relayScope,
	}, nil
}

// GetToken returns a valid Azure AD access token, using cache when possible
func (p *AADTokenProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		token := p.token.Token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		return p.token.Token, nil
	}

	tokenResponse, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	p.token = &tokenResponse
	return tokenResponse.Token, nil
}

var (
	_ TokenProvider = (*AADTokenProvider)(nil)
	_ TokenProvider = (*SASTokenProvider)(nil)
)
