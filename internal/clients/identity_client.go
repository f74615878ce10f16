package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/config"
)

// Identity is the external identity service's view of a wallet address
type Identity struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
}

// IdentityResolver resolves wallet addresses to platform accounts. Identity
// management itself is an external collaborator; the core only needs the
// active check before accepting an order.
type IdentityResolver interface {
	Resolve(ctx context.Context, address string) (*Identity, error)
}

// ErrIdentityNotFound is returned when no account matches the address
var ErrIdentityNotFound = fmt.Errorf("identity not found")

// identityClient implements IdentityResolver over the identity service's
// HTTP API
type identityClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIdentityClient creates an IdentityResolver for the configured service
func NewIdentityClient(cfg *config.IdentityConfig) IdentityResolver {
	return &identityClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// Resolve looks up the account behind a wallet address
func (c *identityClient) Resolve(ctx context.Context, address string) (*Identity, error) {
	url := fmt.Sprintf("%s/api/v1/identities/%s", c.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrIdentityNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return &identity, nil
}
