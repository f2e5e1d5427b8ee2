package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/deviceflow"
	"github.com/florianilch/copilot-auth/internal/tokenstore"
)

// minCachedValidity is the remaining lifetime a stored API key needs to be reused.
const minCachedValidity = time.Minute

// ServiceTokenSourceOption configures a ServiceTokenSource.
type ServiceTokenSourceOption func(*ServiceTokenSource)

// WithAPIKeyCache reuses the API key document in store while it is unexpired.
func WithAPIKeyCache(store tokenstore.BlobStore) ServiceTokenSourceOption {
	return func(s *ServiceTokenSource) {
		s.apiKeys = store
	}
}

// ServiceTokenSource yields Copilot API tokens derived from a stored GitHub credential.
// The credential is read once, on the first Token call. Exchanged tokens are reused
// until shortly before their advertised expiry.
//
// Like the sources of x/oauth2, it performs all I/O with the context it was created with.
type ServiceTokenSource struct {
	ctx         context.Context
	credentials tokenstore.TokenStore
	exchanger   deviceflow.Exchanger
	apiKeys     tokenstore.BlobStore
	now         func() time.Time

	credential func() (string, error)
	cached     oauth2.TokenSource
}

// Compile-time check to ensure ServiceTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*ServiceTokenSource)(nil)

// NewServiceTokenSource creates a ServiceTokenSource.
// No I/O is performed until the first Token call.
func NewServiceTokenSource(ctx context.Context, credentials tokenstore.TokenStore, exchanger deviceflow.Exchanger, opts ...ServiceTokenSourceOption) (*ServiceTokenSource, error) {
	if credentials == nil {
		return nil, fmt.Errorf("missing credential store")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("missing token exchanger")
	}

	s := &ServiceTokenSource{
		ctx:         ctx,
		credentials: credentials,
		exchanger:   exchanger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.credential = sync.OnceValues(s.readCredential)
	s.cached = oauth2.ReuseTokenSource(nil, exchangeFunc(s.exchange))

	return s, nil
}

// readCredential performs the one-time credential lookup.
func (s *ServiceTokenSource) readCredential() (string, error) {
	credential, err := s.credentials.Read(s.ctx)
	if err != nil {
		return "", fmt.Errorf("no GitHub credential found: %w", err)
	}
	return credential, nil
}

// exchange returns the stored API key when it is still good, and otherwise trades
// the credential for a fresh one.
func (s *ServiceTokenSource) exchange() (*oauth2.Token, error) {
	if key := s.storedKey(); key != nil {
		slog.DebugContext(s.ctx, "reusing stored Copilot token", "expires_at", key.ExpiresAt())
		return apiKeyToken(key), nil
	}

	credential, err := s.credential()
	if err != nil {
		return nil, err
	}

	key, err := s.exchanger.ExchangeToken(s.ctx, credential)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(s.ctx, "exchanged GitHub credential for Copilot token", "expires_at", key.ExpiresAt())

	return apiKeyToken(key), nil
}

// storedKey reads the cached API key document. Missing, unreadable or nearly expired
// documents yield nil.
func (s *ServiceTokenSource) storedKey() *copilot.APIKey {
	if s.apiKeys == nil {
		return nil
	}

	raw, err := s.apiKeys.Read(s.ctx)
	if err != nil {
		slog.DebugContext(s.ctx, "no usable stored Copilot token", "error", err)
		return nil
	}

	key := &copilot.APIKey{Raw: raw}
	if key.Token() == "" || key.ExpiresAt().IsZero() || key.ExpiresAt().Before(s.now().Add(minCachedValidity)) {
		return nil
	}
	return key
}

func apiKeyToken(key *copilot.APIKey) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: key.Token(),
		TokenType:   "Bearer",
		Expiry:      key.ExpiresAt(),
	}
}

// Token returns a valid API token, exchanging the credential when the cached one expires.
func (s *ServiceTokenSource) Token() (*oauth2.Token, error) {
	return s.cached.Token()
}

// exchangeFunc adapts a function to oauth2.TokenSource.
type exchangeFunc func() (*oauth2.Token, error)

func (f exchangeFunc) Token() (*oauth2.Token, error) {
	return f()
}
