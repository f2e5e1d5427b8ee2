package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/tokenstore"
)

// Exchanger derives a Copilot API key from a GitHub access token.
type Exchanger interface {
	ExchangeToken(ctx context.Context, credential string) (*copilot.APIKey, error)
}

// ErrAPIKey marks failures that happened after the access token was persisted.
var ErrAPIKey = errors.New("deriving Copilot API key")

// Vault persists the outcome of a successful authorization: first the access token,
// then the API key derived from it.
type Vault struct {
	accessToken tokenstore.TokenStore
	apiKey      tokenstore.BlobStore
	exchanger   Exchanger
}

// NewVault creates a Vault.
func NewVault(accessToken tokenstore.TokenStore, apiKey tokenstore.BlobStore, exchanger Exchanger) (*Vault, error) {
	if accessToken == nil {
		return nil, errors.New("missing access token store")
	}
	if apiKey == nil {
		return nil, errors.New("missing API key store")
	}
	if exchanger == nil {
		return nil, errors.New("missing token exchanger")
	}
	return &Vault{accessToken: accessToken, apiKey: apiKey, exchanger: exchanger}, nil
}

// Store writes the access token, exchanges it and writes the API key. Without a
// persisted access token no exchange is attempted. Failures after that point wrap
// ErrAPIKey and leave the access token in place.
func (v *Vault) Store(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("no access token to store")
	}

	if err := v.accessToken.Write(ctx, token.AccessToken); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	slog.InfoContext(ctx, "access token saved")

	key, err := v.exchanger.ExchangeToken(ctx, token.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAPIKey, err)
	}

	if err := v.apiKey.Write(ctx, key.Raw); err != nil {
		return fmt.Errorf("%w: saving API key: %w", ErrAPIKey, err)
	}
	slog.InfoContext(ctx, "Copilot API key saved", "expires_at", key.ExpiresAt())

	return nil
}
