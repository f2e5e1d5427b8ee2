package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the GitHub credential in the OS credential manager
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux).
type KeyringStore struct {
	service string
	user    string
}

var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore addresses the keyring entry service/user.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	switch {
	case service == "":
		return nil, fmt.Errorf("keyring service cannot be empty")
	case user == "":
		return nil, fmt.Errorf("keyring user cannot be empty")
	}

	return &KeyringStore{service: service, user: user}, nil
}

// String names the entry for error messages.
func (k *KeyringStore) String() string {
	return "keyring " + k.service + "/" + k.user
}

// Read returns the stored credential. A missing entry and an empty one are both errors.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: no credential stored", k)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", k, err)
	}

	token := strings.TrimSpace(secret)
	if token == "" {
		return "", fmt.Errorf("%s: credential is empty", k)
	}
	return token, nil
}

// Write replaces the stored credential.
func (k *KeyringStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s: refusing to store an empty credential", k)
	}
	if err := keyring.Set(k.service, k.user, token); err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	return nil
}
