package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// Chain combines several stores. Read returns the first token found, in order;
// Write persists to every member and stops at the first failure so that earlier
// members (the primary store) are always written first.
type Chain []TokenStore

// Compile-time check to ensure Chain implements TokenStore
var _ TokenStore = (Chain)(nil)

// Read tries each store in order and returns the first token found.
// When every store fails the individual errors are joined.
func (c Chain) Read(ctx context.Context) (string, error) {
	if len(c) == 0 {
		return "", errors.New("no token stores configured")
	}

	var errs []error
	for _, store := range c {
		token, err := store.Read(ctx)
		if err == nil {
			return token, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("no token found: %w", errors.Join(errs...))
}

// Write persists the token to every store in order.
func (c Chain) Write(ctx context.Context, token string) error {
	if len(c) == 0 {
		return errors.New("no token stores configured")
	}

	for i, store := range c {
		if err := store.Write(ctx, token); err != nil {
			return fmt.Errorf("token store %d: %w", i, err)
		}
	}
	return nil
}
