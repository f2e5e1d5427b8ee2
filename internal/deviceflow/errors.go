package deviceflow

import (
	"errors"
	"fmt"
)

var (
	// ErrExpired means the device code expired before the user approved it.
	ErrExpired = errors.New("device code expired")

	// ErrAccessDenied means the user declined the authorization request.
	ErrAccessDenied = errors.New("authorization denied by user")

	// ErrPollLimit means polling gave up after the configured number of attempts.
	// It wraps ErrExpired: the device code is abandoned either way.
	ErrPollLimit = fmt.Errorf("%w: poll limit reached", ErrExpired)

	// ErrSuperseded is the cancellation cause of a poller replaced by a newer authorization.
	ErrSuperseded = errors.New("superseded by a newer authorization")
)

// FlowError is an OAuth error response the flow cannot recover from.
type FlowError struct {
	Code        string
	Description string
}

func (e *FlowError) Error() string {
	if e.Description == "" {
		return "device flow error: " + e.Code
	}
	return fmt.Sprintf("device flow error: %s: %s", e.Code, e.Description)
}
