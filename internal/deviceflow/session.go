package deviceflow

import "time"

// State is the lifecycle position of an authorization session.
type State string

const (
	StateInitiated State = "initiated"
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateExpired   State = "expired"
	StateDenied    State = "denied"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExpired, StateDenied, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Session is a snapshot of one authorization attempt. The device code itself is a
// secret and never leaves the Manager.
type Session struct {
	ID              string        `json:"id"`
	UserCode        string        `json:"user_code"`
	VerificationURI string        `json:"verification_uri"`
	State           State         `json:"state"`
	Interval        time.Duration `json:"-"`
	Polls           int           `json:"polls"`
	Error           string        `json:"error,omitempty"`
	Warning         string        `json:"warning,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ExpiresAt       time.Time     `json:"expires_at,omitzero"`
}
