package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// historySize bounds how many finished sessions are kept for status lookups.
const historySize = 32

// Authorizer is the upstream half of the device flow.
type Authorizer interface {
	Initiate(ctx context.Context) (*oauth2.DeviceAuthResponse, error)
	Poll(ctx context.Context, da *oauth2.DeviceAuthResponse, progress func(Progress)) (*oauth2.Token, error)
}

// Finalizer persists the token of a successful authorization.
type Finalizer interface {
	Store(ctx context.Context, token *oauth2.Token) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOnPoll is called for every poll attempt.
func WithOnPoll(fn func(Progress)) ManagerOption {
	return func(m *Manager) {
		m.onPoll = fn
	}
}

// WithOnFinish is called once per session when it reaches a terminal state.
func WithOnFinish(fn func(Session)) ManagerOption {
	return func(m *Manager) {
		m.onFinish = fn
	}
}

// task is one background poller.
type task struct {
	deviceCode string
	sessionID  string
	cancel     context.CancelCauseFunc
}

// Manager runs device authorizations in the background. At most one poller is active:
// a successfully initiated authorization cancels every older poller.
type Manager struct {
	authorizer Authorizer
	finalizer  Finalizer
	onPoll     func(Progress)
	onFinish   func(Session)

	root     context.Context
	stopRoot context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*task // keyed by device code
	sessions map[string]*Session
	order    []string // session ids, oldest first
}

// NewManager creates a Manager.
func NewManager(authorizer Authorizer, finalizer Finalizer, opts ...ManagerOption) (*Manager, error) {
	if authorizer == nil {
		return nil, errors.New("missing authorizer")
	}
	if finalizer == nil {
		return nil, errors.New("missing finalizer")
	}

	root, stop := context.WithCancel(context.Background())
	m := &Manager{
		authorizer: authorizer,
		finalizer:  finalizer,
		root:       root,
		stopRoot:   stop,
		tasks:      make(map[string]*task),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Begin initiates a device authorization and starts polling in the background.
// It returns once the user code is known; ctx only bounds the initiation.
func (m *Manager) Begin(ctx context.Context) (Session, error) {
	if err := m.root.Err(); err != nil {
		return Session{}, fmt.Errorf("manager stopped: %w", err)
	}

	da, err := m.authorizer.Initiate(ctx)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	session := &Session{
		ID:              uuid.NewString(),
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		State:           StateInitiated,
		Interval:        time.Duration(da.Interval) * time.Second,
		StartedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       da.Expiry,
	}

	// Background work must outlive the request but keep its trace for log correlation.
	taskCtx := trace.ContextWithSpanContext(m.root, trace.SpanContextFromContext(ctx))
	taskCtx, cancel := context.WithCancelCause(taskCtx)
	t := &task{deviceCode: da.DeviceCode, sessionID: session.ID, cancel: cancel}

	m.mu.Lock()
	// Shutdown may have started while the device code was requested.
	if err := m.root.Err(); err != nil {
		m.mu.Unlock()
		cancel(err)
		return Session{}, fmt.Errorf("manager stopped: %w", err)
	}
	for _, old := range m.tasks {
		old.cancel(ErrSuperseded)
	}
	m.tasks[da.DeviceCode] = t
	m.remember(session)
	snapshot := *session
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(taskCtx, t, da)

	slog.InfoContext(ctx, "device authorization started", "session_id", session.ID, "user_code", da.UserCode, "verification_uri", da.VerificationURI)
	return snapshot, nil
}

// Session returns a snapshot of the session with the given id.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Active returns the number of running pollers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown cancels every poller and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Under mu so that no Begin adds a poller once Wait has started.
	m.mu.Lock()
	m.stopRoot()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pollers: %w", ctx.Err())
	}
}

// run polls until a terminal state and records the outcome.
func (m *Manager) run(ctx context.Context, t *task, da *oauth2.DeviceAuthResponse) {
	defer m.wg.Done()
	defer t.cancel(nil)

	log := slog.With("session_id", t.sessionID)
	m.update(t.sessionID, func(s *Session) { s.State = StatePolling })

	token, err := m.authorizer.Poll(ctx, da, func(p Progress) {
		m.update(t.sessionID, func(s *Session) {
			s.Polls = p.Attempt
			s.Interval = p.Interval
		})
		if m.onPoll != nil {
			m.onPoll(p)
		}
	})

	state, storeErr := StateSucceeded, error(nil)
	switch {
	case err == nil:
		// A supersede arriving now must not abort the writes.
		storeErr = m.finalizer.Store(context.WithoutCancel(ctx), token)
		if storeErr != nil && !errors.Is(storeErr, ErrAPIKey) {
			state = StateFailed
		}
	case errors.Is(context.Cause(ctx), ErrSuperseded):
		state, err = StateCancelled, ErrSuperseded
	case errors.Is(err, ErrExpired):
		state = StateExpired
	case errors.Is(err, ErrAccessDenied):
		state = StateDenied
	case ctx.Err() != nil:
		state = StateCancelled
	default:
		state = StateFailed
	}

	m.mu.Lock()
	if current, ok := m.tasks[t.deviceCode]; ok && current == t {
		delete(m.tasks, t.deviceCode)
	}
	s := m.sessions[t.sessionID]
	if s != nil {
		s.State = state
		s.UpdatedAt = time.Now()
		if err != nil {
			s.Error = err.Error()
		}
		if storeErr != nil {
			if state == StateFailed {
				s.Error = storeErr.Error()
			} else {
				s.Warning = storeErr.Error()
			}
		}
	}
	var finished Session
	if s != nil {
		finished = *s
	}
	m.mu.Unlock()

	switch state {
	case StateSucceeded:
		if storeErr != nil {
			log.WarnContext(ctx, "device authorization succeeded, API key not saved", "error", storeErr)
		} else {
			log.InfoContext(ctx, "device authorization succeeded")
		}
	case StateCancelled:
		log.InfoContext(ctx, "device authorization cancelled", "reason", err)
	default:
		log.ErrorContext(ctx, "device authorization ended", "state", state, "error", errors.Join(err, storeErr))
	}

	if m.onFinish != nil && s != nil {
		m.onFinish(finished)
	}
}

// update mutates a session under the lock.
func (m *Manager) update(id string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		fn(s)
		s.UpdatedAt = time.Now()
	}
}

// remember stores a session and evicts the oldest finished ones beyond historySize.
// Callers hold m.mu.
func (m *Manager) remember(s *Session) {
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)

	for len(m.order) > historySize {
		evicted := false
		for i, id := range m.order {
			if m.sessions[id].State.Terminal() {
				delete(m.sessions, id)
				m.order = append(m.order[:i], m.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
