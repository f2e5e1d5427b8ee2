package deviceflow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/deviceflow"
	"github.com/florianilch/copilot-auth/internal/tokenstore"
)

// fakeAuthorizer hands out sequential device codes and delegates polling.
type fakeAuthorizer struct {
	mu      sync.Mutex
	n       int
	initErr error
	poll    func(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error)

	// entered and release, when set, hold Initiate open until release is closed.
	entered chan struct{}
	release chan struct{}
}

func (a *fakeAuthorizer) Initiate(context.Context) (*oauth2.DeviceAuthResponse, error) {
	if a.release != nil {
		close(a.entered)
		<-a.release
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initErr != nil {
		return nil, a.initErr
	}
	a.n++
	return &oauth2.DeviceAuthResponse{
		DeviceCode:      "D" + string(rune('0'+a.n)),
		UserCode:        "ABCD-123" + string(rune('0'+a.n)),
		VerificationURI: "https://example.com/activate",
		Interval:        1,
	}, nil
}

func (a *fakeAuthorizer) Poll(ctx context.Context, da *oauth2.DeviceAuthResponse, progress func(deviceflow.Progress)) (*oauth2.Token, error) {
	progress(deviceflow.Progress{Attempt: 1, Interval: time.Second})
	return a.poll(ctx, da)
}

// blockUntilCancelled polls forever.
func blockUntilCancelled(ctx context.Context, _ *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	<-ctx.Done()
	return nil, context.Cause(ctx)
}

type fakeFinalizer struct {
	mu     sync.Mutex
	err    error
	tokens []string
}

func (f *fakeFinalizer) Store(_ context.Context, token *oauth2.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token.AccessToken)
	return f.err
}

// finished collects terminal sessions from WithOnFinish.
func finished(t *testing.T) (deviceflow.ManagerOption, func() deviceflow.Session) {
	t.Helper()

	ch := make(chan deviceflow.Session, 8)
	opt := deviceflow.WithOnFinish(func(s deviceflow.Session) { ch <- s })
	next := func() deviceflow.Session {
		t.Helper()
		select {
		case s := <-ch:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a session to finish")
			return deviceflow.Session{}
		}
	}
	return opt, next
}

func newTestManager(t *testing.T, auth deviceflow.Authorizer, fin deviceflow.Finalizer, opts ...deviceflow.ManagerOption) *deviceflow.Manager {
	t.Helper()

	m, err := deviceflow.NewManager(auth, fin, opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManagerOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		pollErr     error
		storeErr    error
		wantState   deviceflow.State
		wantError   bool
		wantWarning bool
		wantStored  bool
	}{
		{name: "success", wantState: deviceflow.StateSucceeded, wantStored: true},
		{name: "expired", pollErr: deviceflow.ErrExpired, wantState: deviceflow.StateExpired, wantError: true},
		{name: "poll limit", pollErr: deviceflow.ErrPollLimit, wantState: deviceflow.StateExpired, wantError: true},
		{name: "denied", pollErr: deviceflow.ErrAccessDenied, wantState: deviceflow.StateDenied, wantError: true},
		{name: "flow error", pollErr: &deviceflow.FlowError{Code: "unsupported_grant_type"}, wantState: deviceflow.StateFailed, wantError: true},
		{
			name:        "api key failure is a warning",
			storeErr:    errors.Join(deviceflow.ErrAPIKey, errors.New("401")),
			wantState:   deviceflow.StateSucceeded,
			wantWarning: true,
			wantStored:  true,
		},
		{
			name:       "access token failure fails the session",
			storeErr:   errors.New("saving access token: disk full"),
			wantState:  deviceflow.StateFailed,
			wantError:  true,
			wantStored: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuthorizer{poll: func(context.Context, *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
				if tt.pollErr != nil {
					return nil, tt.pollErr
				}
				return &oauth2.Token{AccessToken: "ghu_xyz"}, nil
			}}
			fin := &fakeFinalizer{err: tt.storeErr}
			onFinish, next := finished(t)
			m := newTestManager(t, auth, fin, onFinish)

			started, err := m.Begin(t.Context())
			if err != nil {
				t.Fatalf("Begin() error = %v", err)
			}
			if started.UserCode == "" || started.ID == "" {
				t.Fatalf("Begin() = %+v", started)
			}

			done := next()
			if done.ID != started.ID {
				t.Errorf("finished session %q, want %q", done.ID, started.ID)
			}
			if done.State != tt.wantState {
				t.Errorf("State = %q, want %q", done.State, tt.wantState)
			}
			if (done.Error != "") != tt.wantError {
				t.Errorf("Error = %q, wantError %v", done.Error, tt.wantError)
			}
			if (done.Warning != "") != tt.wantWarning {
				t.Errorf("Warning = %q, wantWarning %v", done.Warning, tt.wantWarning)
			}
			if stored := len(fin.tokens) > 0; stored != tt.wantStored {
				t.Errorf("stored = %v, want %v", stored, tt.wantStored)
			}

			snapshot, ok := m.Session(started.ID)
			if !ok || snapshot.State != tt.wantState {
				t.Errorf("Session() = %+v, %v", snapshot, ok)
			}
		})
	}
}

func TestManagerBeginFailure(t *testing.T) {
	auth := &fakeAuthorizer{initErr: errors.New("503")}
	m := newTestManager(t, auth, &fakeFinalizer{})

	if _, err := m.Begin(t.Context()); err == nil {
		t.Fatal("Begin() succeeded with a failing authorizer")
	}
	if n := m.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestManagerSupersedes(t *testing.T) {
	auth := &fakeAuthorizer{poll: blockUntilCancelled}
	onFinish, next := finished(t)
	m := newTestManager(t, auth, &fakeFinalizer{}, onFinish)

	first, err := m.Begin(t.Context())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	second, err := m.Begin(t.Context())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	cancelled := next()
	if cancelled.ID != first.ID {
		t.Fatalf("finished session %q, want the first one %q", cancelled.ID, first.ID)
	}
	if cancelled.State != deviceflow.StateCancelled {
		t.Errorf("State = %q, want %q", cancelled.State, deviceflow.StateCancelled)
	}
	if cancelled.Error != deviceflow.ErrSuperseded.Error() {
		t.Errorf("Error = %q, want %q", cancelled.Error, deviceflow.ErrSuperseded)
	}

	if n := m.Active(); n != 1 {
		t.Errorf("Active() = %d, want 1", n)
	}
	if s, _ := m.Session(second.ID); s.State.Terminal() {
		t.Errorf("second session is %q, want it still running", s.State)
	}

	if err := m.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if s := next(); s.ID != second.ID || s.State != deviceflow.StateCancelled {
		t.Errorf("after Shutdown: %+v", s)
	}
	if _, err := m.Begin(t.Context()); err == nil {
		t.Error("Begin() succeeded after Shutdown")
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := newTestManager(t, &fakeAuthorizer{}, &fakeFinalizer{})
	if _, ok := m.Session("nope"); ok {
		t.Error("Session() found an unknown id")
	}
}

func TestManagerEndToEnd(t *testing.T) {
	dir := t.TempDir()

	gh := &fakeGitHub{tokenBodies: []string{
		`{"error":"authorization_pending"}`,
		`{"error":"authorization_pending"}`,
		`{"access_token":"ghu_xyz","token_type":"bearer","scope":"read:user"}`,
	}}
	flow := newTestFlow(t, gh, deviceflow.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))

	var exchangeMu sync.Mutex
	var exchangeAuth string
	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchangeMu.Lock()
		exchangeAuth = r.Header.Get("Authorization")
		exchangeMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tid_abc","expires_at":1700000000}`))
	}))
	t.Cleanup(exchange.Close)

	accessPath := filepath.Join(dir, "github_copilot", "access-token")
	keyPath := filepath.Join(dir, "github_copilot", "api-key.json")
	accessStore, err := tokenstore.NewFileStore(accessPath)
	if err != nil {
		t.Fatal(err)
	}
	keyStore, err := tokenstore.NewJSONFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	vault, err := deviceflow.NewVault(accessStore, keyStore, copilot.NewClient(copilot.WithTokenURL(exchange.URL)))
	if err != nil {
		t.Fatal(err)
	}

	var polls []int
	var pollMu sync.Mutex
	onFinish, next := finished(t)
	m := newTestManager(t, flow, vault, onFinish, deviceflow.WithOnPoll(func(p deviceflow.Progress) {
		pollMu.Lock()
		polls = append(polls, p.Attempt)
		pollMu.Unlock()
	}))

	started, err := m.Begin(t.Context())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if started.UserCode != "ABCD-1234" || started.VerificationURI != "https://example.com/activate" {
		t.Errorf("Begin() = %+v", started)
	}

	done := next()
	if done.State != deviceflow.StateSucceeded {
		t.Fatalf("State = %q (error %q, warning %q)", done.State, done.Error, done.Warning)
	}
	if done.Polls != 3 {
		t.Errorf("Polls = %d, want 3", done.Polls)
	}

	access, err := os.ReadFile(accessPath)
	if err != nil {
		t.Fatalf("reading access token: %v", err)
	}
	if string(access) != "ghu_xyz" {
		t.Errorf("access-token = %q, want ghu_xyz", access)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("reading api key: %v", err)
	}
	if string(key) != `{"token":"tid_abc","expires_at":1700000000}` {
		t.Errorf("api-key.json = %s", key)
	}
	exchangeMu.Lock()
	if exchangeAuth != "Bearer ghu_xyz" {
		t.Errorf("exchange Authorization = %q, want %q", exchangeAuth, "Bearer ghu_xyz")
	}
	exchangeMu.Unlock()

	entries, err := os.ReadDir(filepath.Dir(accessPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("files written = %d, want 2", len(entries))
	}

	pollMu.Lock()
	defer pollMu.Unlock()
	if len(polls) != 3 {
		t.Errorf("poll callbacks = %v, want 3", polls)
	}
}

func TestManagerExpiredWritesNothing(t *testing.T) {
	dir := t.TempDir()

	gh := &fakeGitHub{tokenBodies: []string{`{"error":"authorization_pending"}`, `{"error":"expired_token"}`}}
	flow := newTestFlow(t, gh, deviceflow.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))

	accessStore, err := tokenstore.NewFileStore(filepath.Join(dir, "access-token"))
	if err != nil {
		t.Fatal(err)
	}
	keyStore, err := tokenstore.NewJSONFile(filepath.Join(dir, "api-key.json"))
	if err != nil {
		t.Fatal(err)
	}
	vault, err := deviceflow.NewVault(accessStore, keyStore, copilot.NewClient(copilot.WithTokenURL("http://127.0.0.1:0")))
	if err != nil {
		t.Fatal(err)
	}

	onFinish, next := finished(t)
	m := newTestManager(t, flow, vault, onFinish)
	if _, err := m.Begin(t.Context()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if s := next(); s.State != deviceflow.StateExpired {
		t.Fatalf("State = %q, want %q", s.State, deviceflow.StateExpired)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("files written = %d, want 0", len(entries))
	}
}

func TestManagerBeginDuringShutdown(t *testing.T) {
	auth := &fakeAuthorizer{
		poll:    blockUntilCancelled,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestManager(t, auth, &fakeFinalizer{})

	type result struct {
		session deviceflow.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.Begin(context.Background())
		done <- result{s, err}
	}()

	<-auth.entered
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	close(auth.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Begin() did not return")
	}
	if res.err == nil {
		t.Fatalf("Begin() started session %s after Shutdown", res.session.ID)
	}
	if n := m.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}
