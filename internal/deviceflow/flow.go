package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
)

// Config holds the device flow parameters. Zero fields fall back to DefaultConfig.
type Config struct {
	ClientID string
	Scopes   []string
	Endpoint oauth2.Endpoint

	// InitAttempts bounds device code requests, first attempt included.
	InitAttempts int
	// RetryBase and RetryStep define the linear delay before retry n: base + (n-1)*step.
	// Both must be positive so that delays strictly increase.
	RetryBase time.Duration
	RetryStep time.Duration

	// DefaultInterval is used when the device code response carries no interval.
	DefaultInterval time.Duration
	// SlowDownStep is added to the interval on every slow_down answer.
	SlowDownStep time.Duration
	// MaxPolls bounds token requests per device code.
	MaxPolls int

	// RequestTimeout bounds each upstream request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the parameters GitHub's Copilot client uses.
func DefaultConfig() Config {
	return Config{
		ClientID:        ClientID,
		Scopes:          []string{Scope},
		Endpoint:        Endpoint,
		InitAttempts:    4,
		RetryBase:       2 * time.Second,
		RetryStep:       time.Second,
		DefaultInterval: 5 * time.Second,
		SlowDownStep:    5 * time.Second,
		MaxPolls:        60,
		RequestTimeout:  15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if len(c.Scopes) == 0 {
		c.Scopes = d.Scopes
	}
	if c.Endpoint.DeviceAuthURL == "" {
		c.Endpoint.DeviceAuthURL = d.Endpoint.DeviceAuthURL
	}
	if c.Endpoint.TokenURL == "" {
		c.Endpoint.TokenURL = d.Endpoint.TokenURL
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = d.InitAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryStep <= 0 {
		c.RetryStep = d.RetryStep
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = d.DefaultInterval
	}
	if c.SlowDownStep <= 0 {
		c.SlowDownStep = d.SlowDownStep
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// Option configures a Flow.
type Option func(*Flow)

// WithTransport sets the base transport for upstream requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Flow) {
		f.base = rt
	}
}

// WithSleep replaces the wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Flow) {
		f.sleep = sleep
	}
}

// WithClock replaces the time source used for the device code deadline.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// WithRetryObserver is called before every initiation retry with the attempt that
// failed (1-based), the delay about to be waited and the failure.
func WithRetryObserver(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(f *Flow) {
		f.onRetry = fn
	}
}

// Progress describes one poll attempt.
type Progress struct {
	Attempt  int
	Interval time.Duration
}

// Flow performs GitHub's device authorization grant.
type Flow struct {
	cfg     Config
	oauth   *oauth2.Config
	base    http.RoundTripper
	client  *http.Client
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewFlow creates a Flow. Zero Config fields take their defaults.
func NewFlow(cfg Config, opts ...Option) *Flow {
	cfg = cfg.withDefaults()

	f := &Flow{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: cfg.Endpoint,
		},
		base:  http.DefaultTransport,
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.client = &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: &jsonBodyTransport{base: f.base},
	}
	return f
}

// Initiate requests a device and user code. HTTP 503 answers and transport errors are
// retried with linear backoff up to Config.InitAttempts attempts; any other failure
// is returned at once.
func (f *Flow) Initiate(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	// x/oauth2 picks the HTTP client up from the context
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, f.client)

	attempt := 0
	operation := func() (*oauth2.DeviceAuthResponse, error) {
		attempt++
		da, err := f.oauth.DeviceAuth(oauthCtx)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
				retrieveErr.Response.StatusCode != http.StatusServiceUnavailable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if da.DeviceCode == "" || da.UserCode == "" {
			return nil, backoff.Permanent(errors.New("device code response is missing device_code or user_code"))
		}
		return da, nil
	}

	da, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{base: f.cfg.RetryBase, step: f.cfg.RetryStep}),
		backoff.WithMaxTries(uint(f.cfg.InitAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.WarnContext(ctx, "device code request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			if f.onRetry != nil {
				f.onRetry(attempt, delay, err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("requesting device code after %d attempt(s): %w", attempt, err)
	}

	if da.Interval <= 0 {
		da.Interval = int64(f.cfg.DefaultInterval / time.Second)
	}
	return da, nil
}

// Poll waits for the user to approve the device code and returns the access token.
// It sleeps for the current interval before every request. progress may be nil.
func (f *Flow) Poll(ctx context.Context, da *oauth2.DeviceAuthResponse, progress func(Progress)) (*oauth2.Token, error) {
	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = f.cfg.DefaultInterval
	}

	for attempt := 1; attempt <= f.cfg.MaxPolls; attempt++ {
		if err := f.sleep(ctx, interval); err != nil {
			return nil, err
		}
		if !da.Expiry.IsZero() && f.now().After(da.Expiry) {
			return nil, ErrExpired
		}
		if progress != nil {
			progress(Progress{Attempt: attempt, Interval: interval})
		}

		res, err := f.requestToken(ctx, da.DeviceCode)
		if err != nil {
			return nil, fmt.Errorf("polling for access token: %w", err)
		}

		switch res.Error {
		case "":
			if res.AccessToken != "" {
				token := &oauth2.Token{
					AccessToken: res.AccessToken,
					TokenType:   res.TokenType,
				}
				return token.WithExtra(map[string]any{"scope": res.Scope}), nil
			}
			slog.DebugContext(ctx, "token response without token or error, polling again", "attempt", attempt)
		case "authorization_pending":
		case "slow_down":
			interval += f.cfg.SlowDownStep
			slog.DebugContext(ctx, "slowing down polling", "interval", interval)
		case "expired_token":
			return nil, ErrExpired
		case "access_denied":
			return nil, ErrAccessDenied
		default:
			return nil, &FlowError{Code: res.Error, Description: res.ErrorDescription}
		}
	}

	return nil, ErrPollLimit
}

// tokenResponse is the union of success and error answers from the token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// requestToken performs a single token request for the device code.
func (f *Flow) requestToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":   {f.oauth.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {GrantType},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var res tokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding token response (status %d): %w", resp.StatusCode, err)
	}
	if res.Error == "" && res.AccessToken == "" && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}
	return &res, nil
}

// linearBackOff implements backoff.BackOff with delays base, base+step, base+2*step, ...
type linearBackOff struct {
	base time.Duration
	step time.Duration
	n    int
}

// Compile-time check that linearBackOff implements backoff.BackOff.
var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.base + time.Duration(b.n)*b.step
	b.n++
	return d
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
