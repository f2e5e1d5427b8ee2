package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Upstream endpoints.
const (
	DefaultTokenURL  = "https://api.github.com/copilot_internal/v2/token"
	DefaultModelsURL = "https://api.githubcopilot.com/models"
)

// maxResponseBytes bounds how much of an upstream response is read.
const maxResponseBytes = 1 << 20

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	tokenURL  string
	modelsURL string
	identity  Identity
	transport http.RoundTripper
	timeout   time.Duration
}

// WithTokenURL overrides the token exchange endpoint.
func WithTokenURL(u string) Option {
	return func(c *clientConfig) {
		c.tokenURL = u
	}
}

// WithModelsURL overrides the models endpoint.
func WithModelsURL(u string) Option {
	return func(c *clientConfig) {
		c.modelsURL = u
	}
}

// WithIdentity sets the editor identification headers.
func WithIdentity(id Identity) Option {
	return func(c *clientConfig) {
		c.identity = id
	}
}

// WithTransport sets the base transport. If not provided, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.transport = rt
	}
}

// WithTimeout bounds each request end to end.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// Client calls the Copilot token exchange and models endpoints.
type Client struct {
	tokenURL  string
	modelsURL string
	transport http.RoundTripper
	timeout   time.Duration
}

// NewClient creates a Client with the upstream defaults.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		tokenURL:  DefaultTokenURL,
		modelsURL: DefaultModelsURL,
		identity:  DefaultIdentity(),
		transport: http.DefaultTransport,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		tokenURL:  cfg.tokenURL,
		modelsURL: cfg.modelsURL,
		transport: &IdentityTransport{Base: cfg.transport, Identity: cfg.identity},
		timeout:   cfg.timeout,
	}
}

// StatusError reports a non-200 answer from an upstream endpoint.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// APIKey is the Copilot credential returned by the token exchange endpoint.
// The document is kept verbatim; LiteLLM reads it from disk as-is.
type APIKey struct {
	Raw json.RawMessage
}

// Token returns the bearer token used against api.githubcopilot.com.
func (k *APIKey) Token() string {
	return gjson.GetBytes(k.Raw, "token").String()
}

// ExpiresAt returns the expiry advertised by the backend, or the zero time if absent.
func (k *APIKey) ExpiresAt() time.Time {
	exp := gjson.GetBytes(k.Raw, "expires_at")
	if !exp.Exists() || exp.Int() == 0 {
		return time.Time{}
	}
	return time.Unix(exp.Int(), 0)
}

// ExchangeToken trades a GitHub credential (personal access token or OAuth access
// token) for a Copilot API key.
func (c *Client) ExchangeToken(ctx context.Context, credential string) (*APIKey, error) {
	if credential == "" {
		return nil, errors.New("empty GitHub credential")
	}

	body, err := c.get(ctx, c.tokenURL, credential)
	if err != nil {
		return nil, fmt.Errorf("exchanging token: %w", err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("exchanging token: invalid JSON from %s", c.tokenURL)
	}
	key := &APIKey{Raw: json.RawMessage(body)}
	if key.Token() == "" {
		return nil, fmt.Errorf("exchanging token: response from %s has no token", c.tokenURL)
	}
	return key, nil
}

// get performs an authenticated GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, url, bearer string) ([]byte, error) {
	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer}),
			Base:   c.transport,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
