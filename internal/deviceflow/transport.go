package deviceflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// jsonBodyTransport re-encodes form-encoded POST bodies as JSON. x/oauth2 always sends
// forms; GitHub's device endpoints accept both, and the Copilot tooling uses JSON.
// Other requests pass through unchanged.
type jsonBodyTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonBodyTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonBodyTransport)(nil)

// RoundTrip converts form bodies to JSON before delegating to the base transport.
func (t *jsonBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	if req.Body == nil || !isForm(req.Header.Get("Content-Type")) {
		return base.RoundTrip(req)
	}

	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // RFC 6749 parameters are single-valued
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonBody)), nil
	}
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return base.RoundTrip(newReq)
}

func isForm(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
