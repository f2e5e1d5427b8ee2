package copilot

import "net/http"

// Default identity values. The backend rejects requests from unknown editors,
// so these mirror a released VS Code Copilot build.
const (
	DefaultEditorVersion       = "vscode/1.85.1"
	DefaultEditorPluginVersion = "copilot/1.155.0"
	DefaultUserAgent           = "GithubCopilot/1.155.0"
)

// Identity holds the client identification headers sent with every request.
type Identity struct {
	EditorVersion       string
	EditorPluginVersion string
	UserAgent           string
}

// DefaultIdentity returns the identity of the reference editor build.
func DefaultIdentity() Identity {
	return Identity{
		EditorVersion:       DefaultEditorVersion,
		EditorPluginVersion: DefaultEditorPluginVersion,
		UserAgent:           DefaultUserAgent,
	}
}

// IdentityTransport is an http.RoundTripper that stamps Identity headers onto outbound requests.
type IdentityTransport struct {
	Base     http.RoundTripper
	Identity Identity
}

// Compile-time check that IdentityTransport implements http.RoundTripper.
var _ http.RoundTripper = (*IdentityTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *IdentityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// RoundTrippers must not modify the caller's request
	newReq := req.Clone(req.Context())

	if newReq.Header.Get("Accept") == "" {
		newReq.Header.Set("Accept", "application/json")
	}
	if t.Identity.EditorVersion != "" {
		newReq.Header.Set("Editor-Version", t.Identity.EditorVersion)
	}
	if t.Identity.EditorPluginVersion != "" {
		newReq.Header.Set("Editor-Plugin-Version", t.Identity.EditorPluginVersion)
	}
	if t.Identity.UserAgent != "" {
		newReq.Header.Set("User-Agent", t.Identity.UserAgent)
	}

	return base.RoundTrip(newReq)
}
