package deviceflow

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	// ClientID is the public OAuth client identifier LiteLLM uses for GitHub Copilot.
	ClientID = "Iv1.b507a08c87ecfe98"

	// GrantType is the device code grant type from RFC 8628 section 3.4.
	GrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// Scope is the OAuth scope requested for Copilot access.
	Scope = "read:user"
)

// Endpoint is GitHub's OAuth endpoint with the client id sent in the request body.
var Endpoint = oauth2.Endpoint{
	AuthURL:       github.Endpoint.AuthURL,
	DeviceAuthURL: github.Endpoint.DeviceAuthURL,
	TokenURL:      github.Endpoint.TokenURL,
	AuthStyle:     oauth2.AuthStyleInParams,
}
