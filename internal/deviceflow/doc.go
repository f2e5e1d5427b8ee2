// Package deviceflow drives GitHub's OAuth 2.0 Device Authorization Grant (RFC 8628)
// for the Copilot client and persists the resulting credentials.
//
// A Flow performs the two upstream steps: Initiate obtains a device and user code,
// retrying while GitHub answers 503; Poll waits for the user to approve and returns
// the access token. Poll classifies every upstream answer explicitly:
//
//	authorization_pending  keep polling
//	slow_down              keep polling, interval += 5s
//	expired_token          ErrExpired
//	access_denied          ErrAccessDenied
//	anything else          *FlowError
//
// A Vault writes the access token, then derives and writes the Copilot API key.
//
// A Manager ties both together for a server: it runs one background poller at a time,
// cancels a stale poller when a newer authorization starts, and keeps session snapshots
// for status reporting.
package deviceflow
