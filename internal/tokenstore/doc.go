// Package tokenstore provides persistent storage abstractions for GitHub credentials
// and the Copilot API key derived from them.
//
// Backends:
//   - File: plain-text token file with atomic writes and 0600 permissions
//   - JSONFile: opaque JSON document (the Copilot api-key.json blob), same write discipline
//   - Env: read-only environment variable access
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Chain combines backends: reads fall through in order, writes fan out to every member.
package tokenstore
