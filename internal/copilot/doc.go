// Package copilot talks to the GitHub Copilot backend: it trades a GitHub credential
// for a Copilot API key and lists the models that key can reach.
//
// Every request carries the editor identification headers the backend insists on
// (see Identity). The API key is returned as an opaque JSON blob; only the token and
// its expiry are read from it.
//
//	client := copilot.NewClient()
//	key, err := client.ExchangeToken(ctx, githubToken)
//	models, err := client.ListModels(ctx, key.Token())
package copilot
