package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/smoke"
)

// ModelsFormat selects the output of ListModels.
type ModelsFormat string

const (
	ModelsFormatTable ModelsFormat = "table"
	ModelsFormatJSON  ModelsFormat = "json"
)

// ListModels exchanges the stored GitHub credential for an API token and writes the
// models it can reach.
func ListModels(ctx context.Context, cfg *Config, w io.Writer, format ModelsFormat) error {
	credentials, err := cfg.Storage.NewCredentialSource()
	if err != nil {
		return fmt.Errorf("failed to create credential source: %w", err)
	}

	apiKeys, err := cfg.Storage.NewAPIKeyStore()
	if err != nil {
		return fmt.Errorf("failed to create API key store: %w", err)
	}

	client := cfg.GitHub.NewCopilotClient()
	ts, err := NewServiceTokenSource(ctx, credentials, client, WithAPIKeyCache(apiKeys))
	if err != nil {
		return err
	}

	token, err := ts.Token()
	if err != nil {
		var status *copilot.StatusError
		if errors.As(err, &status) {
			return fmt.Errorf("GitHub rejected the credential (HTTP %d), re-authorize via the serve command: %w", status.StatusCode, err)
		}
		return fmt.Errorf("no Copilot API token (checked %s and $%s): %w", cfg.Storage.AccessTokenPath(), cfg.Storage.EnvKey, err)
	}

	models, err := client.ListModels(ctx, token.AccessToken)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "listed models", "count", len(models))

	switch format {
	case ModelsFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		type entry struct {
			copilot.Model
			Capability copilot.Capability `json:"capability"`
		}
		entries := make([]entry, len(models))
		for i, m := range models {
			entries[i] = entry{Model: m, Capability: copilot.GuessCapability(m.ID)}
		}
		return enc.Encode(entries)
	default:
		return copilot.WriteTable(w, models)
	}
}

// Smoke sends one completion through the configured proxy and writes the reply.
func Smoke(ctx context.Context, cfg *Config, w io.Writer) error {
	res, err := smoke.Run(ctx, smoke.Config{
		BaseURL:   cfg.Smoke.BaseURL,
		APIKey:    cfg.Smoke.APIKey,
		Model:     cfg.Smoke.Model,
		Prompt:    cfg.Smoke.Prompt,
		Protocol:  string(cfg.Smoke.Protocol),
		MaxTokens: cfg.Smoke.MaxTokens,
		Timeout:   cfg.Smoke.Timeout,
	})
	if err != nil {
		return fmt.Errorf("smoke test against %s failed: %w", cfg.Smoke.BaseURL, err)
	}

	slog.InfoContext(ctx, "smoke test succeeded", "protocol", res.Protocol, "model", res.Model, "elapsed", res.Elapsed)
	_, err = fmt.Fprintln(w, res.Reply)
	return err
}
