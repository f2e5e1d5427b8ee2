package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Model is one entry of the models endpoint. Fields beyond ID are informational.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// Capability is a coarse model category.
type Capability string

const (
	CapabilityEmbeddings Capability = "Embeddings"
	CapabilityChat       Capability = "Chat/Code"
)

// GuessCapability labels a model from its identifier alone. This is a naming
// heuristic, not a capability lookup: any id containing "embedding" (case-sensitive)
// is treated as an embeddings model, everything else as chat/code.
func GuessCapability(id string) Capability {
	if strings.Contains(id, "embedding") {
		return CapabilityEmbeddings
	}
	return CapabilityChat
}

// ListModels returns the models reachable with a Copilot API token.
func (c *Client) ListModels(ctx context.Context, apiToken string) ([]Model, error) {
	if apiToken == "" {
		return nil, fmt.Errorf("listing models: empty API token")
	}

	body, err := c.get(ctx, c.modelsURL, apiToken)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	return list.Data, nil
}

// WriteTable prints models as a fixed-width ID/capability table.
func WriteTable(w io.Writer, models []Model) error {
	if _, err := fmt.Fprintf(w, "%-40s %-20s\n%s\n", "ID", "Capabilities", strings.Repeat("-", 60)); err != nil {
		return err
	}
	for _, m := range models {
		if _, err := fmt.Fprintf(w, "%-40s %-20s\n", m.ID, GuessCapability(m.ID)); err != nil {
			return err
		}
	}
	return nil
}
