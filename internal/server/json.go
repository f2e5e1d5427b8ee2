package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the JSON body of every error answer.
type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// writeJSON writes data as JSON with the given status code. Encoding failures are
// logged; the client may then see a partial body.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError is http.Error with a JSON body.
func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, errorResponse{Error: message, Status: status}, status)
}
