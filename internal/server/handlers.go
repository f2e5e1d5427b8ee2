package server

import (
	"log/slog"
	"net/http"
	"net/url"
)

// handleAuthorize starts a device authorization and renders the user code page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := s.sessions.Begin(ctx)
	if s.onInitiation != nil {
		s.onInitiation(err)
	}
	if err != nil {
		slog.ErrorContext(ctx, "starting device authorization failed", "error", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		if err := render(w, "error.html.tmpl", errorPage{Message: err.Error()}); err != nil {
			slog.ErrorContext(ctx, "failed to render error page", "error", err)
		}
		return
	}

	page := devicePage{
		UserCode:        session.UserCode,
		VerificationURI: session.VerificationURI,
		StatusURL:       "/github/status/" + url.PathEscape(session.ID),
		PollMillis:      s.statusPoll.Milliseconds(),
		Messages:        statusMessages,
	}
	if !session.ExpiresAt.IsZero() {
		page.ExpiresAt = &session.ExpiresAt
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := render(w, "device.html.tmpl", page); err != nil {
		slog.ErrorContext(ctx, "failed to render authorization page", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// handleStatus reports a session snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Session(r.PathValue("id"))
	if !ok {
		writeJSONError(r.Context(), w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(r.Context(), w, session, http.StatusOK)
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			if s.onRateLimited != nil {
				s.onRateLimited()
			}
			w.Header().Set("Retry-After", "2")
			http.Error(w, "too many authorization requests, retry shortly", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
