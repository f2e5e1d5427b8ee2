package server

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pages = template.Must(template.New("pages").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html.tmpl"))

// statusMessages are shown once a session reaches a terminal state.
var statusMessages = map[string]string{
	"succeeded": "Authorized! Tokens saved, you can close this page.",
	"expired":   "The code expired. Reload the page to get a new one.",
	"denied":    "Authorization was denied on GitHub.",
	"failed":    "Authorization failed. Check the server logs and reload to retry.",
	"cancelled": "A newer authorization replaced this one.",
}

type devicePage struct {
	UserCode        string
	VerificationURI string
	StatusURL       string
	ExpiresAt       *time.Time
	PollMillis      int64
	Messages        map[string]string
}

type errorPage struct {
	Message string
}

// render executes a page into a buffer so a template error never leaves a partial response.
func render(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
