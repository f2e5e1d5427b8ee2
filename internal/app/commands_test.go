package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeCopilot serves the token exchange and models endpoints.
func fakeCopilot(t *testing.T, credential string) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	apiToken := ""

	mux := http.NewServeMux()
	mux.HandleFunc("GET /copilot_internal/v2/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+credential {
			http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
			return
		}
		mu.Lock()
		apiToken = "tid_abc"
		mu.Unlock()
		_, _ = w.Write([]byte(`{"token":"tid_abc","expires_at":4102444800}`))
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		want := "Bearer " + apiToken
		mu.Unlock()
		if r.Header.Get("Authorization") != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4.1"},{"id":"text-embedding-3-small"}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, copilotURL string) *Config {
	t.Helper()

	cfg := &Config{
		Storage: StorageConfig{Dir: t.TempDir(), EnvKey: "COPILOT_AUTH_TEST_PAT"},
		GitHub: GitHubConfig{
			CopilotTokenURL: copilotURL + "/copilot_internal/v2/token",
			ModelsURL:       copilotURL + "/models",
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestListModels(t *testing.T) {
	srv := fakeCopilot(t, "ghp_env")
	t.Setenv("COPILOT_AUTH_TEST_PAT", "ghp_env")
	cfg := testConfig(t, srv.URL)

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		if err := ListModels(t.Context(), cfg, &out, ModelsFormatTable); err != nil {
			t.Fatalf("ListModels() error = %v", err)
		}

		lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
		if len(lines) != 4 {
			t.Fatalf("table has %d lines, want 4:\n%s", len(lines), out.String())
		}
		if !strings.HasPrefix(lines[2], "gpt-4.1") || !strings.Contains(lines[2], "Chat/Code") {
			t.Errorf("row = %q", lines[2])
		}
		if !strings.Contains(lines[3], "Embeddings") {
			t.Errorf("row = %q", lines[3])
		}
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		if err := ListModels(t.Context(), cfg, &out, ModelsFormatJSON); err != nil {
			t.Fatalf("ListModels() error = %v", err)
		}

		var entries []map[string]string
		if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
			t.Fatalf("decoding output: %v", err)
		}
		if len(entries) != 2 || entries[1]["id"] != "text-embedding-3-small" || entries[1]["capability"] != "Embeddings" {
			t.Errorf("entries = %v", entries)
		}
	})
}

func TestListModelsErrors(t *testing.T) {
	srv := fakeCopilot(t, "ghp_good")

	t.Run("no credential", func(t *testing.T) {
		t.Setenv("COPILOT_AUTH_TEST_PAT", "")
		cfg := testConfig(t, srv.URL)

		err := ListModels(t.Context(), cfg, &bytes.Buffer{}, ModelsFormatTable)
		if err == nil {
			t.Fatal("ListModels() succeeded without a credential")
		}
		if !strings.Contains(err.Error(), "COPILOT_AUTH_TEST_PAT") || !strings.Contains(err.Error(), "access-token") {
			t.Errorf("error %q does not name the checked sources", err)
		}
	})

	t.Run("rejected credential", func(t *testing.T) {
		t.Setenv("COPILOT_AUTH_TEST_PAT", "ghp_bad")
		cfg := testConfig(t, srv.URL)

		err := ListModels(t.Context(), cfg, &bytes.Buffer{}, ModelsFormatTable)
		if err == nil || !strings.Contains(err.Error(), "401") {
			t.Errorf("ListModels() error = %v, want HTTP 401", err)
		}
	})
}

func TestSmoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"github_copilot/gpt-4.1",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"It uses qubits."}}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Smoke.BaseURL = srv.URL

	var out bytes.Buffer
	if err := Smoke(t.Context(), cfg, &out); err != nil {
		t.Fatalf("Smoke() error = %v", err)
	}
	if out.String() != "It uses qubits.\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	if _, err := New(cfg); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg.LogFormat = "xml"
	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an invalid config")
	}
}
