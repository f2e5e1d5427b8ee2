package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/florianilch/copilot-auth/internal/deviceflow"
)

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveInitiation(nil)
	m.ObserveInitiation(errors.New("503"))
	m.ObserveInitiation(errors.New("503"))
	m.ObserveRetry(1, 2*time.Second, errors.New("503"))
	m.ObservePoll(deviceflow.Progress{Attempt: 1})
	m.ObservePoll(deviceflow.Progress{Attempt: 2})

	start := time.Now()
	m.ObserveSession(deviceflow.Session{State: deviceflow.StateSucceeded, StartedAt: start, UpdatedAt: start.Add(30 * time.Second)})
	m.ObserveSession(deviceflow.Session{State: deviceflow.StateCancelled, StartedAt: start, UpdatedAt: start.Add(time.Second)})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"initiations ok", testutil.ToFloat64(m.Initiations.WithLabelValues("ok")), 1},
		{"initiations error", testutil.ToFloat64(m.Initiations.WithLabelValues("error")), 2},
		{"retries", testutil.ToFloat64(m.InitRetries), 1},
		{"polls", testutil.ToFloat64(m.Polls), 2},
		{"succeeded", testutil.ToFloat64(m.Sessions.WithLabelValues("succeeded")), 1},
		{"cancelled", testutil.ToFloat64(m.Sessions.WithLabelValues("cancelled")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.SessionDuration); n != 1 {
		t.Errorf("duration histogram series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Polls.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"copilot_auth_device_polls_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Polls.Inc()

	if got := testutil.ToFloat64(b.Polls); got != 0 {
		t.Errorf("second instance polls = %v, want 0", got)
	}
}

func TestObserveActive(t *testing.T) {
	m := New()
	active := 0
	m.ObserveActive(func() int { return active })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "copilot_auth_active_pollers 0") {
		t.Errorf("metrics output missing idle gauge")
	}

	active = 1
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "copilot_auth_active_pollers 1") {
		t.Errorf("metrics output missing active gauge")
	}
}
