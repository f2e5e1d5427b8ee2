// Package metrics exposes Prometheus counters for device authorizations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florianilch/copilot-auth/internal/deviceflow"
)

const namespace = "copilot_auth"

// Metrics holds the collectors of one server instance on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Initiations     *prometheus.CounterVec
	InitRetries     prometheus.Counter
	Polls           prometheus.Counter
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	RateLimited     prometheus.Counter
}

// New creates and registers all collectors, including the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_initiations_total",
			Help:      "Total number of device code requests by result",
		}, []string{"result"}),
		InitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_initiation_retries_total",
			Help:      "Total number of retried device code requests",
		}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_polls_total",
			Help:      "Total number of access token polls",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of finished authorization sessions by final state",
		}, []string{"state"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from device code issue to the final state",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900},
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Total number of authorization requests rejected by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Initiations,
		m.InitRetries,
		m.Polls,
		m.Sessions,
		m.SessionDuration,
		m.RateLimited,
	)
	return m
}

// ObserveActive exports active() as the number of running pollers. Call it once.
func (m *Metrics) ObserveActive(active func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_pollers",
		Help:      "Number of device codes currently being polled",
	}, func() float64 { return float64(active()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveInitiation counts a device code request outcome.
func (m *Metrics) ObserveInitiation(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Initiations.WithLabelValues(result).Inc()
}

// ObserveRetry matches deviceflow.WithRetryObserver.
func (m *Metrics) ObserveRetry(int, time.Duration, error) {
	m.InitRetries.Inc()
}

// ObservePoll matches deviceflow.WithOnPoll.
func (m *Metrics) ObservePoll(deviceflow.Progress) {
	m.Polls.Inc()
}

// ObserveSession matches deviceflow.WithOnFinish.
func (m *Metrics) ObserveSession(s deviceflow.Session) {
	m.Sessions.WithLabelValues(string(s.State)).Inc()
	if !s.StartedAt.IsZero() {
		m.SessionDuration.Observe(s.UpdatedAt.Sub(s.StartedAt).Seconds())
	}
}
