// Package obs exposes prometheus metrics for the identity service.
package obs

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "identity"

// Metrics holds the collectors. Use NewMetrics with a dedicated registry
// in tests and prometheus.DefaultRegisterer in the daemon.
type Metrics struct {
	gatherer prometheus.Gatherer

	events        *prometheus.CounterVec
	loginFailures *prometheus.CounterVec
	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	sweepRemoved  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Identity activity events by type.",
		}, []string{"event"}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Failed password logins by reason.",
		}, []string{"reason"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Rows removed by the expiry sweeper.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.events, m.loginFailures, m.httpInFlight, m.httpRequests, m.httpDuration, m.sweepRemoved)
	return m
}

// Record implements identity.ActivitySink.
func (m *Metrics) Record(_ context.Context, event identity.ActivityEvent) error {
	m.events.WithLabelValues(string(event.EventType)).Inc()
	if event.EventType == identity.ActivityLoginFailure {
		reason, _ := event.Metadata["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		m.loginFailures.WithLabelValues(reason).Inc()
	}
	return nil
}

var _ identity.ActivitySink = (*Metrics)(nil)

// Purger counts the rows p removes under kind.
func (m *Metrics) Purger(kind string, p identity.Purger) identity.Purger {
	return identity.PurgerFunc(func(ctx context.Context) (int64, error) {
		n, err := p.PurgeExpired(ctx)
		if err == nil && n > 0 {
			m.sweepRemoved.WithLabelValues(kind).Add(float64(n))
		}
		return n, err
	})
}

// RequestStarted tracks an in-flight request and returns the function
// that records its outcome.
func (m *Metrics) RequestStarted(method string) func(route string, status int) {
	m.httpInFlight.Inc()
	start := time.Now()
	return func(route string, status int) {
		code := strconv.Itoa(status)
		m.httpDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(method, route, code).Inc()
		m.httpInFlight.Dec()
	}
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
