package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marshal"

// Metrics holds the prometheus collectors for the client core. All methods
// are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests            *prometheus.CounterVec
	requestErrors       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	tokenChecks         *prometheus.CounterVec
	refreshes           *prometheus.CounterVec
	deliveries          *prometheus.CounterVec
	duplicates          *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	badge               prometheus.Gauge
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_requests_total",
			Help:      "Bridge requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_errors_total",
			Help:      "Bridge errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_request_duration_seconds",
			Help:      "Bridge request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		tokenChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_checks_total",
			Help:      "Token lifecycle checks by classified state.",
		}, []string{"state"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push deliveries by arrival context and outcome.",
		}, []string{"context", "outcome"}),
		duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_duplicates_total",
			Help:      "Push actions suppressed as duplicates.",
		}, []string{"action"}),
		persistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Storage failures by operation.",
		}, []string{"op"}),
		badge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "badge_unread",
			Help:      "Last badge value written.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(path, method, code).Inc()
}

// RecordTokenCheck counts one lifecycle classification.
func (m *Metrics) RecordTokenCheck(state string) {
	if m == nil {
		return
	}
	m.tokenChecks.WithLabelValues(state).Inc()
}

// RecordRefresh counts one refresh attempt.
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts one push delivery.
func (m *Metrics) RecordDelivery(arrival, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(arrival, outcome).Inc()
}

// RecordDuplicate counts one suppressed display or navigation.
func (m *Metrics) RecordDuplicate(action string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(action).Inc()
}

// RecordPersistenceFailure counts one storage failure.
func (m *Metrics) RecordPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// SetBadge records the last badge value.
func (m *Metrics) SetBadge(n int) {
	if m == nil {
		return
	}
	m.badge.Set(float64(n))
}
