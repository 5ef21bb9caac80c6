package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pgf-fleet/pgfgate/upstream"
)

const metricsNamespace = "pgfgate"

// Metrics holds the gateway's Prometheus collectors. It doubles as the
// upstream client's Observer.
type Metrics struct {
	proxyRequests    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	authEvents       *prometheus.CounterVec
}

var _ upstream.Observer = (*Metrics)(nil)

// NewMetrics registers the gateway collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		proxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proxy_requests_total",
			Help:      "Requests relayed by the generic proxy, by method and upstream status.",
		}, []string{"method", "status"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream round-trip latency by operation and status (0 = unreachable).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		authEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_events_total",
			Help:      "Audit events emitted by the auth gateway.",
		}, []string{"event"}),
	}
}

func (m *Metrics) ObserveUpstream(op string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) proxied(method string, status int) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) authEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(string(event)).Inc()
}
