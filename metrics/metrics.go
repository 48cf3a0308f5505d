// Package metrics exposes Prometheus collectors for the engine and the API.
// All methods are nil-safe so callers can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/token-engine/allocation"
)

const namespace = "token_engine"

// Engine records allocation outcomes. It implements allocation.Metrics.
type Engine struct {
	bookingsTotal      *prometheus.CounterVec
	bookingLatency     prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	adminTotal         *prometheus.CounterVec
	adminAffected      *prometheus.CounterVec
}

var _ allocation.Metrics = (*Engine)(nil)

func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome (success or rejection kind)",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Latency of Book including lock wait",
			Buckets:   prometheus.DefBuckets,
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Confirmation sends by status",
		}, []string{"status"}),
		adminTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_actions_total",
			Help:      "Admin operations by action",
		}, []string{"action"}),
		adminAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_affected_bookings_total",
			Help:      "Bookings changed by admin operations",
		}, []string{"action"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.notificationsTotal, m.adminTotal, m.adminAffected)
	return m
}

func (m *Engine) ObserveBooking(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.Observe(elapsed.Seconds())
}

func (m *Engine) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

func (m *Engine) ObserveAdmin(action string, affected int) {
	if m == nil {
		return
	}
	m.adminTotal.WithLabelValues(action).Inc()
	if affected > 0 {
		m.adminAffected.WithLabelValues(action).Add(float64(affected))
	}
}

// HTTP records request counts and latency per route pattern.
type HTTP struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency)
	return m
}

func (m *HTTP) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
