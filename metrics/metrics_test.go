package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every series of a counter family whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
				}
			}
			if match {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngine(reg)

	m.ObserveBooking("success", 3*time.Millisecond)
	m.ObserveBooking("success", time.Millisecond)
	m.ObserveBooking("capacity_reached", time.Millisecond)
	m.ObserveNotification("failed")
	m.ObserveAdmin("cancel_today", 4)
	m.ObserveAdmin("cancel_today", 0)

	assert.Equal(t, 2.0, counterValue(t, reg, "token_engine_bookings_total", map[string]string{"outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "token_engine_bookings_total", map[string]string{"outcome": "capacity_reached"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "token_engine_notifications_total", map[string]string{"status": "failed"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "token_engine_admin_actions_total", map[string]string{"action": "cancel_today"}))
	assert.Equal(t, 4.0, counterValue(t, reg, "token_engine_admin_affected_bookings_total", nil))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	m.ObserveRequest("POST", "/api/book", 200, time.Millisecond)
	m.ObserveRequest("POST", "/api/book", 409, time.Millisecond)
	m.ObserveRequest("POST", "/api/book", 503, time.Millisecond)

	assert.Equal(t, 3.0, counterValue(t, reg, "token_engine_http_requests_total", map[string]string{"route": "/api/book"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "token_engine_http_requests_total", map[string]string{"status": "4xx"}))
}

func TestNilSafe(t *testing.T) {
	var e *Engine
	var h *HTTP
	assert.NotPanics(t, func() {
		e.ObserveBooking("success", time.Second)
		e.ObserveNotification("sent")
		e.ObserveAdmin("disable_date", 0)
		h.ObserveRequest("GET", "/healthz", 200, time.Second)
	})
}
