package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus exposition handler for the default
// registry, where all gateway metrics are registered.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Stats returns a point-in-time summary for the health endpoint.
func (m *Metrics) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgLatencyMs := 0.0
	if m.snapshot.RequestCount > 0 {
		avgLatencyMs = m.snapshot.TotalDuration / float64(m.snapshot.RequestCount) * 1000
	}
	errorRate := 0.0
	if m.snapshot.TotalRequests > 0 {
		errorRate = float64(m.snapshot.TotalErrors) / float64(m.snapshot.TotalRequests)
	}

	return map[string]interface{}{
		"uptime_seconds":      time.Since(m.startTime).Seconds(),
		"total_requests":      m.snapshot.TotalRequests,
		"error_rate":          errorRate,
		"avg_latency_ms":      avgLatencyMs,
		"ws_connections":      m.snapshot.ActiveConnections,
		"pending_escalations": m.snapshot.PendingEscalations,
	}
}
