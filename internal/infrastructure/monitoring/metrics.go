package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Escalation metrics
	EscalationsCreated  prometheus.Counter
	EscalationsPending  prometheus.Gauge
	EscalationOutcomes  *prometheus.CounterVec
	EscalationDuration  *prometheus.HistogramVec

	// Approval metrics
	ApprovalsPending prometheus.Gauge
	ApprovalsTotal   *prometheus.CounterVec

	// Streaming metrics
	StreamSessionsActive prometheus.Gauge
	StreamFrames         *prometheus.CounterVec
	StreamCommands       *prometheus.CounterVec
	StreamReconnects     prometheus.Counter
	StreamFallbacks      prometheus.Counter

	// Relay metrics
	RelayConnections *prometheus.GaugeVec
	RelayFrames      *prometheus.CounterVec

	// Outbound service metrics (persistence API, webhooks)
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec
	ServiceErrors   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests      int64
	TotalErrors        int64
	PendingEscalations int64
	ActiveConnections  int64
	TotalDuration      float64 // sum of all request durations
	RequestCount       int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Escalation metrics
		EscalationsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_escalations_created_total",
				Help: "Total number of escalations created",
			},
		),
		EscalationsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_escalations_pending",
				Help: "Number of escalations awaiting resolution",
			},
		),
		EscalationOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_escalation_outcomes_total",
				Help: "Total number of escalations by terminal status",
			},
			[]string{"status"},
		),
		EscalationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_escalation_duration_seconds",
				Help:    "Time from escalation to terminal status in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		// Approval metrics
		ApprovalsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_approvals_pending",
				Help: "Number of approvals awaiting a response",
			},
		),
		ApprovalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_approvals_total",
				Help: "Total number of approval decisions",
			},
			[]string{"decision", "method"},
		),

		// Streaming metrics
		StreamSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_stream_sessions_active",
				Help: "Number of active browser streaming sessions",
			},
		),
		StreamFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_stream_frames_total",
				Help: "Total number of frames pushed to viewers",
			},
			[]string{"transport"},
		),
		StreamCommands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_stream_commands_total",
				Help: "Total number of remote control commands executed",
			},
			[]string{"kind", "result"},
		),
		StreamReconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_stream_reconnects_total",
				Help: "Total number of WebSocket reconnect attempts",
			},
		),
		StreamFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_stream_fallbacks_total",
				Help: "Total number of sessions dropped to HTTP polling",
			},
		),

		// Relay metrics
		RelayConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backend_relay_connections",
				Help: "Number of attached relay connections by role",
			},
			[]string{"role"},
		),
		RelayFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_relay_frames_total",
				Help: "Total number of frames forwarded through the relay",
			},
			[]string{"kind"},
		),

		// Outbound service metrics
		ServiceCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_service_calls_total",
				Help: "Total number of outbound service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_service_duration_seconds",
				Help:    "Outbound service call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),
		ServiceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_service_errors_total",
				Help: "Total number of outbound service errors",
			},
			[]string{"service", "method", "error_type"},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// IncEscalationsCreated increments the escalations created counter
func (m *Metrics) IncEscalationsCreated() {
	m.EscalationsCreated.Inc()
}

// SetEscalationsPending sets the number of pending escalations
func (m *Metrics) SetEscalationsPending(count int) {
	m.EscalationsPending.Set(float64(count))
	m.mu.Lock()
	m.snapshot.PendingEscalations = int64(count)
	m.mu.Unlock()
}

// RecordEscalationOutcome records a terminal escalation status with its age
func (m *Metrics) RecordEscalationOutcome(status string, age time.Duration) {
	m.EscalationOutcomes.WithLabelValues(status).Inc()
	m.EscalationDuration.WithLabelValues(status).Observe(age.Seconds())
}

// SetApprovalsPending sets the number of pending approvals
func (m *Metrics) SetApprovalsPending(count int) {
	m.ApprovalsPending.Set(float64(count))
}

// RecordApproval records an approval decision
func (m *Metrics) RecordApproval(decision, method string) {
	m.ApprovalsTotal.WithLabelValues(decision, method).Inc()
}

// SetStreamSessions sets the number of active streaming sessions
func (m *Metrics) SetStreamSessions(count int) {
	m.StreamSessionsActive.Set(float64(count))
}

// RecordStreamFrame records a frame pushed over the given transport
func (m *Metrics) RecordStreamFrame(transport string) {
	m.StreamFrames.WithLabelValues(transport).Inc()
}

// RecordStreamCommand records a remote control command execution
func (m *Metrics) RecordStreamCommand(kind, result string) {
	m.StreamCommands.WithLabelValues(kind, result).Inc()
}

// IncStreamReconnects increments the reconnect attempts counter
func (m *Metrics) IncStreamReconnects() {
	m.StreamReconnects.Inc()
}

// IncStreamFallbacks increments the fallback transitions counter
func (m *Metrics) IncStreamFallbacks() {
	m.StreamFallbacks.Inc()
}

// IncRelayConnections increments the relay connection gauge for a role
func (m *Metrics) IncRelayConnections(role string) {
	m.RelayConnections.WithLabelValues(role).Inc()
}

// DecRelayConnections decrements the relay connection gauge for a role
func (m *Metrics) DecRelayConnections(role string) {
	m.RelayConnections.WithLabelValues(role).Dec()
}

// RecordRelayFrame records a forwarded relay frame
func (m *Metrics) RecordRelayFrame(kind string) {
	m.RelayFrames.WithLabelValues(kind).Inc()
}

// RecordServiceCall records an outbound service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordServiceError records an outbound service error
func (m *Metrics) RecordServiceError(service, method, errorType string) {
	m.ServiceErrors.WithLabelValues(service, method, errorType).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
