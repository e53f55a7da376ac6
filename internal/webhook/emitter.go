// Package webhook delivers gateway events to the agent's webhook endpoint.
//
// Delivery is single-shot: reliability (retry queues, dead-lettering) belongs
// to the receiving side. Callers decide whether a failed emit matters; the
// coordinators log and continue, since no webhook failure may block an
// escalation or approval from getting its local identity.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/config"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ServiceName labels webhook calls in metrics.
const ServiceName = "webhook"

const emitTimeout = 10 * time.Second

// Emitter posts events to a single configured URL.
type Emitter struct {
	http    *resty.Client
	url     string
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New creates an emitter. An empty URL yields a disabled emitter whose
// Emit is a logged no-op, so callers never special-case configuration.
func New(cfg config.WebhookConfig, logger *logging.Logger) *Emitter {
	httpClient := resty.New().
		SetTimeout(emitTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "AgentPass-Backend/1.0")
	httpClient.JSONMarshal = sonic.Marshal
	httpClient.JSONUnmarshal = sonic.Unmarshal

	return &Emitter{
		http:   httpClient,
		url:    cfg.URL,
		logger: logger.Component(ServiceName),
	}
}

// WithMetrics adds outbound call metrics to the emitter.
func (e *Emitter) WithMetrics(metrics *monitoring.Metrics) *Emitter {
	e.metrics = metrics
	return e
}

// Enabled reports whether a webhook URL is configured.
func (e *Emitter) Enabled() bool {
	return e.url != ""
}

// Emit posts one event. The event's timestamp is set here if the caller
// left it zero.
func (e *Emitter) Emit(ctx context.Context, event types.WebhookEvent) (err error) {
	if !e.Enabled() {
		e.logger.Debug("webhook disabled, event dropped", zap.String("event", event.Event))
		return nil
	}

	defer func(start time.Time) {
		if e.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "error"
			e.metrics.RecordServiceError(ServiceName, event.Event, "delivery")
		}
		e.metrics.RecordServiceCall(ServiceName, event.Event, status, time.Since(start))
	}(time.Now())

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(event).
		Post(e.url)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event.Event, err)
	}
	if resp.IsError() {
		return fmt.Errorf("emit %s: receiver returned %s", event.Event, resp.Status())
	}

	e.logger.Debug("webhook delivered",
		zap.String("event", event.Event),
		zap.String("agent_id", event.Agent.ID))
	return nil
}
