// Package escalation owns the CAPTCHA escalation lifecycle: create a
// record, notify the owner with a solve link, answer polling agents, and
// settle each record exactly once as resolved or timed out.
package escalation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/shared/id"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// Store is the platform surface for escalation records.
type Store interface {
	CreateEscalation(ctx context.Context, agent types.AgentIdentity, captchaType, screenshot string) (*persistence.EscalationRecord, error)
	GetEscalationStatus(ctx context.Context, escalationID string) (*persistence.EscalationStatus, error)
}

// Streamer opens live browser sessions for escalations that carry a page.
type Streamer interface {
	StartSession(ctx context.Context, escalationID string, pg page.Page) (string, error)
}

// Notifier delivers owner-facing webhook events.
type Notifier interface {
	Emit(ctx context.Context, event types.WebhookEvent) error
}

// Config tunes the coordinator. Zero values fall back to the defaults.
type Config struct {
	// Timeout is the fixed resolution window measured from record creation.
	Timeout time.Duration

	// PollInterval paces WaitForResolution between status checks.
	PollInterval time.Duration

	// DashboardURL is the base for solve deep links.
	DashboardURL string
}

const (
	defaultTimeout      = 5 * time.Minute
	defaultPollInterval = 3 * time.Second
	defaultDashboardURL = "https://app.agentpass.space"
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DashboardURL == "" {
		c.DashboardURL = defaultDashboardURL
	}
	return c
}

// Coordinator tracks escalations and settles each one exactly once. The
// local record is the queryable identity; the platform record and the live
// view are best-effort extras layered on top of it.
type Coordinator struct {
	mu      sync.RWMutex
	records map[string]*types.Escalation // Protected by mu

	cfg      Config
	store    Store
	notifier Notifier
	stream   Streamer
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewCoordinator creates an escalation coordinator.
func NewCoordinator(cfg Config, store Store, notifier Notifier, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		records:  make(map[string]*types.Escalation),
		cfg:      cfg.withDefaults(),
		store:    store,
		notifier: notifier,
		logger:   logger.Component("escalation"),
		now:      time.Now,
	}
}

// WithStreamer adds a live-view channel; without one escalations are
// screenshot-only.
func (c *Coordinator) WithStreamer(stream Streamer) *Coordinator {
	c.stream = stream
	return c
}

// WithMetrics adds metrics tracking to the coordinator.
func (c *Coordinator) WithMetrics(metrics *monitoring.Metrics) *Coordinator {
	c.metrics = metrics
	return c
}

// Timeout returns the fixed resolution window.
func (c *Coordinator) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Escalate creates an escalation for a CAPTCHA the agent cannot pass. The
// platform write, the live view, and the webhook are each best effort; the
// local record always exists and the owner is always notified with a solve
// link. Nothing here fails the call.
func (c *Coordinator) Escalate(ctx context.Context, req types.EscalateRequest, pg page.Page) types.EscalationResult {
	agent := types.AgentIdentity{ID: req.AgentID, Name: req.AgentName}

	escalationID := ""
	if record, err := c.store.CreateEscalation(ctx, agent, req.CaptchaType, req.Screenshot); err != nil {
		c.logger.Warn("platform escalation write failed, keeping local record only",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	} else {
		escalationID = record.ID
	}
	if escalationID == "" {
		escalationID = id.NewEscalationID().String()
	}

	record := &types.Escalation{
		ID:          escalationID,
		Agent:       agent,
		CaptchaType: req.CaptchaType,
		Screenshot:  req.Screenshot,
		PageURL:     req.PageURL,
		Status:      types.EscalationPending,
		CreatedAt:   c.now().UTC(),
	}

	if c.stream != nil && pg != nil {
		sessionID, err := c.stream.StartSession(ctx, escalationID, pg)
		if err != nil {
			c.logger.Warn("live view unavailable for escalation",
				zap.String("escalation_id", escalationID),
				zap.Error(err))
		} else {
			record.BrowserSessionID = sessionID
		}
	}

	c.mu.Lock()
	c.records[escalationID] = record
	pending := c.pendingLocked()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncEscalationsCreated()
		c.metrics.SetEscalationsPending(pending)
	}

	c.emitCaptchaNeeded(ctx, record)

	c.logger.Info("captcha escalated",
		zap.String("escalation_id", escalationID),
		zap.String("agent_id", agent.ID),
		zap.String("captcha_type", req.CaptchaType),
		zap.String("browser_session_id", record.BrowserSessionID))
	return types.EscalationResult{
		EscalationID:     escalationID,
		BrowserSessionID: record.BrowserSessionID,
		Status:           types.EscalationPending,
	}
}

func (c *Coordinator) emitCaptchaNeeded(ctx context.Context, record *types.Escalation) {
	data := map[string]interface{}{
		"escalation_id": record.ID,
		"captcha_type":  record.CaptchaType,
	}
	if record.PageURL != "" {
		data["page_url"] = record.PageURL
	}
	if record.BrowserSessionID != "" {
		data["browser_session_id"] = record.BrowserSessionID
	}

	event := types.WebhookEvent{
		Event: types.EventCaptchaNeeded,
		Agent: record.Agent,
		Data:  data,
		Actions: []types.WebhookAction{{
			Type:  types.ActionSolve,
			Label: "Solve CAPTCHA",
			URL:   c.solveURL(record.ID),
		}},
	}
	if err := c.notifier.Emit(ctx, event); err != nil {
		c.logger.Warn("captcha webhook delivery failed",
			zap.String("escalation_id", record.ID),
			zap.Error(err))
	}
}

func (c *Coordinator) solveURL(escalationID string) string {
	return strings.TrimRight(c.cfg.DashboardURL, "/") + "/solve/" + escalationID
}

// CheckResolution reports whether an escalation has been resolved. The
// platform's answer wins when reachable and is mirrored locally; otherwise
// the local record decides, timing out once the fixed window has elapsed.
// Unknown IDs report unresolved.
func (c *Coordinator) CheckResolution(ctx context.Context, escalationID string) types.ResolutionStatus {
	c.mu.RLock()
	record, ok := c.records[escalationID]
	var status types.EscalationStatus
	var createdAt time.Time
	if ok {
		status = record.Status
		createdAt = record.CreatedAt
	}
	c.mu.RUnlock()
	if !ok {
		return types.ResolutionStatus{}
	}

	switch status {
	case types.EscalationResolved:
		return types.ResolutionStatus{Resolved: true}
	case types.EscalationTimedOut:
		return types.ResolutionStatus{TimedOut: true}
	}

	if remote, err := c.store.GetEscalationStatus(ctx, escalationID); err != nil {
		c.logger.Debug("escalation status sync failed",
			zap.String("escalation_id", escalationID),
			zap.Error(err))
	} else if remote.Status == string(types.EscalationResolved) {
		c.settle(escalationID, types.EscalationResolved, remote.ResolvedAt)
		return types.ResolutionStatus{Resolved: true}
	}

	if c.now().Sub(createdAt) >= c.cfg.Timeout {
		c.settle(escalationID, types.EscalationTimedOut, nil)
		return types.ResolutionStatus{TimedOut: true}
	}
	return types.ResolutionStatus{}
}

// Resolve marks a pending escalation resolved. It reports true exactly
// once; unknown IDs and already-settled records report false.
func (c *Coordinator) Resolve(escalationID string) bool {
	return c.settle(escalationID, types.EscalationResolved, nil)
}

// settle moves a pending record into a terminal status. Terminal records
// never transition again.
func (c *Coordinator) settle(escalationID string, status types.EscalationStatus, resolvedAt *time.Time) bool {
	c.mu.Lock()
	record, ok := c.records[escalationID]
	if !ok || record.Status != types.EscalationPending {
		c.mu.Unlock()
		return false
	}
	record.Status = status
	at := c.now().UTC()
	if resolvedAt != nil {
		at = resolvedAt.UTC()
	}
	record.ResolvedAt = &at
	age := at.Sub(record.CreatedAt)
	pending := c.pendingLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordEscalationOutcome(string(status), age)
		c.metrics.SetEscalationsPending(pending)
	}
	c.logger.Info("escalation settled",
		zap.String("escalation_id", escalationID),
		zap.String("status", string(status)),
		zap.Duration("age", age))
	return true
}

func (c *Coordinator) pendingLocked() int {
	pending := 0
	for _, record := range c.records {
		if record.Status == types.EscalationPending {
			pending++
		}
	}
	return pending
}

// WaitForResolution blocks until the escalation resolves, its window
// elapses, or ctx is canceled. A zero pollInterval uses the configured
// default. Cancellation reports unresolved without touching the record, so
// a later SubmitResponse or owner action can still land.
func (c *Coordinator) WaitForResolution(ctx context.Context, escalationID string, pollInterval time.Duration) types.ResolutionStatus {
	if pollInterval <= 0 {
		pollInterval = c.cfg.PollInterval
	}

	c.mu.RLock()
	_, ok := c.records[escalationID]
	c.mu.RUnlock()
	if !ok {
		return types.ResolutionStatus{}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		status := c.CheckResolution(ctx, escalationID)
		if status.Resolved || status.TimedOut {
			return status
		}
		select {
		case <-ctx.Done():
			return types.ResolutionStatus{}
		case <-ticker.C:
		}
	}
}

// Get returns a point-in-time snapshot of one escalation.
func (c *Coordinator) Get(escalationID string) (types.Escalation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[escalationID]
	if !ok {
		return types.Escalation{}, false
	}
	return *record, true
}

// Escalations returns snapshots of all tracked escalations.
func (c *Coordinator) Escalations() []types.Escalation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Escalation, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, *record)
	}
	return out
}

// Count returns the number of tracked escalations.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
