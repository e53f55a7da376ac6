package approval

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/shared/id"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// Notifier delivers owner-facing webhook events.
type Notifier interface {
	Emit(ctx context.Context, event types.WebhookEvent) error
}

// Config tunes the coordinator.
type Config struct {
	// Timeout bounds how long a requires_approval caller stays suspended.
	// Zero disables the bound and waits indefinitely.
	Timeout time.Duration

	// DashboardURL is the base for approve/deny deep links.
	DashboardURL string
}

const timeoutReason = "approval timed out"

// Coordinator gates agent actions on per-domain policy. Auto-approved and
// blocked domains answer immediately; requires_approval suspends the caller
// until the owner decides, with each pending record settled exactly once.
type Coordinator struct {
	mu      sync.RWMutex
	records map[string]*pendingRecord // Protected by mu

	cfg      Config
	policy   *Policy
	notifier Notifier
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// pendingRecord pairs an approval with the signal that wakes its waiter.
type pendingRecord struct {
	approval *types.PendingApproval
	decided  chan struct{} // closed exactly once when the record settles
}

// NewCoordinator creates an approval coordinator over the given policy.
func NewCoordinator(cfg Config, policy *Policy, notifier Notifier, logger *logging.Logger) *Coordinator {
	if policy == nil {
		policy = NewPolicy()
	}
	return &Coordinator{
		records:  make(map[string]*pendingRecord),
		cfg:      cfg,
		policy:   policy,
		notifier: notifier,
		logger:   logger.Component("approval"),
		now:      time.Now,
	}
}

// WithMetrics adds metrics tracking to the coordinator.
func (c *Coordinator) WithMetrics(metrics *monitoring.Metrics) *Coordinator {
	c.metrics = metrics
	return c
}

// SetPermissionLevel assigns the policy level for a domain or pattern.
func (c *Coordinator) SetPermissionLevel(domain string, level types.PermissionLevel) {
	c.policy.Set(domain, level)
	c.logger.Info("permission level set",
		zap.String("domain", domain),
		zap.String("level", string(level)))
}

// PermissionLevel resolves the policy level for a domain.
func (c *Coordinator) PermissionLevel(domain string) types.PermissionLevel {
	return c.policy.Level(domain)
}

// Permissions returns a snapshot of all configured policy entries.
func (c *Coordinator) Permissions() map[string]types.PermissionLevel {
	return c.policy.Domains()
}

// RequestApproval decides an agent action against domain policy. Blocked
// and auto-approved domains return immediately and leave no record. A
// requires_approval domain creates a pending record, notifies the owner
// exactly once with approve/deny links, and suspends the caller until
// SubmitResponse lands, the configured timeout expires, or ctx is
// canceled. Cancellation leaves the record pending so a late owner
// decision still lands.
func (c *Coordinator) RequestApproval(ctx context.Context, req types.ApprovalRequest) types.ApprovalDecision {
	switch c.policy.Level(req.Domain) {
	case types.PermissionBlocked:
		c.logger.Info("action blocked by policy",
			zap.String("agent_id", req.Agent.ID),
			zap.String("domain", req.Domain),
			zap.String("action", req.Action))
		return c.finish(types.ApprovalDecision{Approved: false, Method: types.MethodBlocked})
	case types.PermissionRequiresApproval:
		return c.awaitDecision(ctx, req)
	default:
		return c.finish(types.ApprovalDecision{Approved: true, Method: types.MethodAuto})
	}
}

func (c *Coordinator) awaitDecision(ctx context.Context, req types.ApprovalRequest) types.ApprovalDecision {
	approvalID := id.NewApprovalID().String()
	record := &pendingRecord{
		approval: &types.PendingApproval{
			ID:        approvalID,
			Request:   req,
			Status:    types.ApprovalPending,
			CreatedAt: c.now().UTC(),
		},
		decided: make(chan struct{}),
	}

	c.mu.Lock()
	c.records[approvalID] = record
	pending := c.pendingLocked()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetApprovalsPending(pending)
	}

	c.emitApprovalNeeded(ctx, record.approval)
	c.logger.Info("approval requested",
		zap.String("approval_id", approvalID),
		zap.String("agent_id", req.Agent.ID),
		zap.String("domain", req.Domain),
		zap.String("action", req.Action))

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		timer := time.NewTimer(c.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-record.decided:
		return c.finish(c.decisionOf(approvalID))
	case <-timeout:
		if c.settle(approvalID, types.ApprovalDenied, timeoutReason) {
			return c.finish(types.ApprovalDecision{
				Approved:   false,
				Method:     types.MethodTimeout,
				ApprovalID: approvalID,
				Reason:     timeoutReason,
			})
		}
		// An owner decision won the race.
		return c.finish(c.decisionOf(approvalID))
	case <-ctx.Done():
		return c.finish(types.ApprovalDecision{
			Approved:   false,
			Method:     types.MethodCanceled,
			ApprovalID: approvalID,
		})
	}
}

// SubmitResponse records the owner's decision and wakes the suspended
// caller. It reports false for unknown or already-settled approvals.
func (c *Coordinator) SubmitResponse(approvalID string, approved bool, reason string) bool {
	status := types.ApprovalDenied
	if approved {
		status = types.ApprovalApproved
	}
	if !c.settle(approvalID, status, reason) {
		return false
	}
	c.logger.Info("approval decided",
		zap.String("approval_id", approvalID),
		zap.Bool("approved", approved))
	return true
}

// settle moves a pending approval into a terminal status and closes its
// wake channel. Settled records never transition again.
func (c *Coordinator) settle(approvalID string, status types.ApprovalStatus, reason string) bool {
	c.mu.Lock()
	record, ok := c.records[approvalID]
	if !ok || record.approval.Status != types.ApprovalPending {
		c.mu.Unlock()
		return false
	}
	record.approval.Status = status
	record.approval.Reason = reason
	at := c.now().UTC()
	record.approval.ResolvedAt = &at
	close(record.decided)
	pending := c.pendingLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetApprovalsPending(pending)
	}
	return true
}

func (c *Coordinator) decisionOf(approvalID string) types.ApprovalDecision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[approvalID]
	if !ok {
		return types.ApprovalDecision{Approved: false, Method: types.MethodManual, ApprovalID: approvalID}
	}
	return types.ApprovalDecision{
		Approved:   record.approval.Status == types.ApprovalApproved,
		Method:     types.MethodManual,
		ApprovalID: approvalID,
		Reason:     record.approval.Reason,
	}
}

func (c *Coordinator) finish(decision types.ApprovalDecision) types.ApprovalDecision {
	if c.metrics != nil {
		verdict := "denied"
		if decision.Approved {
			verdict = "approved"
		}
		c.metrics.RecordApproval(verdict, decision.Method)
	}
	return decision
}

func (c *Coordinator) pendingLocked() int {
	pending := 0
	for _, record := range c.records {
		if record.approval.Status == types.ApprovalPending {
			pending++
		}
	}
	return pending
}

func (c *Coordinator) emitApprovalNeeded(ctx context.Context, approval *types.PendingApproval) {
	data := map[string]interface{}{
		"approval_id": approval.ID,
		"action":      approval.Request.Action,
		"domain":      approval.Request.Domain,
	}
	if len(approval.Request.Details) > 0 {
		data["details"] = approval.Request.Details
	}

	base := strings.TrimRight(c.cfg.DashboardURL, "/") + "/approvals/" + approval.ID
	event := types.WebhookEvent{
		Event: types.EventApprovalNeeded,
		Agent: approval.Request.Agent,
		Data:  data,
		Actions: []types.WebhookAction{
			{Type: types.ActionApprove, Label: "Approve", URL: base + "/approve"},
			{Type: types.ActionDeny, Label: "Deny", URL: base + "/deny"},
		},
	}
	if err := c.notifier.Emit(ctx, event); err != nil {
		c.logger.Warn("approval webhook delivery failed",
			zap.String("approval_id", approval.ID),
			zap.Error(err))
	}
}

// Approval returns a point-in-time snapshot of one approval, for callers
// polling instead of holding the request open.
func (c *Coordinator) Approval(approvalID string) (types.PendingApproval, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[approvalID]
	if !ok {
		return types.PendingApproval{}, false
	}
	return *record.approval, true
}

// Approvals returns snapshots of all tracked approvals.
func (c *Coordinator) Approvals() []types.PendingApproval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.PendingApproval, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, *record.approval)
	}
	return out
}
