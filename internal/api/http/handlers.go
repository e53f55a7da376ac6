package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/domain/approval"
	"github.com/agentpass/agentpass/backend/internal/domain/escalation"
	"github.com/agentpass/agentpass/backend/internal/domain/relay"
	"github.com/agentpass/agentpass/backend/internal/domain/stream"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// PageSource resolves CDP target ids into live page handles. The driver
// satisfies it; tests attach fakes.
type PageSource interface {
	Attach(ctx context.Context, targetID string) (page.Page, error)
}

// Handlers contains all bridge HTTP handlers. They adapt requests onto the
// coordinators and never carry semantics of their own.
type Handlers struct {
	escalations *escalation.Coordinator
	approvals   *approval.Coordinator
	streams     *stream.Channel
	relay       *relay.Table
	pages       PageSource
	logger      *logging.Logger
	metrics     *monitoring.Metrics
}

// NewHandlers creates a new handler set.
func NewHandlers(
	escalations *escalation.Coordinator,
	approvals *approval.Coordinator,
	streams *stream.Channel,
	relayTable *relay.Table,
	pages PageSource,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		escalations: escalations,
		approvals:   approvals,
		streams:     streams,
		relay:       relayTable,
		pages:       pages,
		logger:      logger.Component("http"),
	}
}

// WithMetrics adds the stats summary to the health endpoint.
func (h *Handlers) WithMetrics(metrics *monitoring.Metrics) *Handlers {
	h.metrics = metrics
	return h
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "agentpass-gateway",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	response := gin.H{
		"status": "healthy",
		"escalations": gin.H{
			"tracked": h.escalations.Count(),
		},
		"approvals": gin.H{
			"tracked": len(h.approvals.Approvals()),
		},
		"streams": gin.H{
			"active": len(h.streams.ActiveSessions()),
		},
		"relay": gin.H{
			"sessions": h.relay.Count(),
		},
	}
	if h.metrics != nil {
		response["stats"] = h.metrics.Stats()
	}
	c.JSON(http.StatusOK, response)
}

// Escalate hands a CAPTCHA to the owner and returns the tracking ids
func (h *Handlers) Escalate(c *gin.Context) {
	var req types.EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var pg page.Page
	if req.PageTargetID != "" && h.pages != nil {
		attached, err := h.pages.Attach(c.Request.Context(), req.PageTargetID)
		if err != nil {
			h.logger.Warn("page attach failed, escalating without live view",
				zap.String("target_id", req.PageTargetID),
				zap.Error(err))
		} else {
			pg = attached
		}
	}

	result := h.escalations.Escalate(c.Request.Context(), req, pg)
	c.JSON(http.StatusOK, result)
}

// GetEscalation returns one escalation with its freshly synced resolution
func (h *Handlers) GetEscalation(c *gin.Context) {
	escalationID := c.Param("id")

	if _, ok := h.escalations.Get(escalationID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
		return
	}

	// The check may settle the record, so read it again afterwards.
	resolution := h.escalations.CheckResolution(c.Request.Context(), escalationID)
	record, _ := h.escalations.Get(escalationID)

	c.JSON(http.StatusOK, gin.H{
		"escalation": record,
		"resolved":   resolution.Resolved,
		"timed_out":  resolution.TimedOut,
	})
}

// ResolveEscalation marks an escalation solved on behalf of the owner
func (h *Handlers) ResolveEscalation(c *gin.Context) {
	escalationID := c.Param("id")

	success := h.escalations.Resolve(escalationID)

	c.JSON(http.StatusOK, gin.H{
		"success":       success,
		"escalation_id": escalationID,
	})
}

// WaitForEscalation long-polls until the escalation settles. A client
// disconnect stops the wait without touching the record.
func (h *Handlers) WaitForEscalation(c *gin.Context) {
	escalationID := c.Param("id")

	status := h.escalations.WaitForResolution(c.Request.Context(), escalationID, 0)
	c.JSON(http.StatusOK, status)
}

// RequestApproval gates an action through domain policy. For domains that
// require approval the request blocks until the owner decides.
func (h *Handlers) RequestApproval(c *gin.Context) {
	var req types.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Agent.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent.id is required"})
		return
	}
	if req.Action == "" || req.Domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action and domain are required"})
		return
	}

	decision := h.approvals.RequestApproval(c.Request.Context(), req)
	c.JSON(http.StatusOK, decision)
}

// RespondApproval delivers the owner's decision for a pending approval
func (h *Handlers) RespondApproval(c *gin.Context) {
	approvalID := c.Param("id")

	var req types.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	success := h.approvals.SubmitResponse(approvalID, req.Approved, req.Reason)

	c.JSON(http.StatusOK, gin.H{
		"success":     success,
		"approval_id": approvalID,
	})
}

// GetApproval returns one approval record
func (h *Handlers) GetApproval(c *gin.Context) {
	approvalID := c.Param("id")

	record, ok := h.approvals.Approval(approvalID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// SetPermission sets the policy level for one domain
func (h *Handlers) SetPermission(c *gin.Context) {
	domain := c.Param("domain")

	var req types.PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown permission level"})
		return
	}

	h.approvals.SetPermissionLevel(domain, req.Level)

	c.JSON(http.StatusOK, gin.H{
		"domain": domain,
		"level":  req.Level,
	})
}

// GetPermission returns the effective policy level for one domain
func (h *Handlers) GetPermission(c *gin.Context) {
	domain := c.Param("domain")

	c.JSON(http.StatusOK, gin.H{
		"domain": domain,
		"level":  h.approvals.PermissionLevel(domain),
	})
}

// ListPermissions returns every explicitly configured domain rule
func (h *Handlers) ListPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"domains": h.approvals.Permissions(),
	})
}

// LiveStatus reports the pairing and transport state of one live session
func (h *Handlers) LiveStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	response := gin.H{
		"session_id": sessionID,
		"relay":      h.relay.Status(sessionID),
	}
	if session, ok := h.streams.Session(sessionID); ok {
		response["session"] = session
	}
	c.JSON(http.StatusOK, response)
}

// StopLiveSession tears down one streaming session once the agent is done
// with it. Unknown ids and repeated stops are no-ops.
func (h *Handlers) StopLiveSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	h.streams.StopSession(c.Request.Context(), sessionID)
	h.relay.Cleanup(sessionID)

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"stopped":    true,
	})
}
