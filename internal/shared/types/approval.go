package types

import "time"

// PermissionLevel classifies how a domain's actions are gated
type PermissionLevel string

const (
	PermissionAutoApproved     PermissionLevel = "auto_approved"
	PermissionRequiresApproval PermissionLevel = "requires_approval"
	PermissionBlocked          PermissionLevel = "blocked"
)

// Valid reports whether the level is one of the known classifications
func (l PermissionLevel) Valid() bool {
	switch l {
	case PermissionAutoApproved, PermissionRequiresApproval, PermissionBlocked:
		return true
	}
	return false
}

// ApprovalStatus represents the lifecycle state of a pending approval
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// ApprovalRequest describes the agent action awaiting an owner decision
type ApprovalRequest struct {
	Agent   AgentIdentity          `json:"agent"`
	Action  string                 `json:"action"`
	Domain  string                 `json:"domain"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PendingApproval represents one policy-gated action and its decision
type PendingApproval struct {
	ID         string          `json:"id"`
	Request    ApprovalRequest `json:"request"`
	Status     ApprovalStatus  `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Decision methods describe how an approval request was settled
const (
	MethodAuto     = "auto"
	MethodBlocked  = "blocked"
	MethodManual   = "manual"
	MethodTimeout  = "timeout"
	MethodCanceled = "canceled"
)

// ApprovalDecision is returned by RequestApproval
type ApprovalDecision struct {
	Approved   bool   `json:"approved"`
	Method     string `json:"method"`
	ApprovalID string `json:"approval_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
