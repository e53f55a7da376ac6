// Package types provides shared data structures for the escalation gateway.
//
// This package defines core types used across all gateway components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - Escalation: CAPTCHA challenge awaiting human resolution
//   - PendingApproval: Policy-gated action awaiting an owner decision
//   - BrowserSession: Live streaming session state
//   - AgentIdentity: Passport identity attached to records and webhooks
//   - WebhookEvent: Notification payload with deep-link actions
//
// Wire Types:
//   - LiveMessage: JSON envelope on the live relay socket
//   - EscalateRequest, RespondRequest: Bridge API requests
//
// State Management:
//   - EscalationStatus: pending, resolved, timed_out
//   - ApprovalStatus: pending, approved, denied
//   - PermissionLevel: auto_approved, requires_approval, blocked
//   - StreamMode: ws (socket push), http (polling fallback)
//
// Example Usage:
//
//	esc := &types.Escalation{
//	    ID:          string(id.NewEscalationID()),
//	    CaptchaType: "recaptcha_v2",
//	    Status:      types.EscalationPending,
//	}
package types
