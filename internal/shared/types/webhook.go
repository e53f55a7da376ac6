package types

import "time"

// Webhook event names emitted by the gateway
const (
	EventCaptchaNeeded  = "agent.captcha_needed"
	EventApprovalNeeded = "agent.approval_needed"
)

// Webhook action types attached to events as deep links
const (
	ActionSolve   = "solve"
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// WebhookAction is a deep-link button the owner can follow from a
// notification
type WebhookAction struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url,omitempty"`
}

// WebhookEvent is the payload posted to the owner's webhook endpoint.
// Delivery reliability is the receiver's concern; the gateway emits once.
type WebhookEvent struct {
	Event     string                 `json:"event"`
	Agent     AgentIdentity          `json:"agent"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Actions   []WebhookAction        `json:"actions,omitempty"`
}
