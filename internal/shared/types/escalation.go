package types

import "time"

// EscalationStatus represents the lifecycle state of a CAPTCHA escalation
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationResolved EscalationStatus = "resolved"
	EscalationTimedOut EscalationStatus = "timed_out"
)

// Terminal reports whether the status can no longer transition
func (s EscalationStatus) Terminal() bool {
	return s == EscalationResolved || s == EscalationTimedOut
}

// AgentIdentity identifies the agent (passport) an escalation or approval
// belongs to
type AgentIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Escalation represents one CAPTCHA challenge awaiting human resolution
type Escalation struct {
	ID               string           `json:"id"`
	Agent            AgentIdentity    `json:"agent"`
	CaptchaType      string           `json:"captcha_type"`
	Screenshot       string           `json:"screenshot,omitempty"` // data URL or reference
	PageURL          string           `json:"page_url,omitempty"`
	BrowserSessionID string           `json:"browser_session_id,omitempty"`
	Status           EscalationStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// EscalationResult is returned by Escalate
type EscalationResult struct {
	EscalationID     string           `json:"escalation_id"`
	BrowserSessionID string           `json:"browser_session_id,omitempty"`
	Status           EscalationStatus `json:"status"`
}

// ResolutionStatus is returned by CheckResolution and WaitForResolution
type ResolutionStatus struct {
	Resolved bool `json:"resolved"`
	TimedOut bool `json:"timed_out,omitempty"`
}
