package types

// EscalateRequest asks the gateway to escalate a CAPTCHA to the owner
type EscalateRequest struct {
	AgentID      string `json:"agent_id" binding:"required"`
	AgentName    string `json:"agent_name,omitempty"`
	CaptchaType  string `json:"captcha_type" binding:"required"`
	Screenshot   string `json:"screenshot,omitempty"`
	PageURL      string `json:"page_url,omitempty"`
	PageTargetID string `json:"page_target_id,omitempty"`
}

// RespondRequest delivers an owner decision for a pending approval
type RespondRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// PermissionRequest sets the policy level for one domain
type PermissionRequest struct {
	Level PermissionLevel `json:"level" binding:"required"`
}
