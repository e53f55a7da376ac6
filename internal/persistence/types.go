package persistence

import (
	"encoding/json"
	"time"
)

// The platform API speaks camelCase; these records mirror its wire format
// and stay inside this package. Gateway-internal JSON is snake_case.

// EscalationRecord is the platform's view of an escalation.
type EscalationRecord struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// EscalationStatus is a point-in-time remote status read.
type EscalationStatus struct {
	Status     string     `json:"status"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// BrowserSessionRecord is the platform's view of a streaming session.
type BrowserSessionRecord struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommandRecord is one queued remote control command.
type CommandRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Command queue statuses.
const (
	CommandPending  = "pending"
	CommandExecuted = "executed"
	CommandFailed   = "failed"
)

// Passport is an agent identity registered with the platform.
type Passport struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey string    `json:"publicKey,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// VerifyResult reports a signature check against a passport's public key.
type VerifyResult struct {
	Valid bool `json:"valid"`
}

// TrustScore is the platform's trust rating for a passport.
type TrustScore struct {
	Score float64 `json:"score"`
}

// Message is one passport-to-passport message.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}
