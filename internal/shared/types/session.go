package types

import "time"

// StreamMode identifies the transport a live session is currently using
type StreamMode string

const (
	ModeWebSocket StreamMode = "ws"
	ModePolling   StreamMode = "http"
)

// BrowserSession is the reportable state of one live streaming session.
// The page handle itself is owned by the caller and never appears here.
type BrowserSession struct {
	ID             string     `json:"id"`
	EscalationID   string     `json:"escalation_id"`
	Mode           StreamMode `json:"mode"`
	ViewportWidth  int        `json:"viewport_width"`
	ViewportHeight int        `json:"viewport_height"`
	Reconnects     int        `json:"reconnects"`
	Closed         bool       `json:"closed"`
	CreatedAt      time.Time  `json:"created_at"`
}
