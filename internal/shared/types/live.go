package types

import "encoding/json"

// Live socket message types
const (
	LiveTypeIdentify = "identify"
	LiveTypeMetadata = "metadata"
	LiveTypeCommand  = "command"
)

// Live socket roles; the first message after connect must identify one
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// Viewport describes the streamed page dimensions
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LiveMessage is the JSON envelope for text frames on the live socket.
// Binary frames carry raw JPEG data and bypass this envelope entirely.
type LiveMessage struct {
	Type     string          `json:"type"`
	Role     string          `json:"role,omitempty"`     // identify
	URL      string          `json:"url,omitempty"`      // metadata
	Viewport *Viewport       `json:"viewport,omitempty"` // metadata
	Command  string          `json:"command,omitempty"`  // command
	Payload  json.RawMessage `json:"payload,omitempty"`  // command
}
