package types

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Command is a remote control instruction decoded from its wire form
// exactly once, at the transport boundary. The set of implementations is
// closed; consumers switch on the concrete type and treat UnknownCommand
// as a logged no-op.
type Command interface {
	isCommand()
}

// ClickCommand clicks the page at viewport coordinates.
type ClickCommand struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TypeCommand inserts text at the current focus.
type TypeCommand struct {
	Text string `json:"text"`
}

// KeypressCommand presses a single named key.
type KeypressCommand struct {
	Key string `json:"key"`
}

// ScrollCommand scrolls the page by pixel deltas.
type ScrollCommand struct {
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
}

// UnknownCommand preserves the kind of an unrecognized instruction so the
// caller can log it before dropping it.
type UnknownCommand struct {
	Kind string
}

func (ClickCommand) isCommand()    {}
func (TypeCommand) isCommand()     {}
func (KeypressCommand) isCommand() {}
func (ScrollCommand) isCommand()   {}
func (UnknownCommand) isCommand()  {}

// Command kind discriminators as they appear on the wire.
const (
	CommandClick    = "click"
	CommandType     = "type"
	CommandKeypress = "keypress"
	CommandScroll   = "scroll"
)

// CommandKind reports the wire discriminator of a decoded command.
func CommandKind(cmd Command) string {
	switch c := cmd.(type) {
	case ClickCommand:
		return CommandClick
	case TypeCommand:
		return CommandType
	case KeypressCommand:
		return CommandKeypress
	case ScrollCommand:
		return CommandScroll
	case UnknownCommand:
		return c.Kind
	default:
		return ""
	}
}

// ParseCommand decodes one wire command into the closed union. Unrecognized
// kinds return UnknownCommand with a nil error; a malformed payload for a
// recognized kind is the caller's input error.
func ParseCommand(kind string, payload json.RawMessage) (Command, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch kind {
	case CommandClick:
		var cmd ClickCommand
		if err := sonic.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("failed to decode click command: %w", err)
		}
		return cmd, nil
	case CommandType:
		var cmd TypeCommand
		if err := sonic.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("failed to decode type command: %w", err)
		}
		return cmd, nil
	case CommandKeypress:
		var cmd KeypressCommand
		if err := sonic.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("failed to decode keypress command: %w", err)
		}
		return cmd, nil
	case CommandScroll:
		var cmd ScrollCommand
		if err := sonic.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("failed to decode scroll command: %w", err)
		}
		return cmd, nil
	default:
		return UnknownCommand{Kind: kind}, nil
	}
}
