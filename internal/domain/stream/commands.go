package stream

import (
	"context"
	"fmt"

	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// Execute applies one decoded command to the page. Both transports funnel
// through here so click, type, keypress, and scroll behave identically no
// matter how the command arrived.
func Execute(ctx context.Context, p page.Page, cmd types.Command) error {
	switch c := cmd.(type) {
	case types.ClickCommand:
		return p.Click(ctx, c.X, c.Y)
	case types.TypeCommand:
		return p.Type(ctx, c.Text)
	case types.KeypressCommand:
		return p.Press(ctx, c.Key)
	case types.ScrollCommand:
		return p.Scroll(ctx, c.DeltaX, c.DeltaY)
	case types.UnknownCommand:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	default:
		return fmt.Errorf("unhandled command type %T", cmd)
	}
}
