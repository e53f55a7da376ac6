package page

import "context"

// Page is the capability surface the gateway needs from a live browser
// page. The page is owned by the agent's own automation; the gateway never
// navigates it, never closes it, and only observes and injects input.
type Page interface {
	// URL returns the page's current address.
	URL(ctx context.Context) (string, error)

	// Viewport returns the page's layout viewport in CSS pixels.
	Viewport(ctx context.Context) (width, height int, err error)

	// Screenshot captures the current visual state as JPEG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// StartFrameStream attaches a change-triggered JPEG frame source.
	// Each frame is acknowledged only after handler returns, so a slow
	// consumer throttles emission instead of buffering frames. The stop
	// function detaches the source and is safe to call more than once.
	StartFrameStream(ctx context.Context, opts FrameOptions, handler func(data []byte)) (stop func(), err error)

	// Click presses the left mouse button at viewport coordinates.
	Click(ctx context.Context, x, y float64) error

	// Type inserts text at the current focus.
	Type(ctx context.Context, text string) error

	// Press sends a key down/up pair for a named key.
	Press(ctx context.Context, key string) error

	// Scroll wheels the page by pixel deltas.
	Scroll(ctx context.Context, deltaX, deltaY float64) error
}

// FrameOptions bounds the frame source's output.
type FrameOptions struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
}
