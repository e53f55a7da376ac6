package page

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/config"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Driver attaches to the agent's already-running browser over CDP. It never
// launches a browser of its own: the pages it hands out belong to the
// automation that hit the CAPTCHA, and stay alive after the gateway detaches.
type Driver struct {
	mu      sync.Mutex
	browser *rod.Browser // Protected by mu
	cfg     config.BrowserConfig
	logger  *logging.Logger
}

// NewDriver creates a driver for the configured CDP endpoint.
func NewDriver(cfg config.BrowserConfig, logger *logging.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		logger: logger.Component("page"),
	}
}

// Connect dials the browser's DevTools socket. Safe to call repeatedly; a
// healthy connection is reused.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// An empty control URL would make rod launch a browser of its own.
	if d.cfg.ControlURL == "" {
		return fmt.Errorf("no browser control url configured")
	}

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		d.logger.Warn("stale browser connection, reconnecting")
		_ = d.browser.Close()
		d.browser = nil
	}

	browser := rod.New().ControlURL(d.cfg.ControlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser at %s: %w", d.cfg.ControlURL, err)
	}

	d.browser = browser
	d.logger.Info("browser attached", zap.String("control_url", d.cfg.ControlURL))
	return nil
}

// Attach binds to an existing page by CDP target id.
func (d *Driver) Attach(ctx context.Context, targetID string) (Page, error) {
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()

	p, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	return &rodPage{page: p}, nil
}

// Close drops the browser connection. Pages stay open; only the gateway's
// CDP attachment ends.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	return err
}

// rodPage adapts one rod page to the Page capability.
type rodPage struct {
	page *rod.Page
}

// Wrap adapts an externally owned rod page.
func Wrap(p *rod.Page) Page {
	return &rodPage{page: p}
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Viewport(ctx context.Context) (int, int, error) {
	metrics, err := proto.PageGetLayoutMetrics{}.Call(p.page.Context(ctx))
	if err != nil {
		return 0, 0, fmt.Errorf("layout metrics: %w", err)
	}
	if metrics.CSSLayoutViewport == nil {
		return 0, 0, fmt.Errorf("layout metrics: no viewport reported")
	}
	return metrics.CSSLayoutViewport.ClientWidth, metrics.CSSLayoutViewport.ClientHeight, nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	quality := screenshotQuality
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}

const screenshotQuality = 60

func (p *rodPage) StartFrameStream(ctx context.Context, opts FrameOptions, handler func(data []byte)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	page := p.page.Context(streamCtx)

	// Subscribe before starting the cast so the first frame is not lost.
	wait := page.EachEvent(func(ev *proto.PageScreencastFrame) {
		handler(ev.Data)
		// The ack is the flow control: the browser holds the next frame
		// until this one is acknowledged.
		_ = proto.PageScreencastFrameAck{SessionID: ev.SessionID}.Call(page)
	})

	err := proto.PageStartScreencast{
		Format:    proto.PageStartScreencastFormatJpeg,
		Quality:   &opts.Quality,
		MaxWidth:  &opts.MaxWidth,
		MaxHeight: &opts.MaxHeight,
	}.Call(page)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = proto.PageStopScreencast{}.Call(p.page)
			cancel()
			<-done
		})
	}
	return stop, nil
}

func (p *rodPage) Click(ctx context.Context, x, y float64) error {
	page := p.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, text string) error {
	if err := p.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	page := p.page.Context(ctx)

	down := proto.InputDispatchKeyEvent{
		Type: proto.InputDispatchKeyEventTypeKeyDown,
		Key:  key,
		Text: keyText(key),
	}
	if err := down.Call(page); err != nil {
		return fmt.Errorf("key down %q: %w", key, err)
	}

	up := proto.InputDispatchKeyEvent{
		Type: proto.InputDispatchKeyEventTypeKeyUp,
		Key:  key,
	}
	if err := up.Call(page); err != nil {
		return fmt.Errorf("key up %q: %w", key, err)
	}
	return nil
}

// keyText maps a key name to the text it produces, so keyDown events carry
// the character for printable keys.
func keyText(key string) string {
	switch key {
	case "Enter":
		return "\r"
	case "Tab":
		return "\t"
	default:
		if len([]rune(key)) == 1 {
			return key
		}
		return ""
	}
}

func (p *rodPage) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	if err := p.page.Context(ctx).Mouse.Scroll(deltaX, deltaY, 1); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}
