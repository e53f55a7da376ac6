package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/shared/id"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// Frame encoding shared by both transports.
const (
	frameQuality   = 60
	frameMaxWidth  = 1280
	frameMaxHeight = 720
)

// Store is the persistence surface the channel needs: session registration
// plus the screenshot/command endpoints backing the polling fallback.
type Store interface {
	CreateBrowserSession(ctx context.Context, escalationID, pageURL string, viewportW, viewportH int) (*persistence.BrowserSessionRecord, error)
	UpdateScreenshot(ctx context.Context, sessionID, dataURL, pageURL string) error
	GetCommands(ctx context.Context, sessionID, status string) ([]persistence.CommandRecord, error)
	UpdateCommandStatus(ctx context.Context, sessionID, commandID, status string) error
	CloseSession(ctx context.Context, sessionID string) error
}

// Config tunes the channel's transports. Zero intervals and a nil backoff
// schedule are replaced by the defaults.
type Config struct {
	// RelayURL is the websocket base the producer dials; the session ID is
	// appended as the final path segment.
	RelayURL string

	// ScreenshotInterval paces fallback screenshot pushes.
	ScreenshotInterval time.Duration

	// CommandPollInterval paces fallback command polling.
	CommandPollInterval time.Duration

	// ReconnectBackoff is the wait before each reconnect attempt. Once the
	// schedule is exhausted the session drops to polling for good.
	ReconnectBackoff []time.Duration
}

// DefaultConfig returns the production transport tuning.
func DefaultConfig(relayURL string) Config {
	return Config{
		RelayURL:            relayURL,
		ScreenshotInterval:  500 * time.Millisecond,
		CommandPollInterval: 300 * time.Millisecond,
		ReconnectBackoff:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.RelayURL)
	if c.ScreenshotInterval <= 0 {
		c.ScreenshotInterval = def.ScreenshotInterval
	}
	if c.CommandPollInterval <= 0 {
		c.CommandPollInterval = def.CommandPollInterval
	}
	if c.ReconnectBackoff == nil {
		c.ReconnectBackoff = def.ReconnectBackoff
	}
	return c
}

// Channel streams live pages to human viewers. Each session runs one
// transport goroutine: the relay websocket while it holds, HTTP polling
// against the platform once the socket is gone for good.
type Channel struct {
	mu       sync.RWMutex
	sessions map[string]*session // Protected by mu

	cfg     Config
	store   Store
	dialer  *websocket.Dialer
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewChannel creates a streaming channel over the given persistence store.
func NewChannel(cfg Config, store Store, logger *logging.Logger) *Channel {
	return &Channel{
		sessions: make(map[string]*session),
		cfg:      cfg.withDefaults(),
		store:    store,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.Component("stream"),
	}
}

// WithMetrics adds metrics tracking to the channel.
func (c *Channel) WithMetrics(metrics *monitoring.Metrics) *Channel {
	c.metrics = metrics
	return c
}

// StartSession registers a new browser session for an escalation and begins
// streaming the page. Registration is the one step that can fail the call;
// transport setup problems degrade to the polling fallback instead.
//
// The page handle stays owned by the caller and is never closed here.
func (c *Channel) StartSession(ctx context.Context, escalationID string, pg page.Page) (string, error) {
	pageURL, err := pg.URL(ctx)
	if err != nil {
		c.logger.Debug("page url unavailable at session start", zap.Error(err))
		pageURL = ""
	}
	width, height, err := pg.Viewport(ctx)
	if err != nil {
		c.logger.Debug("page viewport unavailable at session start", zap.Error(err))
		width, height = 0, 0
	}

	record, err := c.store.CreateBrowserSession(ctx, escalationID, pageURL, width, height)
	if err != nil {
		return "", fmt.Errorf("failed to register browser session: %w", err)
	}
	sessionID := record.SessionID
	if sessionID == "" {
		sessionID = id.NewBrowserSessionID().String()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:             sessionID,
		escalationID:   escalationID,
		page:           pg,
		createdAt:      time.Now().UTC(),
		cancel:         cancel,
		done:           make(chan struct{}),
		pageURL:        pageURL,
		viewportWidth:  width,
		viewportHeight: height,
	}

	c.mu.Lock()
	c.sessions[sessionID] = sess
	count := len(c.sessions)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetStreamSessions(count)
	}

	// Pick the transport before returning so the caller knows streaming is
	// underway. The websocket is primary; any setup failure means polling.
	link, err := c.connect(runCtx, sess)
	if err != nil {
		c.logger.Warn("live socket unavailable, starting in polling mode",
			zap.String("session_id", sessionID),
			zap.Error(err))
		link = nil
	}
	sess.setMode(modeFor(link))

	go c.run(runCtx, sess, link)

	c.logger.Info("browser session started",
		zap.String("session_id", sessionID),
		zap.String("escalation_id", escalationID),
		zap.String("mode", string(modeFor(link))))
	return sessionID, nil
}

func modeFor(link *wsLink) types.StreamMode {
	if link == nil {
		return types.ModePolling
	}
	return types.ModeWebSocket
}

// run owns the session's transport lifetime. It holds the websocket through
// reconnects while it can, then degrades to polling permanently.
func (c *Channel) run(ctx context.Context, sess *session, link *wsLink) {
	defer close(sess.done)

	if link != nil {
		if !c.runPrimary(ctx, sess, link) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	sess.setMode(types.ModePolling)
	if c.metrics != nil {
		c.metrics.IncStreamFallbacks()
	}
	c.logger.Info("session degraded to polling fallback",
		zap.String("session_id", sess.id))
	c.runFallback(ctx, sess)
}

// StopSession tears down one session: the transport goroutine is stopped and
// the platform-side record closed best effort. Unknown IDs and repeated calls
// are no-ops, and the streamed page itself is left open for the agent.
func (c *Channel) StopSession(ctx context.Context, sessionID string) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	count := len(c.sessions)
	c.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel()
	select {
	case <-sess.done:
	case <-ctx.Done():
	}
	sess.markClosed()

	if err := c.store.CloseSession(ctx, sessionID); err != nil {
		c.logger.Debug("failed to close platform session record",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.SetStreamSessions(count)
	}
	c.logger.Info("browser session stopped", zap.String("session_id", sessionID))
}

// StopAll stops every active session concurrently and waits for all of them.
func (c *Channel) StopAll(ctx context.Context) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for sessionID := range c.sessions {
		ids = append(ids, sessionID)
	}
	c.mu.RUnlock()

	var g errgroup.Group
	for _, sessionID := range ids {
		sessionID := sessionID
		g.Go(func() error {
			c.StopSession(ctx, sessionID)
			return nil
		})
	}
	_ = g.Wait()
}

// IsSessionActive reports whether a session is still streaming.
func (c *Channel) IsSessionActive(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}

// ActiveSessions returns the IDs of all streaming sessions.
func (c *Channel) ActiveSessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sessions))
	for sessionID := range c.sessions {
		ids = append(ids, sessionID)
	}
	return ids
}

// Session returns a point-in-time snapshot of one session.
func (c *Channel) Session(sessionID string) (types.BrowserSession, bool) {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return types.BrowserSession{}, false
	}
	return sess.snapshot(), true
}

// Sessions returns snapshots of all active sessions.
func (c *Channel) Sessions() []types.BrowserSession {
	c.mu.RLock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.mu.RUnlock()

	out := make([]types.BrowserSession, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.snapshot())
	}
	return out
}
