package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

const writeWait = 10 * time.Second

// wsLink is one producer connection to the relay, with its frame source
// attached. Gorilla permits a single concurrent writer, so every write
// goes through the mutex.
type wsLink struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	closeOnce  sync.Once
	stopFrames func()
}

func (l *wsLink) writeJSON(msg types.LiveMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode live message: %w", err)
	}
	return l.write(websocket.TextMessage, data)
}

func (l *wsLink) writeBinary(data []byte) error {
	return l.write(websocket.BinaryMessage, data)
}

func (l *wsLink) write(messageType int, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(messageType, data)
}

// kill closes the socket. Safe from any goroutine; the read loop unblocks
// with an error and drives the teardown.
func (l *wsLink) kill() {
	l.closeOnce.Do(func() {
		_ = l.conn.Close()
	})
}

// teardown releases the frame source first, then the socket. Only the
// session goroutine calls this.
func (l *wsLink) teardown() {
	if l.stopFrames != nil {
		l.stopFrames()
	}
	l.kill()
}

func (c *Channel) endpoint(sessionID string) string {
	return strings.TrimRight(c.cfg.RelayURL, "/") + "/" + sessionID
}

// connect performs the full primary transport setup: dial the relay,
// identify as producer, announce metadata, attach the frame source, and
// push one screenshot so the viewer is never blank before the first cast
// frame arrives.
func (c *Channel) connect(ctx context.Context, sess *session) (*wsLink, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint(sess.id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	link := &wsLink{conn: conn}

	if err := link.writeJSON(types.LiveMessage{Type: types.LiveTypeIdentify, Role: types.RoleProducer}); err != nil {
		link.kill()
		return nil, fmt.Errorf("failed to identify: %w", err)
	}
	if err := link.writeJSON(c.metadataMessage(ctx, sess)); err != nil {
		link.kill()
		return nil, fmt.Errorf("failed to send metadata: %w", err)
	}

	opts := page.FrameOptions{Quality: frameQuality, MaxWidth: frameMaxWidth, MaxHeight: frameMaxHeight}
	stop, err := sess.page.StartFrameStream(ctx, opts, func(data []byte) {
		if err := link.writeBinary(data); err != nil {
			// A dead socket; the read loop picks it up from here.
			link.kill()
			return
		}
		if c.metrics != nil {
			c.metrics.RecordStreamFrame(string(types.ModeWebSocket))
		}
	})
	if err != nil {
		link.kill()
		return nil, fmt.Errorf("failed to attach frame source: %w", err)
	}
	link.stopFrames = stop

	if shot, err := sess.page.Screenshot(ctx); err == nil {
		if link.writeBinary(shot) == nil && c.metrics != nil {
			c.metrics.RecordStreamFrame(string(types.ModeWebSocket))
		}
	}
	return link, nil
}

func (c *Channel) metadataMessage(ctx context.Context, sess *session) types.LiveMessage {
	if url, err := sess.page.URL(ctx); err == nil {
		sess.rememberURL(url)
	}
	width, height := sess.viewport()
	return types.LiveMessage{
		Type:     types.LiveTypeMetadata,
		URL:      sess.lastURL(),
		Viewport: &types.Viewport{Width: width, Height: height},
	}
}

// runPrimary drives the websocket transport across disconnects. It returns
// true when the backoff schedule is exhausted and the session should drop to
// polling, false when the session context ended.
func (c *Channel) runPrimary(ctx context.Context, sess *session, link *wsLink) bool {
	for {
		c.readLoop(ctx, sess, link)
		link.teardown()
		if ctx.Err() != nil {
			return false
		}

		c.logger.Warn("live socket lost, reconnecting",
			zap.String("session_id", sess.id))
		link = nil
		for _, delay := range c.cfg.ReconnectBackoff {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}

			sess.addReconnect()
			if c.metrics != nil {
				c.metrics.IncStreamReconnects()
			}
			next, err := c.connect(ctx, sess)
			if err != nil {
				c.logger.Debug("reconnect attempt failed",
					zap.String("session_id", sess.id),
					zap.Error(err))
				continue
			}
			link = next
			break
		}
		if link == nil {
			return true
		}
		c.logger.Info("live socket reconnected", zap.String("session_id", sess.id))
	}
}

// readLoop consumes relay messages until the socket dies or the session
// context ends. Commands run inline, preserving their arrival order.
func (c *Channel) readLoop(ctx context.Context, sess *session, link *wsLink) {
	unhook := context.AfterFunc(ctx, link.kill)
	defer unhook()

	for {
		messageType, data, err := link.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleText(ctx, sess, data)
	}
}

func (c *Channel) handleText(ctx context.Context, sess *session, data []byte) {
	var msg types.LiveMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("discarding malformed live message",
			zap.String("session_id", sess.id),
			zap.Error(err))
		return
	}
	if msg.Type != types.LiveTypeCommand {
		return
	}

	cmd, err := types.ParseCommand(msg.Command, msg.Payload)
	if err != nil {
		c.logger.Warn("discarding malformed command payload",
			zap.String("session_id", sess.id),
			zap.String("command", msg.Command),
			zap.Error(err))
		return
	}
	if unknown, ok := cmd.(types.UnknownCommand); ok {
		c.logger.Debug("ignoring unknown command kind",
			zap.String("session_id", sess.id),
			zap.String("command", unknown.Kind))
		if c.metrics != nil {
			c.metrics.RecordStreamCommand(unknown.Kind, "ignored")
		}
		return
	}

	result := "executed"
	if err := Execute(ctx, sess.page, cmd); err != nil {
		result = "failed"
		c.logger.Warn("command execution failed",
			zap.String("session_id", sess.id),
			zap.String("command", types.CommandKind(cmd)),
			zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.RecordStreamCommand(types.CommandKind(cmd), result)
	}
}
