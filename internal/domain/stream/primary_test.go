package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// stubConn is the relay's side of one accepted producer socket.
type stubConn struct {
	conn     *websocket.Conn
	texts    chan []byte
	binaries chan []byte
}

func (sc *stubConn) nextText(t *testing.T) types.LiveMessage {
	t.Helper()
	select {
	case data := <-sc.texts:
		var msg types.LiveMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for text message")
		return types.LiveMessage{}
	}
}

func (sc *stubConn) nextBinary(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-sc.binaries:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for binary frame")
		return nil
	}
}

func (sc *stubConn) sendCommand(t *testing.T, command, payload string) {
	t.Helper()
	msg := fmt.Sprintf(`{"type":"command","command":%q,"payload":%s}`, command, payload)
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (sc *stubConn) drop() {
	_ = sc.conn.Close()
}

// relayStub accepts producer sockets the way the relay does and hands each
// accepted connection to the test for scripting.
type relayStub struct {
	server    *httptest.Server
	refuse    atomic.Bool
	connected chan *stubConn

	mu    sync.Mutex
	paths []string
}

func newRelayStub(t *testing.T) *relayStub {
	stub := &relayStub{connected: make(chan *stubConn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if stub.refuse.Load() {
			http.Error(w, "relay draining", http.StatusServiceUnavailable)
			return
		}
		stub.mu.Lock()
		stub.paths = append(stub.paths, r.URL.Path)
		stub.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &stubConn{conn: conn, texts: make(chan []byte, 16), binaries: make(chan []byte, 64)}
		stub.connected <- sc
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				_ = conn.Close()
				return
			}
			switch messageType {
			case websocket.TextMessage:
				sc.texts <- data
			case websocket.BinaryMessage:
				sc.binaries <- data
			}
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/live"
}

func (s *relayStub) accept(t *testing.T) *stubConn {
	t.Helper()
	select {
	case sc := <-s.connected:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for producer to connect")
		return nil
	}
}

func (s *relayStub) pathLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func wsConfig(stub *relayStub) Config {
	return Config{
		RelayURL:            stub.url(),
		ScreenshotInterval:  time.Hour,
		CommandPollInterval: time.Hour,
		ReconnectBackoff:    []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
	}
}

// drainSetup consumes the identify, metadata, and initial screenshot
// messages every fresh connection starts with.
func drainSetup(t *testing.T, sc *stubConn) {
	t.Helper()
	sc.nextText(t)
	sc.nextText(t)
	sc.nextBinary(t)
}

func TestPrimaryHandshakeAndFrames(t *testing.T) {
	stub := newRelayStub(t)
	store := &fakeStore{}
	pg := newFakePage()
	channel := NewChannel(wsConfig(stub), store, logging.NewNop())

	sessionID, err := channel.StartSession(context.Background(), "esc_1", pg)
	require.NoError(t, err)
	sc := stub.accept(t)

	identify := sc.nextText(t)
	assert.Equal(t, types.LiveTypeIdentify, identify.Type)
	assert.Equal(t, types.RoleProducer, identify.Role)

	metadata := sc.nextText(t)
	assert.Equal(t, types.LiveTypeMetadata, metadata.Type)
	assert.Equal(t, "https://shop.example/checkout", metadata.URL)
	require.NotNil(t, metadata.Viewport)
	assert.Equal(t, types.Viewport{Width: 1280, Height: 720}, *metadata.Viewport)

	// The immediate screenshot lands before any cast frame.
	assert.Equal(t, []byte("jpeg-screenshot"), sc.nextBinary(t))

	pg.frames <- []byte("frame-1")
	assert.Equal(t, []byte("frame-1"), sc.nextBinary(t))
	pg.frames <- []byte("frame-2")
	assert.Equal(t, []byte("frame-2"), sc.nextBinary(t))

	assert.Equal(t, page.FrameOptions{Quality: 60, MaxWidth: 1280, MaxHeight: 720}, pg.frameOpts())
	assert.Equal(t, []string{"/live/" + sessionID}, stub.pathLog())

	snap, ok := channel.Session(sessionID)
	require.True(t, ok)
	assert.Equal(t, types.ModeWebSocket, snap.Mode)
	assert.Zero(t, snap.Reconnects)

	channel.StopSession(context.Background(), sessionID)
	assert.Equal(t, []string{sessionID}, store.closedLog())
}

func TestPrimaryExecutesInboundCommands(t *testing.T) {
	stub := newRelayStub(t)
	pg := newFakePage()
	channel := NewChannel(wsConfig(stub), &fakeStore{}, logging.NewNop())

	sessionID, err := channel.StartSession(context.Background(), "esc_1", pg)
	require.NoError(t, err)
	sc := stub.accept(t)
	drainSetup(t, sc)

	sc.sendCommand(t, "click", `{"x":3,"y":4}`)
	sc.sendCommand(t, "drag", `{"x":1}`)
	sc.sendCommand(t, "type", `{"text":"hi"}`)
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sc.sendCommand(t, "scroll", `{"deltaX":"sideways"}`)
	sc.sendCommand(t, "keypress", `{"key":"Enter"}`)

	// Unknown kinds and malformed payloads are dropped; the loop keeps
	// serving what follows them.
	require.Eventually(t, func() bool { return len(pg.actionLog()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"click(3,4)", "type(hi)", "press(Enter)"}, pg.actionLog())

	channel.StopSession(context.Background(), sessionID)
}

func TestPrimaryReconnectsAfterDrop(t *testing.T) {
	stub := newRelayStub(t)
	pg := newFakePage()
	channel := NewChannel(wsConfig(stub), &fakeStore{}, logging.NewNop())

	sessionID, err := channel.StartSession(context.Background(), "esc_1", pg)
	require.NoError(t, err)
	first := stub.accept(t)
	drainSetup(t, first)

	first.drop()

	// A fresh socket arrives with a full handshake and a new subscription.
	second := stub.accept(t)
	identify := second.nextText(t)
	assert.Equal(t, types.LiveTypeIdentify, identify.Type)
	assert.Equal(t, types.RoleProducer, identify.Role)
	second.nextText(t)
	second.nextBinary(t)

	require.Eventually(t, func() bool { return pg.streamCount() == 2 }, time.Second, 5*time.Millisecond)

	pg.frames <- []byte("frame-after-reconnect")
	assert.Equal(t, []byte("frame-after-reconnect"), second.nextBinary(t))

	snap, ok := channel.Session(sessionID)
	require.True(t, ok)
	assert.Equal(t, types.ModeWebSocket, snap.Mode)
	assert.Equal(t, 1, snap.Reconnects)

	channel.StopSession(context.Background(), sessionID)
}

func TestPrimaryFallsBackWhenReconnectsExhausted(t *testing.T) {
	stub := newRelayStub(t)
	cfg := wsConfig(stub)
	cfg.ScreenshotInterval = 20 * time.Millisecond
	store := &fakeStore{}
	channel := NewChannel(cfg, store, logging.NewNop())

	sessionID, err := channel.StartSession(context.Background(), "esc_1", newFakePage())
	require.NoError(t, err)
	sc := stub.accept(t)
	drainSetup(t, sc)

	stub.refuse.Store(true)
	sc.drop()

	require.Eventually(t, func() bool {
		snap, ok := channel.Session(sessionID)
		return ok && snap.Mode == types.ModePolling && snap.Reconnects == 3
	}, 2*time.Second, 10*time.Millisecond)

	// The session survives the downgrade and keeps streaming over HTTP.
	assert.True(t, channel.IsSessionActive(sessionID))
	require.Eventually(t, func() bool { return store.screenshotCount() >= 1 }, time.Second, 10*time.Millisecond)

	channel.StopSession(context.Background(), sessionID)
}
