package stream

import (
	"context"
	"sync"
	"time"

	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// session is the live record for one streamed page. The page handle is
// borrowed from the caller; the session never closes it.
type session struct {
	id           string
	escalationID string
	page         page.Page
	createdAt    time.Time

	cancel context.CancelFunc
	done   chan struct{} // closed when the transport goroutine exits

	mu             sync.Mutex
	mode           types.StreamMode // Protected by mu
	closed         bool             // Protected by mu
	reconnects     int              // Protected by mu
	pageURL        string           // Protected by mu
	viewportWidth  int              // Protected by mu
	viewportHeight int              // Protected by mu
}

func (s *session) setMode(mode types.StreamMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

func (s *session) currentMode() types.StreamMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *session) addReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
}

// rememberURL keeps the last page URL that could actually be read, so
// metadata still carries something useful when a later read fails.
func (s *session) rememberURL(url string) {
	if url == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageURL = url
}

func (s *session) lastURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageURL
}

func (s *session) viewport() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewportWidth, s.viewportHeight
}

// snapshot returns the reportable state of the session.
func (s *session) snapshot() types.BrowserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.BrowserSession{
		ID:             s.id,
		EscalationID:   s.escalationID,
		Mode:           s.mode,
		ViewportWidth:  s.viewportWidth,
		ViewportHeight: s.viewportHeight,
		Reconnects:     s.reconnects,
		Closed:         s.closed,
		CreatedAt:      s.createdAt,
	}
}
