package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

type fakeStore struct {
	mu          sync.Mutex
	createID    string
	createErr   error
	createCalls int
	status      *persistence.EscalationStatus
	statusErr   error
	statusCalls int
}

func (s *fakeStore) CreateEscalation(ctx context.Context, agent types.AgentIdentity, captchaType, screenshot string) (*persistence.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &persistence.EscalationRecord{ID: s.createID, Status: "pending", CreatedAt: time.Now().UTC()}, nil
}

func (s *fakeStore) GetEscalationStatus(ctx context.Context, escalationID string) (*persistence.EscalationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	if s.status == nil {
		return &persistence.EscalationStatus{Status: "pending"}, nil
	}
	return s.status, nil
}

func (s *fakeStore) setStatus(status *persistence.EscalationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

type fakeStreamer struct {
	mu        sync.Mutex
	sessionID string
	err       error
	calls     []string
}

func (f *fakeStreamer) StartSession(ctx context.Context, escalationID string, pg page.Page) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, escalationID)
	if f.err != nil {
		return "", f.err
	}
	return f.sessionID, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	events []types.WebhookEvent
}

func (f *fakeNotifier) Emit(ctx context.Context, event types.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeNotifier) eventLog() []types.WebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.WebhookEvent(nil), f.events...)
}

// stubPage satisfies the page capability; the coordinator only passes it
// through to the streamer.
type stubPage struct{}

func (stubPage) URL(ctx context.Context) (string, error)          { return "https://shop.example", nil }
func (stubPage) Viewport(ctx context.Context) (int, int, error)   { return 1280, 720, nil }
func (stubPage) Screenshot(ctx context.Context) ([]byte, error)   { return []byte("jpeg"), nil }
func (stubPage) Click(ctx context.Context, x, y float64) error    { return nil }
func (stubPage) Type(ctx context.Context, text string) error      { return nil }
func (stubPage) Press(ctx context.Context, key string) error      { return nil }
func (stubPage) Scroll(ctx context.Context, dx, dy float64) error { return nil }
func (stubPage) StartFrameStream(ctx context.Context, opts page.FrameOptions, handler func([]byte)) (func(), error) {
	return func() {}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() Config {
	return Config{
		Timeout:      time.Minute,
		PollInterval: 10 * time.Millisecond,
		DashboardURL: "https://app.agentpass.test",
	}
}

func escalateReq() types.EscalateRequest {
	return types.EscalateRequest{
		AgentID:     "agent-1",
		AgentName:   "shopping-bot",
		CaptchaType: "recaptcha_v2",
		PageURL:     "https://shop.example/checkout",
	}
}

func TestEscalatePersistsStreamsAndNotifies(t *testing.T) {
	store := &fakeStore{createID: "esc_remote"}
	streamer := &fakeStreamer{sessionID: "sess-1"}
	notifier := &fakeNotifier{}
	coord := NewCoordinator(testConfig(), store, notifier, logging.NewNop()).WithStreamer(streamer)

	result := coord.Escalate(context.Background(), escalateReq(), stubPage{})

	assert.Equal(t, "esc_remote", result.EscalationID)
	assert.Equal(t, "sess-1", result.BrowserSessionID)
	assert.Equal(t, types.EscalationPending, result.Status)
	assert.Equal(t, []string{"esc_remote"}, streamer.calls)

	events := notifier.eventLog()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, types.EventCaptchaNeeded, event.Event)
	assert.Equal(t, types.AgentIdentity{ID: "agent-1", Name: "shopping-bot"}, event.Agent)
	assert.Equal(t, "esc_remote", event.Data["escalation_id"])
	assert.Equal(t, "recaptcha_v2", event.Data["captcha_type"])
	assert.Equal(t, "sess-1", event.Data["browser_session_id"])
	require.Len(t, event.Actions, 1)
	assert.Equal(t, types.ActionSolve, event.Actions[0].Type)
	assert.Equal(t, "https://app.agentpass.test/solve/esc_remote", event.Actions[0].URL)

	record, ok := coord.Get("esc_remote")
	require.True(t, ok)
	assert.Equal(t, types.EscalationPending, record.Status)
	assert.Equal(t, "sess-1", record.BrowserSessionID)
}

func TestEscalateFallsBackToLocalID(t *testing.T) {
	store := &fakeStore{createErr: errors.New("platform unreachable")}
	notifier := &fakeNotifier{}
	coord := NewCoordinator(testConfig(), store, notifier, logging.NewNop())

	result := coord.Escalate(context.Background(), types.EscalateRequest{
		AgentID:     "agent-1",
		CaptchaType: "recaptcha_v2",
	}, nil)

	assert.True(t, strings.HasPrefix(result.EscalationID, "esc_"))
	assert.Empty(t, result.BrowserSessionID)
	assert.Equal(t, types.EscalationPending, result.Status)

	// Exactly one webhook, carrying a solve link that contains the local id.
	events := notifier.eventLog()
	require.Len(t, events, 1)
	require.Len(t, events[0].Actions, 1)
	assert.Contains(t, events[0].Actions[0].URL, result.EscalationID)

	_, ok := coord.Get(result.EscalationID)
	assert.True(t, ok)
}

func TestEscalateSurvivesStreamerFailure(t *testing.T) {
	store := &fakeStore{createID: "esc_1"}
	streamer := &fakeStreamer{err: errors.New("browser unreachable")}
	notifier := &fakeNotifier{}
	coord := NewCoordinator(testConfig(), store, notifier, logging.NewNop()).WithStreamer(streamer)

	result := coord.Escalate(context.Background(), escalateReq(), stubPage{})

	assert.Equal(t, "esc_1", result.EscalationID)
	assert.Empty(t, result.BrowserSessionID)
	require.Len(t, notifier.eventLog(), 1)
	assert.NotContains(t, notifier.eventLog()[0].Data, "browser_session_id")
}

func TestEscalateWithoutPageSkipsStreaming(t *testing.T) {
	store := &fakeStore{createID: "esc_1"}
	streamer := &fakeStreamer{sessionID: "sess-1"}
	notifier := &fakeNotifier{}
	coord := NewCoordinator(testConfig(), store, notifier, logging.NewNop()).WithStreamer(streamer)

	result := coord.Escalate(context.Background(), escalateReq(), nil)

	assert.Empty(t, result.BrowserSessionID)
	assert.Empty(t, streamer.calls)
}

func TestEscalateSurvivesWebhookFailure(t *testing.T) {
	store := &fakeStore{createID: "esc_1"}
	notifier := &fakeNotifier{err: errors.New("receiver down")}
	coord := NewCoordinator(testConfig(), store, notifier, logging.NewNop())

	result := coord.Escalate(context.Background(), escalateReq(), nil)

	assert.Equal(t, "esc_1", result.EscalationID)
	assert.Equal(t, types.EscalationPending, result.Status)
}

func TestResolveExactlyOnce(t *testing.T) {
	store := &fakeStore{createID: "esc_1"}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	assert.True(t, coord.Resolve("esc_1"))
	assert.False(t, coord.Resolve("esc_1"))
	assert.False(t, coord.Resolve("esc_unknown"))

	status := coord.CheckResolution(context.Background(), "esc_1")
	assert.True(t, status.Resolved)
	assert.False(t, status.TimedOut)

	record, ok := coord.Get("esc_1")
	require.True(t, ok)
	assert.Equal(t, types.EscalationResolved, record.Status)
	assert.NotNil(t, record.ResolvedAt)
}

func TestCheckResolutionFreshRecord(t *testing.T) {
	store := &fakeStore{createID: "esc_1", statusErr: errors.New("platform unreachable")}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	status := coord.CheckResolution(context.Background(), "esc_1")
	assert.False(t, status.Resolved)
	assert.False(t, status.TimedOut)
}

func TestCheckResolutionUnknownID(t *testing.T) {
	coord := NewCoordinator(testConfig(), &fakeStore{}, &fakeNotifier{}, logging.NewNop())
	assert.Equal(t, types.ResolutionStatus{}, coord.CheckResolution(context.Background(), "esc_missing"))
}

func TestCheckResolutionTimesOutByWallClock(t *testing.T) {
	store := &fakeStore{createID: "esc_1", statusErr: errors.New("platform unreachable")}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	clock := newFakeClock()
	coord.now = clock.Now

	coord.Escalate(context.Background(), escalateReq(), nil)

	clock.Advance(59 * time.Second)
	assert.Equal(t, types.ResolutionStatus{}, coord.CheckResolution(context.Background(), "esc_1"))

	clock.Advance(2 * time.Second)
	status := coord.CheckResolution(context.Background(), "esc_1")
	assert.False(t, status.Resolved)
	assert.True(t, status.TimedOut)

	// The record is terminal now: it reports timed out forever and can no
	// longer be resolved.
	record, _ := coord.Get("esc_1")
	assert.Equal(t, types.EscalationTimedOut, record.Status)
	assert.False(t, coord.Resolve("esc_1"))
	assert.True(t, coord.CheckResolution(context.Background(), "esc_1").TimedOut)
}

func TestCheckResolutionPrefersRemote(t *testing.T) {
	resolvedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	store := &fakeStore{createID: "esc_1"}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	store.setStatus(&persistence.EscalationStatus{Status: "resolved", ResolvedAt: &resolvedAt})

	status := coord.CheckResolution(context.Background(), "esc_1")
	assert.True(t, status.Resolved)

	// The remote outcome is mirrored into the local record.
	record, ok := coord.Get("esc_1")
	require.True(t, ok)
	assert.Equal(t, types.EscalationResolved, record.Status)
	require.NotNil(t, record.ResolvedAt)
	assert.Equal(t, resolvedAt, *record.ResolvedAt)
}

func TestWaitForResolutionReturnsOnResolve(t *testing.T) {
	store := &fakeStore{createID: "esc_1", statusErr: errors.New("platform unreachable")}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		coord.Resolve("esc_1")
	}()

	status := coord.WaitForResolution(context.Background(), "esc_1", 10*time.Millisecond)
	assert.True(t, status.Resolved)
	assert.False(t, status.TimedOut)
}

func TestWaitForResolutionCancellation(t *testing.T) {
	store := &fakeStore{createID: "esc_1", statusErr: errors.New("platform unreachable")}
	coord := NewCoordinator(testConfig(), store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	status := coord.WaitForResolution(ctx, "esc_1", 10*time.Millisecond)
	assert.False(t, status.Resolved)
	assert.False(t, status.TimedOut)

	// Cancellation must not poison the record; it can still be resolved.
	record, _ := coord.Get("esc_1")
	assert.Equal(t, types.EscalationPending, record.Status)
	assert.True(t, coord.Resolve("esc_1"))
}

func TestWaitForResolutionTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 40 * time.Millisecond
	store := &fakeStore{createID: "esc_1", statusErr: errors.New("platform unreachable")}
	coord := NewCoordinator(cfg, store, &fakeNotifier{}, logging.NewNop())
	coord.Escalate(context.Background(), escalateReq(), nil)

	status := coord.WaitForResolution(context.Background(), "esc_1", 10*time.Millisecond)
	assert.False(t, status.Resolved)
	assert.True(t, status.TimedOut)
}

func TestWaitForResolutionUnknownID(t *testing.T) {
	coord := NewCoordinator(testConfig(), &fakeStore{}, &fakeNotifier{}, logging.NewNop())
	status := coord.WaitForResolution(context.Background(), "esc_missing", time.Millisecond)
	assert.Equal(t, types.ResolutionStatus{}, status)
}

func TestTimeoutDefaults(t *testing.T) {
	coord := NewCoordinator(Config{}, &fakeStore{}, &fakeNotifier{}, logging.NewNop())
	assert.Equal(t, 5*time.Minute, coord.Timeout())

	tuned := NewCoordinator(Config{Timeout: time.Second}, &fakeStore{}, &fakeNotifier{}, logging.NewNop())
	assert.Equal(t, time.Second, tuned.Timeout())
}
