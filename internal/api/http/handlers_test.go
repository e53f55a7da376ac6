package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/backend/internal/domain/approval"
	"github.com/agentpass/agentpass/backend/internal/domain/escalation"
	"github.com/agentpass/agentpass/backend/internal/domain/relay"
	"github.com/agentpass/agentpass/backend/internal/domain/stream"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

type fakeEscalationStore struct{}

func (s *fakeEscalationStore) CreateEscalation(ctx context.Context, agent types.AgentIdentity, captchaType, screenshot string) (*persistence.EscalationRecord, error) {
	return &persistence.EscalationRecord{Status: "pending"}, nil
}

func (s *fakeEscalationStore) GetEscalationStatus(ctx context.Context, escalationID string) (*persistence.EscalationStatus, error) {
	return &persistence.EscalationStatus{Status: "pending"}, nil
}

type fakeStreamStore struct{}

func (s *fakeStreamStore) CreateBrowserSession(ctx context.Context, escalationID, pageURL string, viewportW, viewportH int) (*persistence.BrowserSessionRecord, error) {
	return &persistence.BrowserSessionRecord{SessionID: "sess-1"}, nil
}

func (s *fakeStreamStore) UpdateScreenshot(ctx context.Context, sessionID, dataURL, pageURL string) error {
	return nil
}

func (s *fakeStreamStore) GetCommands(ctx context.Context, sessionID, status string) ([]persistence.CommandRecord, error) {
	return nil, nil
}

func (s *fakeStreamStore) UpdateCommandStatus(ctx context.Context, sessionID, commandID, status string) error {
	return nil
}

func (s *fakeStreamStore) CloseSession(ctx context.Context, sessionID string) error {
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []types.WebhookEvent
}

func (n *fakeNotifier) Emit(ctx context.Context, event types.WebhookEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type stubPage struct{}

func (p *stubPage) URL(ctx context.Context) (string, error)               { return "", nil }
func (p *stubPage) Viewport(ctx context.Context) (int, int, error)        { return 0, 0, nil }
func (p *stubPage) Screenshot(ctx context.Context) ([]byte, error)        { return nil, nil }
func (p *stubPage) Click(ctx context.Context, x, y float64) error         { return nil }
func (p *stubPage) Type(ctx context.Context, text string) error           { return nil }
func (p *stubPage) Press(ctx context.Context, key string) error           { return nil }
func (p *stubPage) Scroll(ctx context.Context, dx, dy float64) error      { return nil }
func (p *stubPage) StartFrameStream(ctx context.Context, opts page.FrameOptions, handler func([]byte)) (func(), error) {
	return func() {}, nil
}

type fakePages struct {
	mu      sync.Mutex
	err     error
	targets []string
}

func (p *fakePages) Attach(ctx context.Context, targetID string) (page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, targetID)
	if p.err != nil {
		return nil, p.err
	}
	return &stubPage{}, nil
}

func (p *fakePages) attached() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...)
}

type bridge struct {
	router      *gin.Engine
	escalations *escalation.Coordinator
	approvals   *approval.Coordinator
	streams     *stream.Channel
	notifier    *fakeNotifier
	pages       *fakePages
	table       *relay.Table
}

func newBridge(t *testing.T) *bridge {
	t.Helper()

	logger := logging.NewNop()
	notifier := &fakeNotifier{}
	pages := &fakePages{}

	escalations := escalation.NewCoordinator(escalation.Config{
		Timeout:      time.Minute,
		PollInterval: 10 * time.Millisecond,
		DashboardURL: "https://app.agentpass.test",
	}, &fakeEscalationStore{}, notifier, logger)

	policy := approval.NewPolicy()
	policy.Set("gated.example", types.PermissionRequiresApproval)
	approvals := approval.NewCoordinator(approval.Config{
		DashboardURL: "https://app.agentpass.test",
	}, policy, notifier, logger)

	streams := stream.NewChannel(stream.DefaultConfig("ws://127.0.0.1:1/live"), &fakeStreamStore{}, logger)
	table := relay.NewTable(logger)

	handlers := NewHandlers(escalations, approvals, streams, table, pages, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/escalations", handlers.Escalate)
	router.GET("/escalations/:id", handlers.GetEscalation)
	router.POST("/escalations/:id/resolve", handlers.ResolveEscalation)
	router.GET("/escalations/:id/wait", handlers.WaitForEscalation)
	router.POST("/approvals", handlers.RequestApproval)
	router.POST("/approvals/:id/respond", handlers.RespondApproval)
	router.GET("/approvals/:id", handlers.GetApproval)
	router.GET("/permissions", handlers.ListPermissions)
	router.GET("/permissions/:domain", handlers.GetPermission)
	router.PUT("/permissions/:domain", handlers.SetPermission)
	router.GET("/live/:session_id/status", handlers.LiveStatus)
	router.POST("/live/:session_id/stop", handlers.StopLiveSession)

	return &bridge{
		router:      router,
		escalations: escalations,
		approvals:   approvals,
		streams:     streams,
		notifier:    notifier,
		pages:       pages,
		table:       table,
	}
}

func (b *bridge) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRootBanner(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "agentpass-gateway", body["service"])
}

func TestHealthReportsComponentCounts(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "escalations")
	assert.Contains(t, body, "approvals")
	assert.Contains(t, body, "streams")
	assert.Contains(t, body, "relay")
}

func TestEscalateReturnsTrackingIDs(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/escalations",
		`{"agent_id":"agent-1","agent_name":"shopping-bot","captcha_type":"recaptcha_v2","page_url":"https://shop.example/checkout"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	escalationID, _ := body["escalation_id"].(string)
	assert.True(t, strings.HasPrefix(escalationID, "esc_"))
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, 1, b.notifier.count())
	assert.Empty(t, b.pages.attached())
}

func TestEscalateRejectsMissingFields(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/escalations", `{"captcha_type":"recaptcha_v2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(t, http.MethodPost, "/escalations", `{"agent_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscalateAttachesRequestedPage(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/escalations",
		`{"agent_id":"agent-1","captcha_type":"recaptcha_v2","page_target_id":"target-7"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"target-7"}, b.pages.attached())
}

func TestEscalateSurvivesPageAttachFailure(t *testing.T) {
	b := newBridge(t)
	b.pages.err = fmt.Errorf("target not found")

	w := b.do(t, http.MethodPost, "/escalations",
		`{"agent_id":"agent-1","captcha_type":"recaptcha_v2","page_target_id":"target-7"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["escalation_id"])
}

func TestGetEscalationNotFound(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodGet, "/escalations/esc_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEscalationReturnsRecordAndResolution(t *testing.T) {
	b := newBridge(t)

	result := b.escalations.Escalate(context.Background(), types.EscalateRequest{
		AgentID:     "agent-1",
		CaptchaType: "recaptcha_v2",
	}, nil)

	w := b.do(t, http.MethodGet, "/escalations/"+result.EscalationID, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["resolved"])
	assert.Equal(t, false, body["timed_out"])

	record, ok := body["escalation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, result.EscalationID, record["id"])
	assert.Equal(t, "pending", record["status"])
}

func TestResolveEscalationEndpoint(t *testing.T) {
	b := newBridge(t)

	result := b.escalations.Escalate(context.Background(), types.EscalateRequest{
		AgentID:     "agent-1",
		CaptchaType: "recaptcha_v2",
	}, nil)

	w := b.do(t, http.MethodPost, "/escalations/"+result.EscalationID+"/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])

	// A second resolve reports failure without disturbing the record.
	w = b.do(t, http.MethodPost, "/escalations/"+result.EscalationID+"/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	w = b.do(t, http.MethodGet, "/escalations/"+result.EscalationID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["resolved"])
}

func TestWaitForEscalationLongPoll(t *testing.T) {
	b := newBridge(t)

	result := b.escalations.Escalate(context.Background(), types.EscalateRequest{
		AgentID:     "agent-1",
		CaptchaType: "recaptcha_v2",
	}, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.escalations.Resolve(result.EscalationID)
	}()

	w := b.do(t, http.MethodGet, "/escalations/"+result.EscalationID+"/wait", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["resolved"])
}

func TestRequestApprovalAutoApproved(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/approvals",
		`{"agent":{"id":"agent-1"},"action":"purchase","domain":"open.example"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["approved"])
	assert.Equal(t, "auto", body["method"])
}

func TestRequestApprovalValidation(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/approvals", `{"action":"purchase","domain":"open.example"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(t, http.MethodPost, "/approvals", `{"agent":{"id":"agent-1"},"domain":"open.example"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(t, http.MethodPost, "/approvals", `{"agent":{"id":"agent-1"},"action":"purchase"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApprovalRoundTrip(t *testing.T) {
	b := newBridge(t)

	decisions := make(chan map[string]interface{}, 1)
	go func() {
		w := b.do(t, http.MethodPost, "/approvals",
			`{"agent":{"id":"agent-1"},"action":"purchase","domain":"gated.example","details":{"amount":"49.99"}}`)
		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err == nil {
			decisions <- body
		}
	}()

	var approvalID string
	require.Eventually(t, func() bool {
		pending := b.approvals.Approvals()
		if len(pending) != 1 {
			return false
		}
		approvalID = pending[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// The record is visible while the caller is suspended.
	w := b.do(t, http.MethodGet, "/approvals/"+approvalID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["status"])

	w = b.do(t, http.MethodPost, "/approvals/"+approvalID+"/respond",
		`{"approved":true,"reason":"looks fine"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])

	select {
	case decision := <-decisions:
		assert.Equal(t, true, decision["approved"])
		assert.Equal(t, "manual", decision["method"])
		assert.Equal(t, approvalID, decision["approval_id"])
		assert.Equal(t, "looks fine", decision["reason"])
	case <-time.After(2 * time.Second):
		t.Fatal("blocked approval request never returned")
	}

	w = b.do(t, http.MethodGet, "/approvals/"+approvalID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decodeBody(t, w)["status"])
}

func TestRespondApprovalUnknownID(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPost, "/approvals/apr_missing/respond", `{"approved":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])
}

func TestGetApprovalNotFound(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodGet, "/approvals/apr_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPermissionEndpoints(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodPut, "/permissions/shop.example", `{"level":"blocked"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = b.do(t, http.MethodGet, "/permissions/shop.example", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "blocked", decodeBody(t, w)["level"])

	// Unconfigured domains fall back to auto approval.
	w = b.do(t, http.MethodGet, "/permissions/unknown.example", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auto_approved", decodeBody(t, w)["level"])

	w = b.do(t, http.MethodPut, "/permissions/shop.example", `{"level":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(t, http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusOK, w.Code)
	domains, ok := decodeBody(t, w)["domains"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "blocked", domains["shop.example"])
	assert.Equal(t, "requires_approval", domains["gated.example"])
}

type nopConn struct{}

func (nopConn) WriteText(data []byte) error   { return nil }
func (nopConn) WriteBinary(data []byte) error { return nil }
func (nopConn) Close() error                  { return nil }

func TestLiveStatusEndpoint(t *testing.T) {
	b := newBridge(t)

	w := b.do(t, http.MethodGet, "/live/sess-1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", decodeBody(t, w)["relay"])

	require.NoError(t, b.table.Register("sess-1", "producer", nopConn{}))

	w = b.do(t, http.MethodGet, "/live/sess-1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "producer_connected", decodeBody(t, w)["relay"])
}

func TestStopLiveSessionEndpoint(t *testing.T) {
	b := newBridge(t)

	sessionID, err := b.streams.StartSession(context.Background(), "esc_1", &stubPage{})
	require.NoError(t, err)
	require.NoError(t, b.table.Register(sessionID, "producer", nopConn{}))

	w := b.do(t, http.MethodPost, "/live/"+sessionID+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["stopped"])

	assert.False(t, b.streams.IsSessionActive(sessionID))
	assert.Equal(t, relay.StatusNone, b.table.Status(sessionID))

	// Stopping again, or stopping an unknown session, is a harmless no-op.
	w = b.do(t, http.MethodPost, "/live/"+sessionID+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
}
