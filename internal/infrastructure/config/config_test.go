package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// API config
	assert.Equal(t, "https://api.agentpass.space", cfg.API.BaseURL)
	assert.Empty(t, cfg.API.Token)
	assert.Equal(t, 30, cfg.API.TimeoutSeconds)

	// Relay and browser endpoints
	assert.Equal(t, "wss://api.agentpass.space/live", cfg.Relay.URL)
	assert.Equal(t, "ws://localhost:9222", cfg.Browser.ControlURL)

	// Dashboard config
	assert.Equal(t, "https://app.agentpass.space", cfg.Dashboard.BaseURL)

	// Escalation config
	assert.Equal(t, 300000, cfg.Escalation.TimeoutMs)
	assert.Equal(t, 3000, cfg.Escalation.PollIntervalMs)

	// Approval config: no timeout unless configured
	assert.Equal(t, 0, cfg.Approval.TimeoutMs)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"HOST":                     "127.0.0.1",
		"API_BASE_URL":             "http://localhost:4000",
		"API_TOKEN":                "ap_test_token",
		"API_TIMEOUT_SECONDS":      "5",
		"RELAY_URL":                "ws://localhost:4000/live",
		"BROWSER_CONTROL_URL":      "ws://localhost:9333",
		"DASHBOARD_URL":            "http://localhost:3000",
		"WEBHOOK_URL":              "http://localhost:5000/hooks",
		"ESCALATION_TIMEOUT":       "60000",
		"ESCALATION_POLL_INTERVAL": "1000",
		"APPROVAL_TIMEOUT":         "120000",
		"POLICY_FILE":              "/etc/agentpass/policy.yaml",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
		"RATE_LIMIT_RPS":           "500",
		"RATE_LIMIT_BURST":         "1000",
		"RATE_LIMIT_ENABLED":       "false",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	// Verify server config
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// Verify API config
	assert.Equal(t, "http://localhost:4000", cfg.API.BaseURL)
	assert.Equal(t, "ap_test_token", cfg.API.Token)
	assert.Equal(t, 5, cfg.API.TimeoutSeconds)

	// Verify endpoints
	assert.Equal(t, "ws://localhost:4000/live", cfg.Relay.URL)
	assert.Equal(t, "ws://localhost:9333", cfg.Browser.ControlURL)
	assert.Equal(t, "http://localhost:3000", cfg.Dashboard.BaseURL)
	assert.Equal(t, "http://localhost:5000/hooks", cfg.Webhook.URL)

	// Verify timing config
	assert.Equal(t, 60000, cfg.Escalation.TimeoutMs)
	assert.Equal(t, 1000, cfg.Escalation.PollIntervalMs)
	assert.Equal(t, 120000, cfg.Approval.TimeoutMs)

	// Verify policy config
	assert.Equal(t, "/etc/agentpass/policy.yaml", cfg.Policy.File)

	// Verify logging config
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	// Verify rate limit config
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	err := os.Setenv("PORT", "3000")
	require.NoError(t, err)
	defer os.Unsetenv("PORT")

	err = os.Setenv("ESCALATION_TIMEOUT", "90000")
	require.NoError(t, err)
	defer os.Unsetenv("ESCALATION_TIMEOUT")

	cfg, err := Load()
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 90000, cfg.Escalation.TimeoutMs)

	// Verify default values still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://api.agentpass.space", cfg.API.BaseURL)
	assert.Equal(t, 3000, cfg.Escalation.PollIntervalMs)
}

func TestEscalationConfigDurations(t *testing.T) {
	tests := []struct {
		name         string
		timeoutMs    int
		pollMs       int
		wantTimeout  time.Duration
		wantInterval time.Duration
	}{
		{
			name:         "defaults",
			timeoutMs:    300000,
			pollMs:       3000,
			wantTimeout:  5 * time.Minute,
			wantInterval: 3 * time.Second,
		},
		{
			name:         "short window",
			timeoutMs:    1500,
			pollMs:       100,
			wantTimeout:  1500 * time.Millisecond,
			wantInterval: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EscalationConfig{TimeoutMs: tt.timeoutMs, PollIntervalMs: tt.pollMs}
			assert.Equal(t, tt.wantTimeout, cfg.Timeout())
			assert.Equal(t, tt.wantInterval, cfg.PollInterval())
		})
	}
}

func TestApprovalConfigTimeout(t *testing.T) {
	// Zero disables the wait timeout entirely.
	assert.Equal(t, time.Duration(0), ApprovalConfig{}.Timeout())
	assert.Equal(t, 2*time.Minute, ApprovalConfig{TimeoutMs: 120000}.Timeout())
}
