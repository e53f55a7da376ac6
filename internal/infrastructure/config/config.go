package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server     ServerConfig
	API        APIConfig
	Relay      RelayConfig
	Browser    BrowserConfig
	Dashboard  DashboardConfig
	Webhook    WebhookConfig
	Escalation EscalationConfig
	Approval   ApprovalConfig
	Policy     PolicyConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// APIConfig holds AgentPass platform API configuration.
type APIConfig struct {
	BaseURL        string `envconfig:"API_BASE_URL" default:"https://api.agentpass.space"`
	Token          string `envconfig:"API_TOKEN"`
	TimeoutSeconds int    `envconfig:"API_TIMEOUT_SECONDS" default:"30"`
}

// RelayConfig holds the live viewing relay endpoint.
type RelayConfig struct {
	URL string `envconfig:"RELAY_URL" default:"wss://api.agentpass.space/live"`
}

// BrowserConfig holds the CDP endpoint of the agent's running browser.
type BrowserConfig struct {
	ControlURL string `envconfig:"BROWSER_CONTROL_URL" default:"ws://localhost:9222"`
}

// DashboardConfig holds the human-facing dashboard used for action links.
type DashboardConfig struct {
	BaseURL string `envconfig:"DASHBOARD_URL" default:"https://app.agentpass.space"`
}

// WebhookConfig holds the agent's webhook target.
type WebhookConfig struct {
	URL string `envconfig:"WEBHOOK_URL"`
}

// EscalationConfig holds escalation timing configuration.
type EscalationConfig struct {
	TimeoutMs      int `envconfig:"ESCALATION_TIMEOUT" default:"300000"`
	PollIntervalMs int `envconfig:"ESCALATION_POLL_INTERVAL" default:"3000"`
}

// Timeout returns the escalation resolution window.
func (c EscalationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PollInterval returns the default WaitForResolution polling interval.
func (c EscalationConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ApprovalConfig holds approval timing configuration. A zero timeout means
// pending approvals wait indefinitely.
type ApprovalConfig struct {
	TimeoutMs int `envconfig:"APPROVAL_TIMEOUT" default:"0"`
}

// Timeout returns the approval wait window; zero disables it.
func (c ApprovalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PolicyConfig holds the optional domain policy bootstrap file.
type PolicyConfig struct {
	File string `envconfig:"POLICY_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		API: APIConfig{
			BaseURL:        "https://api.agentpass.space",
			TimeoutSeconds: 30,
		},
		Relay: RelayConfig{
			URL: "wss://api.agentpass.space/live",
		},
		Browser: BrowserConfig{
			ControlURL: "ws://localhost:9222",
		},
		Dashboard: DashboardConfig{
			BaseURL: "https://app.agentpass.space",
		},
		Escalation: EscalationConfig{
			TimeoutMs:      300000,
			PollIntervalMs: 3000,
		},
		Approval: ApprovalConfig{
			TimeoutMs: 0,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
