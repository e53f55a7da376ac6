package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/config"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/resilience"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ServiceName labels persistence calls in metrics.
const ServiceName = "persistence"

// retryMax bounds retries per call; with the linear backoff below a call
// waits 500ms before the first retry and 1s before the second.
const (
	retryMax    = 2
	backoffStep = 500 * time.Millisecond
)

// breakerTrip opens the circuit after this many consecutive outages, each
// already worth a full retry cycle. breakerCooldown is how long calls fail
// fast before the next probe.
const (
	breakerTrip     = 5
	breakerCooldown = 15 * time.Second
)

// Client talks to the AgentPass platform API. Every call retries transient
// failures up to retryMax times with linear backoff and never retries 4xx
// responses, which always mean the request itself is wrong. A circuit
// breaker sits in front: repeated outages trip it and later calls fail
// immediately until a probe gets through, so pollers keep their cadence
// while the platform is down.
type Client struct {
	http    *resty.Client
	logger  *logging.Logger
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
}

// New creates a platform API client from configuration.
func New(cfg config.APIConfig, logger *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Backoff = linearBackoff
	retryClient.CheckRetry = checkRetry
	retryClient.Logger = nil // Disable logging

	httpClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "AgentPass-Backend/1.0")
	httpClient.JSONMarshal = sonic.Marshal
	httpClient.JSONUnmarshal = sonic.Unmarshal

	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	log := logger.Component(ServiceName)
	return &Client{
		http:    httpClient,
		logger:  log,
		breaker: newBreaker(log),
	}
}

func newBreaker(log *logging.Logger) *resilience.Breaker {
	return resilience.New(ServiceName, resilience.Settings{
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("platform circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// WithMetrics adds outbound call metrics to the client.
func (c *Client) WithMetrics(metrics *monitoring.Metrics) *Client {
	c.metrics = metrics
	return c
}

// SetToken replaces the bearer token, e.g. after Register or Login.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// linearBackoff waits 500ms times the attempt number between tries.
func linearBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	return backoffStep * time.Duration(attemptNum+1)
}

// checkRetry retries network errors and 5xx responses only. A 4xx response
// is returned to the caller as-is; repeating a bad request cannot fix it.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

// request starts a request bound to ctx.
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// do runs one platform call through the circuit breaker. Only outages
// count against the circuit: transport failures and 5xx responses. A 4xx
// proves the platform answered, so it clears the failure streak even
// though the caller still sees the error.
func (c *Client) do(op string, call func() (*resty.Response, error)) error {
	var callErr error
	err := c.breaker.Do(func() error {
		resp, err := call()
		callErr = c.wrap(op, resp, err)
		if isOutage(callErr) {
			return callErr
		}
		return nil
	})
	if callErr != nil {
		return callErr
	}
	if err != nil {
		// The breaker rejected the call before it ran.
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// isOutage reports whether err means the platform itself is down rather
// than the request being rejected.
func isOutage(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// wrap converts a resty outcome into the client's error contract: transport
// errors wrapped with the operation name, HTTP errors as *APIError.
func (c *Client) wrap(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		apiErr := parseAPIError(resp)
		c.logger.Debug("platform call rejected",
			zap.String("op", op),
			zap.Int("status", apiErr.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}
	return nil
}

// observe records one call's outcome when metrics are attached.
func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		c.metrics.RecordServiceError(ServiceName, op, errorType(err))
	}
	c.metrics.RecordServiceCall(ServiceName, op, status, time.Since(start))
}

func errorType(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return "circuit"
	}
	if apiErr, ok := AsAPIError(err); ok {
		if apiErr.StatusCode >= 500 {
			return "server"
		}
		return "client"
	}
	return "network"
}
