// Package persistence is the client for the AgentPass platform API.
//
// The gateway treats the platform as the durable source of truth for
// escalations, browser sessions, and the command queue behind the polling
// transport, plus the identity surface (accounts, passports, trust,
// messages). Callers own degradation: every coordinator call site wraps
// these methods so a platform outage costs features, never operations.
//
// Retry Policy:
//   - Up to 2 retries per call with linear backoff (500ms, then 1s)
//   - Network errors and 5xx responses retry; 4xx never does
//   - Non-2xx responses surface as *APIError with the platform's message
//
// Circuit Breaker:
//   - 5 consecutive outages (transport failures or 5xx after retries)
//     open the circuit; calls then fail fast for 15s before a probe
//   - 4xx responses never count against the circuit
//   - While open, errors wrap resilience.ErrCircuitOpen
//
// Wire Format:
//   - camelCase JSON, matching the platform contract
//   - Bearer token auth; Register/Login install the token automatically
//
// Example Usage:
//
//	client := persistence.New(cfg.API, logger).WithMetrics(metrics)
//	record, err := client.CreateEscalation(ctx, agent, "recaptcha_v2", shot)
//	if err != nil {
//		// degrade: mint a local id instead
//	}
package persistence
