// Package resilience implements the circuit breaker guarding outbound
// platform calls.
//
// The breaker has three states. Closed passes calls through and counts
// failures; when ReadyToTrip fires it opens. Open rejects calls with
// ErrCircuitOpen until Timeout elapses. Half-open admits up to MaxRequests
// probes; all succeeding closes the circuit, any failing reopens it.
//
//	closed --[failures]--> open --[timeout]--> half-open --[successes]--> closed
//	                        ^                      |
//	                        +------[failure]-------+
//
// The point is degradation cost: during a platform outage the polling
// fallback asks for commands twice a second, and without a breaker every
// ask would burn a full retry cycle. With one, calls fail in microseconds
// and the cadence holds.
//
// Example Usage:
//
//	breaker := resilience.New("persistence", resilience.Settings{
//		Timeout: 15 * time.Second,
//		ReadyToTrip: func(counts resilience.Counts) bool {
//			return counts.ConsecutiveFailures >= 5
//		},
//		OnStateChange: func(name string, from, to resilience.State) {
//			logger.Warn("circuit state changed", zap.String("to", to.String()))
//		},
//	})
//
//	err := breaker.Do(func() error {
//		return client.Call(ctx)
//	})
package resilience
