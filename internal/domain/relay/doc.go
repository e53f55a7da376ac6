// Package relay pairs browser streaming endpoints for live viewing.
//
// Each escalation session has at most two endpoints: a producer (the agent's
// machine pushing frames) and a consumer (the human dashboard viewing them).
// The table forwards opaque frames between the two without inspecting
// payloads, so codec changes never touch this package.
//
// Components:
//   - Table: Session-keyed pairing and frame forwarding
//   - Conn: Minimal write/close surface implemented by the ws adapter
//   - Frame: Opaque payload with a binary/text marker
//
// Delivery Semantics:
//   - At-most-once: a failed send is dropped, never retried
//   - No buffering: frames to an absent peer are discarded
//   - No ordering guarantee across the two directions
//   - Registering over a live endpoint replaces without closing it
//
// Example Usage:
//
//	table := relay.NewTable(logger).WithMetrics(metrics)
//	table.Register(sessionID, types.RoleProducer, conn)
//	table.Forward(sessionID, types.RoleProducer, relay.Frame{Binary: true, Data: jpeg})
//	defer table.Cleanup(sessionID)
package relay
