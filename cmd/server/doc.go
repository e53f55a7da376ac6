// Package main is the entry point for the AgentPass gateway.
//
// The gateway sits between an automation agent and its human owner. When
// the agent hits a CAPTCHA or a policy-gated action it escalates to the
// owner, streams the live browser view to the dashboard, and resumes the
// agent once the human weighs in.
//
// Architecture:
//
//	Agent (browser automation) → Gateway → AgentPass platform (records)
//	                                    → Owner webhook + dashboard
//
// The gateway provides:
//   - CAPTCHA escalation with owner notification and resolution polling
//   - Per-domain approval policy with suspended manual decisions
//   - Live browser streaming over websocket with HTTP polling fallback
//   - A producer/consumer frame relay for dashboard viewers
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
