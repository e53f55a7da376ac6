/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the backend
service, tracking HTTP requests, escalation and approval lifecycles, browser
streaming sessions, relay traffic, and outbound service calls.

# Features

- HTTP request metrics (latency, throughput, size)
- Escalation lifecycle metrics (created, pending, outcomes, duration)
- Approval decision metrics (pending, decisions by method)
- Streaming metrics (sessions, frames, commands, reconnects, fallbacks)
- Relay metrics (connections by role, forwarded frames)
- Outbound service call metrics (persistence API, webhooks)
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record custom metrics
	metrics.IncEscalationsCreated()
	metrics.RecordApproval("approved", "manual")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

The collectors register on the default registry through promauto, so one
process creates one Metrics value.
*/
package monitoring
