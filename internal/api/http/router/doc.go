// Package router serves the read-only HTTP endpoints of the alarm controller:
// /healthz, /status and /metrics.
package router
