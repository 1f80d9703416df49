// Package controller runs the alarm state machine.
//
// A Machine owns the alarm status on a single goroutine. Bus messages, control
// API commands and countdown callbacks are queued as events and applied one at
// a time, so countdown expiries carrying a stale handle are dropped and every
// expiry causes at most one transition. Each transition and countdown tick
// publishes one status message; notifications are dispatched off the loop.
//
// Run wires the machine to the configured bus, the gRPC control API and the
// HTTP status endpoint.
package controller
