// Package timer provides a single-slot countdown manager with explicit handles.
//
// Scheduling a countdown cancels the outstanding one; cancelling a stale
// handle is a no-op. Remaining seconds are decremented on a fixed tick so the
// reported countdown never goes negative.
package timer
