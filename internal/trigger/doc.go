// Package trigger evaluates inbound messages against the trigger rules of the
// active profile: topic pattern first, payload regex second, first match wins.
package trigger
