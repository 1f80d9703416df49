// Package client implements the operator commands that talk to a running
// controller over its control API: status (optionally watched), arm and
// disarm.
package client
