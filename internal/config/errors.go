package config

import "fmt"

// Error reports a malformed or missing configuration field.
// The process must not start with a partially valid alarm definition.
type Error struct {
	// Field names the offending key (or the file for read/parse failures).
	Field string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}
