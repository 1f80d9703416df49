// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console or JSON encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level and format configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Components receive a context and extract the logger from it, so every
// log line carries the component name and the keys attached upstream.
package logger
