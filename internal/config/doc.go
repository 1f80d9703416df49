// Package config defines the alarm definition and provides helpers to load,
// validate and save it in YAML format. JSON files are accepted as well.
//
// Config holds countdowns, the disarm credential, bus parameters, notification
// settings and the armedHome/armedAway profiles with their trigger rules.
// Validation failures are reported as *Error and are fatal at startup.
package config
