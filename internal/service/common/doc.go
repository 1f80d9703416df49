// Package common holds helpers shared by the CLI services.
//
// It provides a lightweight control API client wrapper with timeouts and a
// helper to detect the current system actor (hostname/username) recorded with
// commands.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
