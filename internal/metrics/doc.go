// Package metrics exposes the alarm's Prometheus collectors.
package metrics
