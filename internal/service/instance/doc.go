// Package instance guards against running two alarm controllers on one host.
package instance
