package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestConfigure rejects unknown level and format names.
func TestConfigure(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Configure("loud", ""), ErrUnknownLevel)
	require.ErrorIs(t, Configure("info", "xml"), ErrUnknownFormat)
}

// TestParseFormat maps format names and defaults to console.
func TestParseFormat(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Format{"": FormatConsole, "console": FormatConsole, " JSON ": FormatJSON} {
		got, ok := ParseFormat(name)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := ParseFormat("logfmt")
	require.False(t, ok)

	require.NotNil(t, NewWithFormat(zapcore.InfoLevel, FormatJSON))
}

// TestContextHelpers checks that names and fields travel with the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)

	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithName(ctx, "controller")
	ctx = WithKV(ctx, "mode", "AWAY")
	ctx = WithFields(ctx, "phase", "ARMED", "countdown", 0)

	InfoKV(ctx, "Status published", "topic", "alarm/status")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "controller", entries[0].LoggerName)
	require.Equal(t, "Status published", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "AWAY", fields["mode"])
	require.Equal(t, "ARMED", fields["phase"])
	require.Equal(t, "alarm/status", fields["topic"])

	require.Same(t, Logger(), FromContext(context.Background()))
}
