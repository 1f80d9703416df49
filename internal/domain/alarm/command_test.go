package alarm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseCommand covers the plain and JSON control grammar.
func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		kind    CommandKind
		pin     string
	}{
		{"ARM_HOME", CommandArmHome, ""},
		{"  arm_away\n", CommandArmAway, ""},
		{"DISARM:1234", CommandDisarm, "1234"},
		{"disarm: 42 ", CommandDisarm, "42"},
		{"DISARM", CommandDisarm, ""},
		{`{"command":"DISARM","pin":"9876"}`, CommandDisarm, "9876"},
		{`{"command":"arm_home"}`, CommandArmHome, ""},
		{"DEACTIVATE_REQUEST", CommandDeactivateRequest, ""},
		{"deactivate:5678", CommandDeactivate, "5678"},
		{`{"command":"DEACTIVATE","pin":"0427"}`, CommandDeactivate, "0427"},
	}

	for _, tc := range cases {
		cmd, err := ParseCommand([]byte(tc.payload))
		require.NoError(t, err, tc.payload)
		require.Equal(t, tc.kind, cmd.Kind, tc.payload)
		require.Equal(t, tc.pin, cmd.Pin, tc.payload)
	}
}

// TestParseCommand_Unrecognized ensures unknown payloads map to ErrUnrecognizedCommand.
func TestParseCommand_Unrecognized(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{"", "ARM", "DEACTIVATE_REQUESTED", "{broken", `{"command":"PANIC"}`} {
		_, err := ParseCommand([]byte(payload))
		require.ErrorIs(t, err, ErrUnrecognizedCommand, payload)
	}
}

// TestCommandMode maps arm commands to profiles.
func TestCommandMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ModeHome, Command{Kind: CommandArmHome}.Mode())
	require.Equal(t, ModeAway, Command{Kind: CommandArmAway}.Mode())
	require.Equal(t, ModeNone, Command{Kind: CommandDisarm}.Mode())
	require.Equal(t, "DISARM", CommandDisarm.String())
}
