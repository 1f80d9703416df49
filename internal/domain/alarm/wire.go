package alarm

import (
	"encoding/json"
	"fmt"
)

// StatusMessage is the compact status published to the bus.
type StatusMessage struct {
	// Main is the wire state name, see Status.Main.
	Main string `json:"main"`
	// Countdown is the number of seconds left, 0 when none.
	Countdown int `json:"countdown"`
	// Mode is HOME or AWAY while a profile is involved.
	Mode string `json:"mode,omitempty"`
	// ChallengePin is the outstanding disarm challenge.
	ChallengePin string `json:"challengePin,omitempty"`
}

// Message converts the status into its wire form.
func (s *Status) Message() StatusMessage {
	return StatusMessage{
		Main:         s.Main(),
		Countdown:    max(s.Countdown, 0),
		Mode:         s.Mode.String(),
		ChallengePin: s.ChallengePin,
	}
}

// EncodeStatus marshals the status into its JSON wire form.
func EncodeStatus(s *Status) ([]byte, error) {
	data, err := json.Marshal(s.Message())
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}

	return data, nil
}

// UnavailablePayload is the last-will payload announcing the controller is gone.
func UnavailablePayload() []byte {
	data, _ := EncodeStatus(&Status{Phase: PhaseUnavailable}) //nolint:errcheck // Plain struct always encodes.

	return data
}
