package alarm

import (
	"fmt"
	"strings"
	"time"
)

// Mode is an armed profile with its own commands and trigger rules.
type Mode int

const (
	// ModeNone means no profile is involved (unarmed).
	ModeNone Mode = iota
	// ModeHome is armed with people inside.
	ModeHome
	// ModeAway is armed in an empty place.
	ModeAway
)

// String returns the upper-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeHome:
		return "HOME"
	case ModeAway:
		return "AWAY"
	default:
		return ""
	}
}

// ParseMode converts a mode name (home, away, armedHome, ...) into a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "home", "armedhome", "armed_home":
		return ModeHome, true
	case "away", "armedaway", "armed_away":
		return ModeAway, true
	default:
		return ModeNone, false
	}
}

// Phase is the state machine position regardless of mode.
type Phase int

const (
	// PhaseUnarmed is the idle state.
	PhaseUnarmed Phase = iota
	// PhaseArming counts down towards PhaseArmed.
	PhaseArming
	// PhaseArmed watches trigger rules of the active mode.
	PhaseArmed
	// PhaseTriggeredPending counts down towards PhaseTriggered.
	PhaseTriggeredPending
	// PhaseTriggered means notifications went out.
	PhaseTriggered
	// PhaseUnavailable is only announced as the bus last will.
	PhaseUnavailable
)

// String returns a readable phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseUnarmed:
		return "UNARMED"
	case PhaseArming:
		return "ARMING"
	case PhaseArmed:
		return "ARMED"
	case PhaseTriggeredPending:
		return "TRIGGERED_PENDING"
	case PhaseTriggered:
		return "TRIGGERED"
	case PhaseUnavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Status is a snapshot of the alarm at a point in time.
type Status struct {
	// Timestamp is when the status was produced.
	Timestamp time.Time
	// Phase is the state machine position.
	Phase Phase
	// Mode is the profile involved in the phase, ModeNone when unarmed.
	Mode Mode
	// Countdown is the number of seconds left before the pending transition.
	Countdown int
	// LastActor is who issued the last accepted command, nil for bus commands.
	LastActor *Actor
	// ChallengePin is the outstanding disarm challenge, empty when none.
	ChallengePin string
}

// Main returns the wire name published in the "main" field.
//
// Armed phases carry the mode in the name; the pending and fired trigger
// phases keep the TRIGGERED and ACTIVATED names panels already understand.
func (s *Status) Main() string {
	switch s.Phase {
	case PhaseUnarmed:
		return "UNARMED"
	case PhaseArming:
		return "ARMING"
	case PhaseArmed:
		return "ARMED_" + s.Mode.String()
	case PhaseTriggeredPending:
		return "TRIGGERED"
	case PhaseTriggered:
		return "ACTIVATED"
	default:
		return "UNAVAILABLE"
	}
}

// ParseMain converts a wire name back into phase and mode.
func ParseMain(main string) (Phase, Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(main)) {
	case "UNARMED":
		return PhaseUnarmed, ModeNone, true
	case "ARMING":
		return PhaseArming, ModeNone, true
	case "ARMED_HOME":
		return PhaseArmed, ModeHome, true
	case "ARMED_AWAY":
		return PhaseArmed, ModeAway, true
	case "TRIGGERED":
		return PhaseTriggeredPending, ModeNone, true
	case "ACTIVATED":
		return PhaseTriggered, ModeNone, true
	case "UNAVAILABLE":
		return PhaseUnavailable, ModeNone, true
	default:
		return PhaseUnarmed, ModeNone, false
	}
}

// Clone returns a copy of the status to avoid leaking internal references.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.LastActor = s.LastActor.Clone()

	return &cloned
}

// Actor identifies who sent a control command through the API.
type Actor struct {
	// Hostname is the machine name where the command was issued.
	Hostname string
	// Username is the system user who issued the command.
	Username string
}

// String renders the actor as user@host.
func (a *Actor) String() string {
	if a == nil {
		return "<bus>"
	}

	return a.Username + "@" + a.Hostname
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}
