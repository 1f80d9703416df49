package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandKind enumerates the control commands the alarm accepts.
type CommandKind int

const (
	// CommandUnknown is an unrecognized control payload.
	CommandUnknown CommandKind = iota
	// CommandArmHome arms the HOME profile.
	CommandArmHome
	// CommandArmAway arms the AWAY profile.
	CommandArmAway
	// CommandDisarm disarms with a credential.
	CommandDisarm
	// CommandDeactivateRequest asks for a disarm challenge.
	CommandDeactivateRequest
	// CommandDeactivate answers the outstanding challenge.
	CommandDeactivate
)

// String returns the wire keyword of the command.
func (k CommandKind) String() string {
	switch k {
	case CommandArmHome:
		return "ARM_HOME"
	case CommandArmAway:
		return "ARM_AWAY"
	case CommandDisarm:
		return "DISARM"
	case CommandDeactivateRequest:
		return "DEACTIVATE_REQUEST"
	case CommandDeactivate:
		return "DEACTIVATE"
	default:
		return "UNKNOWN"
	}
}

// Command is a parsed control command.
type Command struct {
	// Kind is the requested action.
	Kind CommandKind
	// Pin is the disarm credential or the challenge answer, empty for arm commands.
	Pin string
	// Actor is who sent the command; nil for commands received from the bus.
	Actor *Actor
}

// Mode returns the profile an arm command targets.
func (c Command) Mode() Mode {
	switch c.Kind {
	case CommandArmHome:
		return ModeHome
	case CommandArmAway:
		return ModeAway
	default:
		return ModeNone
	}
}

var (
	// ErrUnrecognizedCommand is returned for control payloads outside the grammar.
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	// ErrWrongCredential is returned when a disarm attempt carries a wrong pin.
	ErrWrongCredential = errors.New("wrong disarm credential")
)

// disarmSeparator splits the DISARM keyword from the pin.
const disarmSeparator = ":"

// jsonCommand is the structured control payload form.
type jsonCommand struct {
	Command string `json:"command"`
	Pin     string `json:"pin"`
}

// ParseCommand parses a control payload.
//
// Accepted forms are ARM_HOME, ARM_AWAY, DISARM:<pin>, DEACTIVATE_REQUEST and
// DEACTIVATE:<answer> (keywords are case insensitive, surrounding whitespace
// ignored) and the JSON object {"command": "DISARM", "pin": "1234"}.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))

	if strings.HasPrefix(text, "{") {
		var decoded jsonCommand
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrUnrecognizedCommand, text)
		}

		return NewCommand(decoded.Command, decoded.Pin)
	}

	keyword, pin, _ := strings.Cut(text, disarmSeparator)

	return NewCommand(keyword, pin)
}

// NewCommand builds a command from its keyword and optional pin.
func NewCommand(keyword, pin string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(keyword)) {
	case "ARM_HOME":
		return Command{Kind: CommandArmHome}, nil
	case "ARM_AWAY":
		return Command{Kind: CommandArmAway}, nil
	case "DISARM":
		return Command{Kind: CommandDisarm, Pin: strings.TrimSpace(pin)}, nil
	case "DEACTIVATE_REQUEST":
		return Command{Kind: CommandDeactivateRequest}, nil
	case "DEACTIVATE":
		return Command{Kind: CommandDeactivate, Pin: strings.TrimSpace(pin)}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnrecognizedCommand, keyword)
	}
}
