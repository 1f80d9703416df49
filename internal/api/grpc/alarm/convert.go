package alarm

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
)

// Field names of the status and command documents.
const (
	FieldMain         = "main"
	FieldCountdown    = "countdown"
	FieldMode         = "mode"
	FieldTimestamp    = "timestamp"
	FieldChallengePin = "challengePin"
	FieldActor        = "lastActor"
	FieldHostname     = "hostname"
	FieldUsername     = "username"
	FieldCommand      = "command"
	FieldPin          = "pin"
)

// ErrUnknownStatus is returned for a status name that cannot be decoded.
var ErrUnknownStatus = errors.New("unknown status")

// StatusToStruct converts a status into its Struct document.
func StatusToStruct(status *domain.Status) (*structpb.Struct, error) {
	fields := map[string]any{
		FieldMain:      status.Main(),
		FieldCountdown: max(status.Countdown, 0),
		FieldMode:      status.Mode.String(),
		FieldTimestamp: "",
	}

	if !status.Timestamp.IsZero() {
		fields[FieldTimestamp] = status.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	if status.ChallengePin != "" {
		fields[FieldChallengePin] = status.ChallengePin
	}

	if status.LastActor != nil {
		fields[FieldActor] = map[string]any{
			FieldHostname: status.LastActor.Hostname,
			FieldUsername: status.LastActor.Username,
		}
	}

	document, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build status document: %w", err)
	}

	return document, nil
}

// StatusFromStruct converts a Struct document into a status.
func StatusFromStruct(document *structpb.Struct) (*domain.Status, error) {
	fields := document.GetFields()

	main := fields[FieldMain].GetStringValue()

	phase, mode, ok := domain.ParseMain(main)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, main)
	}

	if parsed, ok := domain.ParseMode(fields[FieldMode].GetStringValue()); ok {
		mode = parsed
	}

	status := &domain.Status{
		Phase:        phase,
		Mode:         mode,
		Countdown:    int(fields[FieldCountdown].GetNumberValue()),
		ChallengePin: fields[FieldChallengePin].GetStringValue(),
	}

	if raw := fields[FieldTimestamp].GetStringValue(); raw != "" {
		timestamp, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}

		status.Timestamp = timestamp
	}

	if actor := fields[FieldActor].GetStructValue(); actor != nil {
		status.LastActor = &domain.Actor{
			Hostname: actor.GetFields()[FieldHostname].GetStringValue(),
			Username: actor.GetFields()[FieldUsername].GetStringValue(),
		}
	}

	return status, nil
}

// CommandToStruct builds a SendCommand request.
func CommandToStruct(keyword, pin string, actor *domain.Actor) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldCommand: structpb.NewStringValue(keyword),
	}

	if pin != "" {
		fields[FieldPin] = structpb.NewStringValue(pin)
	}

	if actor != nil {
		fields[FieldHostname] = structpb.NewStringValue(actor.Hostname)
		fields[FieldUsername] = structpb.NewStringValue(actor.Username)
	}

	return &structpb.Struct{Fields: fields}
}

// CommandFromStruct parses a SendCommand request.
func CommandFromStruct(document *structpb.Struct) (domain.Command, error) {
	fields := document.GetFields()

	cmd, err := domain.NewCommand(fields[FieldCommand].GetStringValue(), fields[FieldPin].GetStringValue())
	if err != nil {
		return domain.Command{}, err
	}

	hostname := fields[FieldHostname].GetStringValue()
	username := fields[FieldUsername].GetStringValue()

	if hostname != "" || username != "" {
		cmd.Actor = &domain.Actor{
			Hostname: hostname,
			Username: username,
		}
	}

	return cmd, nil
}
