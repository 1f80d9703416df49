package client

import (
	"bytes"
	"context"
	"crypto/subtle"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/mqtt-alarm/internal/api/grpc/alarm"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
)

const (
	testPin       = "1234"
	testChallenge = "9270"
)

// stubController is a minimal controller answering over the real gRPC transport.
type stubController struct {
	mu      sync.Mutex
	current *domain.Status
}

func (s *stubController) Status() *domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.Clone()
}

func (s *stubController) Control(_ context.Context, cmd domain.Command) (*domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case domain.CommandDisarm:
		if subtle.ConstantTimeCompare([]byte(cmd.Pin), []byte(testPin)) != 1 {
			return s.current.Clone(), domain.ErrWrongCredential
		}

		s.current = &domain.Status{Timestamp: time.Unix(1700000000, 0), Phase: domain.PhaseUnarmed, LastActor: cmd.Actor}
	case domain.CommandDeactivateRequest:
		s.current.ChallengePin = testChallenge
	case domain.CommandDeactivate:
		if !domain.VerifyChallenge(s.current.ChallengePin, testPin, cmd.Pin) {
			return s.current.Clone(), domain.ErrWrongCredential
		}

		s.current = &domain.Status{Timestamp: time.Unix(1700000000, 0), Phase: domain.PhaseUnarmed, LastActor: cmd.Actor}
	default:
		s.current = &domain.Status{
			Timestamp: time.Unix(1700000000, 0),
			Phase:     domain.PhaseArming,
			Mode:      cmd.Mode(),
			Countdown: 30,
			LastActor: cmd.Actor,
		}
	}

	return s.current.Clone(), nil
}

// startController serves a stub controller on a loopback port.
func startController(t *testing.T) (string, *stubController) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	controller := &stubController{current: &domain.Status{Timestamp: time.Unix(1700000000, 0)}}

	server := grpc.NewServer()
	api.RegisterAlarmServiceServer(server, api.NewServer(controller))

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(server.Stop)

	return listener.Addr().String(), controller
}

// TestRunStatus prints the current status once.
func TestRunStatus(t *testing.T) {
	t.Parallel()

	address, _ := startController(t)

	var out bytes.Buffer

	err := RunStatus(context.Background(), &Options{Address: address, Out: &out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "UNARMED since ")
}

// TestRunCommand_ArmAndDisarm drives the controller through the CLI helpers.
func TestRunCommand_ArmAndDisarm(t *testing.T) {
	t.Parallel()

	address, controller := startController(t)

	var out bytes.Buffer

	err := RunCommand(context.Background(), &Options{Address: address, Keyword: "arm_away", Out: &out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "ARMING (30s left)")

	current := controller.Status()
	require.Equal(t, domain.ModeAway, current.Mode)
	require.NotNil(t, current.LastActor)

	err = RunCommand(context.Background(), &Options{Address: address, Keyword: "DISARM", Pin: "0000", Out: &out})
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	require.Equal(t, domain.PhaseArming, controller.Status().Phase)

	err = RunCommand(context.Background(), &Options{Address: address, Keyword: "DISARM", Pin: testPin, Out: &out})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseUnarmed, controller.Status().Phase)
}

// TestRunCommand_Challenge requests a challenge and answers it.
func TestRunCommand_Challenge(t *testing.T) {
	t.Parallel()

	address, controller := startController(t)

	var out bytes.Buffer

	err := RunCommand(context.Background(), &Options{Address: address, Keyword: "DEACTIVATE_REQUEST", Out: &out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "challenge "+testChallenge)

	err = RunCommand(context.Background(), &Options{Address: address, Keyword: "DEACTIVATE", Pin: testPin, Out: &out})
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	require.Equal(t, testChallenge, controller.Status().ChallengePin)

	err = RunCommand(context.Background(), &Options{Address: address, Keyword: "DEACTIVATE", Pin: "0404", Out: &out})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseUnarmed, controller.Status().Phase)
	require.Empty(t, controller.Status().ChallengePin)
}

// TestRunCommand_RejectsUnknownKeyword fails before dialing.
func TestRunCommand_RejectsUnknownKeyword(t *testing.T) {
	t.Parallel()

	err := RunCommand(context.Background(), &Options{Address: "127.0.0.1:1", Keyword: "PANIC"})
	require.ErrorIs(t, err, domain.ErrUnrecognizedCommand)
}

// TestRunCommand_GivesUpWhenUnavailable stops after the configured attempts.
func TestRunCommand_GivesUpWhenUnavailable(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	err = RunCommand(context.Background(), &Options{Address: address, Keyword: "ARM_HOME", Attempts: 1})
	require.Equal(t, codes.Unavailable, status.Code(err))
}

// TestFormatStatus covers the optional parts of the status line.
func TestFormatStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "<nil status>", FormatStatus(nil))
	require.Equal(t, "ARMED_HOME", FormatStatus(&domain.Status{Phase: domain.PhaseArmed, Mode: domain.ModeHome}))

	line := FormatStatus(&domain.Status{
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Phase:     domain.PhaseTriggeredPending,
		Mode:      domain.ModeAway,
		Countdown: 7,
		LastActor: &domain.Actor{Hostname: "box", Username: "ann"},
	})
	require.Equal(t, "TRIGGERED (7s left) since 2024-01-02T03:04:05Z by ann@box", line)

	line = FormatStatus(&domain.Status{
		Phase:        domain.PhaseTriggered,
		Mode:         domain.ModeAway,
		ChallengePin: "9270",
	})
	require.Equal(t, "ACTIVATED challenge 9270", line)
}
