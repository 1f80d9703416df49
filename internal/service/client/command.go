package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/service/common"
)

// Options configures the operator commands.
type Options struct {
	// ConfigPath to YAML settings file, used to resolve the control API address.
	ConfigPath string

	// Address overrides the control API address from config when specified.
	Address string

	// Keyword is the control keyword to send.
	Keyword string

	// Pin is the disarm credential or the challenge answer.
	Pin string

	// Attempts bounds how many times an unavailable controller is retried.
	Attempts int

	// Watch keeps polling the status until cancellation.
	Watch bool

	// PollInterval is the delay between status polls in watch mode.
	PollInterval time.Duration

	// Out receives human readable output, stdout when nil.
	Out io.Writer
}

const (
	// DefaultPollInterval is the status polling interval in watch mode.
	DefaultPollInterval = 2 * time.Second
	// DefaultAttempts is how many times a command is tried against an unavailable controller.
	DefaultAttempts = 5

	// defaultPushInterval is the retry delay between command attempts.
	defaultPushInterval = 1 * time.Second
)

// errAddressUnknown is returned when neither flags nor config name the control API.
var errAddressUnknown = errors.New("control API address is not configured, set grpcListen or --address")

// RunCommand sends a single control command and prints the resulting status.
//
// Attempts are repeated while the controller is unavailable; a rejected
// command (wrong pin, invalid keyword) fails immediately.
func RunCommand(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mqtt-alarm-command")

	// Validate locally before connecting.
	cmd, err := domain.NewCommand(opts.Keyword, opts.Pin)
	if err != nil {
		return err
	}

	client, address, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	logger.InfoKV(ctx, "Sending command", "address", address, "command", cmd.Kind.String(), "actor", actor.String())

	for attempt := 1; ; attempt++ {
		current, err := client.SendCommand(ctx, cmd.Kind.String(), cmd.Pin, actor)
		if err == nil {
			fmt.Fprintln(output(opts), FormatStatus(current))

			return nil
		}

		if status.Code(err) != codes.Unavailable || attempt >= attempts {
			return err
		}

		logger.WarnKV(ctx, "Controller unavailable, retrying", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultPushInterval):
		}
	}
}

// RunStatus prints the current status once, or keeps polling in watch mode.
func RunStatus(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mqtt-alarm-status")

	client, address, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	out := output(opts)

	current, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, FormatStatus(current))

	if !opts.Watch {
		return nil
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger.InfoKV(ctx, "Watching alarm status", "address", address, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := current.Main()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			current, err = client.GetStatus(ctx)
			if err != nil {
				logger.ErrorKV(ctx, "Get status failed", "error", err)
				continue
			}

			// Countdown updates are printed too while a timer runs.
			if current.Main() == last && current.Countdown == 0 {
				continue
			}

			last = current.Main()

			fmt.Fprintln(out, FormatStatus(current))
		}
	}
}

// FormatStatus renders a status as one human readable line.
func FormatStatus(current *domain.Status) string {
	if current == nil {
		return "<nil status>"
	}

	line := current.Main()
	if current.Countdown > 0 {
		line += fmt.Sprintf(" (%ds left)", current.Countdown)
	}

	if current.ChallengePin != "" {
		line += " challenge " + current.ChallengePin
	}

	if !current.Timestamp.IsZero() {
		line += " since " + current.Timestamp.Format(time.RFC3339)
	}

	if current.LastActor != nil {
		line += " by " + current.LastActor.String()
	}

	return line
}

// connect resolves the control API address and dials it.
func connect(ctx context.Context, opts *Options) (*common.Client, string, error) {
	address := opts.Address
	timeout := config.DefaultTimeout

	if address == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, "", fmt.Errorf("load configuration: %w", err)
		}

		address = cfg.GRPCListen
	}

	if address == "" {
		return nil, "", errAddressUnknown
	}

	client, err := common.Dial(ctx, address, common.WithCallTimeout(timeout))
	if err != nil {
		return nil, "", err
	}

	return client, common.DialAddress(address), nil
}

func output(opts *Options) io.Writer {
	if opts.Out != nil {
		return opts.Out
	}

	return os.Stdout
}
