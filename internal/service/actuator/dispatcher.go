package actuator

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/mqtt-alarm/internal/bus"
	"github.com/oshokin/mqtt-alarm/internal/config"
	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/metrics"
)

// Dispatcher publishes device commands.
type Dispatcher struct {
	// publisher sends the commands.
	publisher bus.Publisher
	// metrics counts published commands, may be nil.
	metrics *metrics.Metrics
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(publisher bus.Publisher, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		metrics:   m,
	}
}

// RunCommands publishes every command in order. A failed command is logged
// and the rest still run; the joined failures are returned.
func (d *Dispatcher) RunCommands(ctx context.Context, commands []config.Command) error {
	ctx = logger.WithName(ctx, "actuator")

	var errs []error

	for _, cmd := range commands {
		err := d.publisher.Publish(ctx, cmd.Topic, []byte(cmd.Payload))
		d.metrics.CommandPublished(err)

		if err != nil {
			err = fmt.Errorf("publish command to %s: %w", cmd.Topic, err)
			logger.ErrorKV(ctx, "Failed to publish command", "topic", cmd.Topic, "error", err)

			errs = append(errs, err)

			continue
		}

		logger.InfoKV(ctx, "Command published", "topic", cmd.Topic, "payload", cmd.Payload)
	}

	return errors.Join(errs...)
}
