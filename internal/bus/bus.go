package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
)

// Message is an inbound bus message.
type Message struct {
	// Topic is the concrete topic the message was published to.
	Topic string
	// Payload is the raw message body.
	Payload []byte
}

// Handler consumes inbound messages. Transports may call it from their own
// goroutines concurrently.
type Handler func(ctx context.Context, msg Message)

// Publisher publishes payloads to topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Bus is the publish/subscribe collaborator the controller depends on.
type Bus interface {
	Publisher
	// Connect establishes the connection; reconnects are handled internally.
	Connect(ctx context.Context) error
	// Subscribe registers a handler for a pattern; subscriptions survive reconnects.
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	// Close announces unavailability where supported and disconnects.
	Close() error
}

// Options are the transport-independent connection settings.
type Options struct {
	// Address is the broker host:port.
	Address string
	// ClientID identifies the connection.
	ClientID string
	// Username is the optional broker user.
	Username string
	// Password is the optional broker password.
	Password string
	// QoS is the MQTT quality of service.
	QoS byte
	// Retain marks published messages as retained.
	Retain bool
	// WillTopic receives WillPayload when the controller disappears.
	WillTopic string
	// WillPayload is the last-will message.
	WillPayload []byte
	// OnConnect is called after every (re)connection.
	OnConnect func()
	// Timeout bounds connect, subscribe and publish acknowledgements.
	Timeout time.Duration
}

var (
	// ErrNotConnected is returned when the bus is used before Connect.
	ErrNotConnected = errors.New("bus is not connected")
	// ErrPublish wraps publish failures.
	ErrPublish = errors.New("publish failed")
	// ErrSubscribe wraps subscribe failures.
	ErrSubscribe = errors.New("subscribe failed")
	// errUnknownKind is returned for an unsupported transport kind.
	errUnknownKind = errors.New("unknown bus kind")
)

// NewOptions derives transport options from the alarm configuration.
// The last will announces UNAVAILABLE on the status topic.
func NewOptions(cfg *config.Config) Options {
	return Options{
		Address:     cfg.Bus.BrokerAddress(),
		ClientID:    cfg.ClientID,
		Username:    cfg.Bus.Username,
		Password:    cfg.Bus.Password,
		QoS:         cfg.Bus.QualityOfService(),
		Retain:      cfg.Bus.Retained(),
		WillTopic:   cfg.Bus.PublishTopic,
		WillPayload: domain.UnavailablePayload(),
		Timeout:     config.DefaultTimeout,
	}
}

// New creates the transport selected by the configuration.
func New(cfg *config.Config, opts Options) (Bus, error) {
	switch cfg.Bus.Kind {
	case config.BusKindMQTT, "":
		return NewMQTT(opts), nil
	case config.BusKindNATS:
		return NewNATS(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownKind, cfg.Bus.Kind)
	}
}
