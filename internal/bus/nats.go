package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/topic"
)

// reconnectWait is the delay between NATS reconnect attempts.
const reconnectWait = 2 * time.Second

// NATS is a Bus backed by a NATS connection. Topics are mapped to subjects:
// "/" becomes ".", "+" becomes "*" and "#" becomes ">".
type NATS struct {
	// opts holds the connection settings.
	opts Options

	// mu protects the fields below.
	mu sync.Mutex
	// ctx is handed to message handlers.
	ctx context.Context //nolint:containedctx // Handlers outlive the Subscribe call.
	// conn is the NATS connection, nil before Connect.
	conn *nats.Conn
	// subscriptions are drained on Close.
	subscriptions []*nats.Subscription
}

// NewNATS creates an unconnected NATS bus.
func NewNATS(opts Options) *NATS {
	return &NATS{
		opts: opts,
		ctx:  context.Background(),
	}
}

// Connect dials the NATS server.
func (b *NATS) Connect(ctx context.Context) error {
	logCtx := logger.WithName(ctx, "nats")

	options := []nats.Option{
		nats.Name(b.opts.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.Timeout(b.timeout()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.ErrorKV(logCtx, "Disconnected from NATS", "address", b.opts.Address, "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.InfoKV(logCtx, "Reconnected to NATS", "url", conn.ConnectedUrl())

			if b.opts.OnConnect != nil {
				b.opts.OnConnect()
			}
		}),
	}

	if b.opts.Username != "" {
		options = append(options, nats.UserInfo(b.opts.Username, b.opts.Password))
	}

	conn, err := nats.Connect("nats://"+b.opts.Address, options...)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", b.opts.Address, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ctx = logCtx
	b.mu.Unlock()

	logger.InfoKV(logCtx, "Connected to NATS", "url", conn.ConnectedUrl(), "client_id", b.opts.ClientID)

	if b.opts.OnConnect != nil {
		b.opts.OnConnect()
	}

	return nil
}

// Subscribe registers the handler on the mapped subject. The NATS client
// restores subscriptions after reconnects on its own.
func (b *NATS) Subscribe(_ context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return ErrNotConnected
	}

	handlerCtx := b.ctx

	sub, err := b.conn.Subscribe(SubjectFromTopic(pattern), func(msg *nats.Msg) {
		handler(handlerCtx, Message{
			Topic:   TopicFromSubject(msg.Subject),
			Payload: msg.Data,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, pattern, err)
	}

	b.subscriptions = append(b.subscriptions, sub)

	return nil
}

// Publish sends the payload on the mapped subject.
func (b *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Publish(SubjectFromTopic(topic), payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}

	return nil
}

// Close publishes the last will, unsubscribes and closes the connection.
// NATS has no broker-side will, so this is the only UNAVAILABLE announcement.
func (b *NATS) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}

	if b.opts.WillTopic != "" {
		if err := b.conn.Publish(SubjectFromTopic(b.opts.WillTopic), b.opts.WillPayload); err != nil {
			logger.ErrorKV(b.ctx, "Failed to publish last will", "error", err)
		}
	}

	for _, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
	}

	b.subscriptions = nil

	if err := b.conn.FlushTimeout(b.timeout()); err != nil {
		logger.WarnKV(b.ctx, "Flush before close failed", "error", err)
	}

	b.conn.Close()
	b.conn = nil

	return nil
}

func (b *NATS) timeout() time.Duration {
	if b.opts.Timeout <= 0 {
		return reconnectWait
	}

	return b.opts.Timeout
}

// SubjectFromTopic maps an MQTT topic or pattern to a NATS subject.
func SubjectFromTopic(t string) string {
	levels := strings.Split(t, topic.Separator)

	for i, level := range levels {
		switch level {
		case topic.SingleLevel:
			levels[i] = "*"
		case topic.MultiLevel:
			levels[i] = ">"
		}
	}

	return strings.Join(levels, ".")
}

// TopicFromSubject maps a concrete NATS subject back to an MQTT topic.
func TopicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", topic.Separator)
}
