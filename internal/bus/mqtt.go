package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/mqtt-alarm/internal/logger"
)

const (
	// connectRetryInterval is the delay between initial connection attempts.
	connectRetryInterval = 5 * time.Second
	// disconnectQuiesce is how long Close waits for in-flight work, in milliseconds.
	disconnectQuiesce = 250
)

// MQTT is a Bus backed by the paho MQTT client.
type MQTT struct {
	// opts holds the connection settings.
	opts Options

	// mu protects the fields below.
	mu sync.Mutex
	// client is the paho client, nil before Connect.
	client mqtt.Client
	// ctx is handed to message handlers.
	ctx context.Context //nolint:containedctx // Handlers outlive the Subscribe call.
	// subscriptions are replayed after every reconnect.
	subscriptions map[string]Handler
}

// NewMQTT creates an unconnected MQTT bus.
func NewMQTT(opts Options) *MQTT {
	return &MQTT{
		opts:          opts,
		ctx:           context.Background(),
		subscriptions: make(map[string]Handler),
	}
}

// Connect dials the broker and blocks until connected or ctx is done.
func (b *MQTT) Connect(ctx context.Context) error {
	logCtx := logger.WithName(ctx, "mqtt")

	options := mqtt.NewClientOptions()
	options.AddBroker("tcp://" + b.opts.Address)
	options.SetClientID(b.opts.ClientID)
	options.SetUsername(b.opts.Username)
	options.SetPassword(b.opts.Password)
	options.SetAutoReconnect(true)
	options.SetConnectRetry(true)
	options.SetConnectRetryInterval(connectRetryInterval)
	options.SetOrderMatters(false)

	if b.opts.WillTopic != "" {
		options.SetBinaryWill(b.opts.WillTopic, b.opts.WillPayload, b.opts.QoS, true)
	}

	options.SetOnConnectHandler(b.onConnect)
	options.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.ErrorKV(logCtx, "Connection to broker lost", "address", b.opts.Address, "error", err)
	})
	options.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.InfoKV(logCtx, "Reconnecting to broker", "address", b.opts.Address)
	})

	client := mqtt.NewClient(options)

	// Set before dialing, the connect handler reads both.
	b.mu.Lock()
	b.client = client
	b.ctx = logCtx
	b.mu.Unlock()

	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to %s: %w", b.opts.Address, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Subscribe registers the handler and subscribes if already connected.
func (b *MQTT) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	b.subscriptions[pattern] = handler
	b.mu.Unlock()

	client, _ := b.state()
	if client == nil || !client.IsConnectionOpen() {
		// The subscription is replayed by onConnect.
		return nil
	}

	return b.subscribe(ctx, pattern, handler)
}

// Publish sends the payload without waiting for the broker acknowledgement.
// Delivery failures are logged when the acknowledgement arrives.
func (b *MQTT) Publish(_ context.Context, topic string, payload []byte) error {
	client, logCtx := b.state()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(topic, b.opts.QoS, b.opts.Retain, payload)

	go func() {
		if !token.WaitTimeout(b.timeout()) {
			logger.WarnKV(logCtx, "Publish not acknowledged in time", "topic", topic)

			return
		}

		if err := token.Error(); err != nil {
			logger.ErrorKV(logCtx, "Publish failed", "topic", topic, "error", fmt.Errorf("%w: %w", ErrPublish, err))
		}
	}()

	return nil
}

// Close disconnects; the broker then delivers the last will.
func (b *MQTT) Close() error {
	client, _ := b.state()
	if client == nil {
		return nil
	}

	if b.opts.WillTopic != "" && client.IsConnectionOpen() {
		token := client.Publish(b.opts.WillTopic, b.opts.QoS, true, b.opts.WillPayload)
		token.WaitTimeout(b.timeout())
	}

	client.Disconnect(disconnectQuiesce)

	return nil
}

// onConnect replays subscriptions and notifies the owner.
func (b *MQTT) onConnect(mqtt.Client) {
	_, logCtx := b.state()
	logger.InfoKV(logCtx, "Connected to broker", "address", b.opts.Address, "client_id", b.opts.ClientID)

	b.mu.Lock()
	subscriptions := make(map[string]Handler, len(b.subscriptions))
	for pattern, handler := range b.subscriptions {
		subscriptions[pattern] = handler
	}
	b.mu.Unlock()

	for pattern, handler := range subscriptions {
		if err := b.subscribe(logCtx, pattern, handler); err != nil {
			logger.ErrorKV(logCtx, "Resubscribe failed", "pattern", pattern, "error", err)
		}
	}

	if b.opts.OnConnect != nil {
		b.opts.OnConnect()
	}
}

func (b *MQTT) subscribe(ctx context.Context, pattern string, handler Handler) error {
	client, logCtx := b.state()

	token := client.Subscribe(pattern, b.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(logCtx, Message{
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		})
	})

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, pattern, err)
	}

	logger.DebugKV(logCtx, "Subscribed", "pattern", pattern)

	return nil
}

// state returns the client and the handler context under the lock.
func (b *MQTT) state() (mqtt.Client, context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.client, b.ctx
}

func (b *MQTT) timeout() time.Duration {
	if b.opts.Timeout <= 0 {
		return connectRetryInterval
	}

	return b.opts.Timeout
}
