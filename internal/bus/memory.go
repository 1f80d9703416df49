package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/oshokin/mqtt-alarm/internal/topic"
)

// memorySubscription is one registered handler.
type memorySubscription struct {
	// pattern is the MQTT subscription pattern.
	pattern string
	// handler receives matching messages.
	handler Handler
}

// Memory is an in-process Bus. Publishing delivers synchronously to every
// matching subscriber and records the message for inspection.
type Memory struct {
	// ctx is handed to handlers.
	ctx context.Context //nolint:containedctx // Handlers outlive the Subscribe call.
	// onConnect mirrors Options.OnConnect.
	onConnect func()

	// mu protects the fields below.
	mu sync.Mutex
	// connected is set between Connect and Close.
	connected bool
	// subscriptions are the registered handlers.
	subscriptions []memorySubscription
	// published records every message in publish order.
	published []Message
	// failures maps topics to the error Publish returns for them.
	failures map[string]error
}

// NewMemory creates an in-process bus.
func NewMemory(opts Options) *Memory {
	return &Memory{
		ctx:       context.Background(),
		onConnect: opts.OnConnect,
		failures:  make(map[string]error),
	}
}

// Connect marks the bus connected.
func (b *Memory) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.connected = true
	b.mu.Unlock()

	if b.onConnect != nil {
		b.onConnect()
	}

	return nil
}

// Subscribe registers the handler for the pattern.
func (b *Memory) Subscribe(_ context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriptions = append(b.subscriptions, memorySubscription{
		pattern: pattern,
		handler: handler,
	})

	return nil
}

// Publish records the message and delivers it to matching subscribers.
func (b *Memory) Publish(_ context.Context, t string, payload []byte) error {
	b.mu.Lock()

	if !b.connected {
		b.mu.Unlock()

		return ErrNotConnected
	}

	if err, ok := b.failures[t]; ok {
		b.mu.Unlock()

		return err
	}

	msg := Message{
		Topic:   t,
		Payload: slices.Clone(payload),
	}
	b.published = append(b.published, msg)

	var handlers []Handler

	for _, sub := range b.subscriptions {
		if topic.Matches(sub.pattern, t) {
			handlers = append(handlers, sub.handler)
		}
	}

	ctx := b.ctx
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, msg)
	}

	return nil
}

// Close marks the bus disconnected.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false

	return nil
}

// FailTopic makes every publish to t return err; a nil err clears the failure.
func (b *Memory) FailTopic(t string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.failures, t)

		return
	}

	b.failures[t] = err
}

// Published returns a copy of every message published so far.
func (b *Memory) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.published)
}

// PublishedTo returns the payloads published to t, in order.
func (b *Memory) PublishedTo(t string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	var payloads [][]byte

	for _, msg := range b.published {
		if msg.Topic == t {
			payloads = append(payloads, msg.Payload)
		}
	}

	return payloads
}

// Patterns returns the subscribed patterns in registration order.
func (b *Memory) Patterns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	patterns := make([]string, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		patterns = append(patterns, sub.pattern)
	}

	return patterns
}

// Reset forgets the recorded messages.
func (b *Memory) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = nil
}
