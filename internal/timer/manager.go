package timer

import (
	"sync"
	"time"
)

// DefaultTickInterval is the countdown resolution.
const DefaultTickInterval = time.Second

// Handle identifies a scheduled countdown. The zero Handle is never issued.
type Handle uint64

// countdown is the single outstanding timer.
type countdown struct {
	// handle identifies the countdown.
	handle Handle
	// remaining is the number of ticks before expiry.
	remaining int
	// stop is closed on cancellation.
	stop chan struct{}
}

// Manager owns at most one cancellable countdown.
//
// Callbacks run on the countdown goroutine; callers are expected to hand them
// off to their own event loop instead of mutating state directly.
type Manager struct {
	// tick is the interval between decrements.
	tick time.Duration
	// onTick is called after every decrement that does not expire the countdown.
	onTick func(h Handle, remaining int)

	// mu protects the fields below.
	mu sync.Mutex
	// current is the outstanding countdown, nil when idle.
	current *countdown
	// lastHandle is the most recently issued handle.
	lastHandle Handle
}

// Option configures the manager.
type Option func(*Manager)

// WithTickInterval overrides the countdown resolution.
func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithTickHandler registers a callback for intermediate countdown values.
func WithTickHandler(fn func(h Handle, remaining int)) Option {
	return func(m *Manager) {
		m.onTick = fn
	}
}

// NewManager creates an idle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tick: DefaultTickInterval,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Schedule starts a countdown of the given number of ticks and calls onExpire
// when it runs out. An outstanding countdown is cancelled first. A countdown
// of zero or fewer ticks expires on the next tick.
func (m *Manager) Schedule(ticks int, onExpire func(Handle)) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()

	m.lastHandle++

	c := &countdown{
		handle:    m.lastHandle,
		remaining: max(ticks, 1),
		stop:      make(chan struct{}),
	}
	m.current = c

	go m.run(c, onExpire)

	return c.handle
}

// Cancel stops the countdown identified by h. It reports whether a countdown
// was actually stopped; already fired or cancelled handles are a no-op.
func (m *Manager) Cancel(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.handle != h {
		return false
	}

	m.cancelLocked()

	return true
}

// Remaining returns the seconds left on the outstanding countdown, 0 when idle.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return 0
	}

	return m.current.remaining
}

// Active returns the outstanding handle, if any.
func (m *Manager) Active() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return 0, false
	}

	return m.current.handle, true
}

// run drives a countdown until it expires or is cancelled.
func (m *Manager) run(c *countdown, onExpire func(Handle)) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		remaining, expired, ok := m.decrement(c)
		if !ok {
			return
		}

		if expired {
			if onExpire != nil {
				onExpire(c.handle)
			}

			return
		}

		if m.onTick != nil {
			m.onTick(c.handle, remaining)
		}
	}
}

// decrement advances the countdown unless it was superseded meanwhile.
func (m *Manager) decrement(c *countdown) (int, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != c {
		return 0, false, false
	}

	c.remaining--
	if c.remaining > 0 {
		return c.remaining, false, true
	}

	m.current = nil

	return 0, true, true
}

func (m *Manager) cancelLocked() {
	if m.current == nil {
		return
	}

	close(m.current.stop)
	m.current = nil
}
