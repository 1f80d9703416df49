package controller

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/mqtt-alarm/internal/bus"
	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/metrics"
	repo "github.com/oshokin/mqtt-alarm/internal/repository/state"
	"github.com/oshokin/mqtt-alarm/internal/service/actuator"
	"github.com/oshokin/mqtt-alarm/internal/service/notify"
	"github.com/oshokin/mqtt-alarm/internal/timer"
	"github.com/oshokin/mqtt-alarm/internal/topic"
	"github.com/oshokin/mqtt-alarm/internal/trigger"
)

// CommandRunner publishes start and stop commands.
type CommandRunner interface {
	RunCommands(ctx context.Context, commands []config.Command) error
}

// Notifier dispatches the notifications of a fired rule.
type Notifier interface {
	Dispatch(ctx context.Context, notify config.Notify, triggeringTopic, text string) error
}

// Deps are the collaborators of the machine. Commands and Notifier default to
// the bus-backed dispatchers; Repository and Metrics are optional.
type Deps struct {
	// Publisher sends status messages.
	Publisher bus.Publisher
	// Evaluator matches sensor messages against trigger rules.
	Evaluator *trigger.Evaluator
	// Commands runs start and stop commands.
	Commands CommandRunner
	// Notifier dispatches notifications.
	Notifier Notifier
	// Repository persists the settled status, nil disables persistence.
	Repository repo.Repository
	// Metrics records activity, may be nil.
	Metrics *metrics.Metrics
	// TickInterval overrides the countdown resolution.
	TickInterval time.Duration
	// Challenge generates disarm challenges, random digits when nil.
	Challenge func() (string, error)
}

// ErrStopped is returned when the machine is no longer running.
var ErrStopped = errors.New("alarm controller is stopped")

type eventKind int

const (
	eventMessage eventKind = iota
	eventControl
	eventTick
	eventExpiry
	eventAnnounce
)

// event is one unit of work for the loop.
type event struct {
	// kind selects the handler.
	kind eventKind
	// msg is set for eventMessage.
	msg bus.Message
	// cmd is set for eventControl.
	cmd domain.Command
	// reply receives the outcome of eventControl.
	reply chan controlResult
	// handle identifies the countdown of eventTick and eventExpiry.
	handle timer.Handle
	// remaining is the countdown value of eventTick.
	remaining int
}

// controlResult is the outcome of a control command.
type controlResult struct {
	// status is the snapshot after the command.
	status *domain.Status
	// err is set when the command was rejected.
	err error
}

// Machine is the alarm state machine. All status mutations happen on the
// goroutine running Run; other goroutines only enqueue events.
type Machine struct {
	// cfg is the immutable alarm definition.
	cfg *config.Config
	// publisher sends status messages.
	publisher bus.Publisher
	// evaluator matches sensor messages.
	evaluator *trigger.Evaluator
	// commands runs start and stop commands.
	commands CommandRunner
	// notifier dispatches notifications.
	notifier Notifier
	// repository persists the settled status, may be nil.
	repository repo.Repository
	// metrics may be nil.
	metrics *metrics.Metrics
	// timers owns the single countdown.
	timers *timer.Manager
	// now returns the current time.
	now func() time.Time
	// newChallenge generates disarm challenges.
	newChallenge func() (string, error)

	// events is the serialized input queue.
	events chan event
	// stopped is closed when Run returns.
	stopped chan struct{}
	// snapshot is the last published status, read by concurrent callers.
	snapshot atomic.Pointer[domain.Status]
	// notifications tracks in-flight notification dispatches.
	notifications sync.WaitGroup

	// status is owned by the loop.
	status *domain.Status
	// pending is the handle of the countdown bound to the pending transition.
	pending timer.Handle
	// pendingMatch is the rule that caused TRIGGERED_PENDING.
	pendingMatch *trigger.Match
	// challenge is the outstanding disarm challenge.
	challenge string
	// restored is set once the first announcement applied the saved status.
	restored bool
}

// NewMachine creates an UNARMED machine.
func NewMachine(cfg *config.Config, deps Deps) *Machine {
	m := &Machine{
		cfg:        cfg,
		publisher:  deps.Publisher,
		evaluator:  deps.Evaluator,
		commands:   deps.Commands,
		notifier:   deps.Notifier,
		repository: deps.Repository,
		metrics:    deps.Metrics,
		now:        time.Now,
		events:     make(chan event, max(cfg.QueueSize, 1)),
		stopped:    make(chan struct{}),
	}

	m.newChallenge = deps.Challenge
	if m.newChallenge == nil {
		m.newChallenge = func() (string, error) {
			return domain.NewChallenge(len(cfg.DisarmPin))
		}
	}

	if m.commands == nil {
		m.commands = actuator.NewDispatcher(deps.Publisher, deps.Metrics)
	}

	if m.notifier == nil {
		m.notifier = notify.NewDispatcher(cfg.Notification, deps.Publisher, notify.WithMetrics(deps.Metrics))
	}

	timerOptions := []timer.Option{timer.WithTickHandler(m.onTick)}
	if deps.TickInterval > 0 {
		timerOptions = append(timerOptions, timer.WithTickInterval(deps.TickInterval))
	}

	m.timers = timer.NewManager(timerOptions...)

	m.status = &domain.Status{
		Timestamp: m.now(),
		Phase:     domain.PhaseUnarmed,
	}
	m.snapshot.Store(m.status.Clone())

	return m
}

// Run consumes events until ctx is done. On exit it cancels the countdown and
// waits for in-flight notifications.
func (m *Machine) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "machine")

	defer close(m.stopped)

	for {
		select {
		case <-ctx.Done():
			m.timers.Cancel(m.pending)
			m.pending = 0
			m.notifications.Wait()

			logger.Info(ctx, "Alarm controller stopped")

			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

// Status returns the last published status.
func (m *Machine) Status() *domain.Status {
	return m.snapshot.Load().Clone()
}

// HandleMessage enqueues an inbound bus message. It matches bus.Handler.
func (m *Machine) HandleMessage(ctx context.Context, msg bus.Message) {
	if err := m.enqueue(ctx, event{kind: eventMessage, msg: msg}); err != nil {
		logger.WarnKV(ctx, "Dropped bus message", "topic", msg.Topic, "error", err)
	}
}

// Announce requests a republish of the current status after a bus (re)connect.
// The first announcement applies the saved status instead, so restored start
// commands reach a connected bus.
func (m *Machine) Announce() {
	//nolint:contextcheck // Called from transport callbacks without a context.
	if err := m.enqueue(context.Background(), event{kind: eventAnnounce}); err != nil {
		logger.Logger().Debugw("Status announcement skipped", "error", err)
	}
}

// Control applies a command through the event loop and returns the resulting
// status. A wrong pin yields domain.ErrWrongCredential with the unchanged status.
func (m *Machine) Control(ctx context.Context, cmd domain.Command) (*domain.Status, error) {
	reply := make(chan controlResult, 1)

	if err := m.enqueue(ctx, event{kind: eventControl, cmd: cmd, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case result := <-reply:
		return result.status, result.err
	case <-m.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Machine) enqueue(ctx context.Context, ev event) error {
	select {
	case <-m.stopped:
		return ErrStopped
	default:
	}

	select {
	case m.events <- ev:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onTick and onExpire run on the timer goroutine and only hand off.
func (m *Machine) onTick(h timer.Handle, remaining int) {
	_ = m.enqueue(context.Background(), event{kind: eventTick, handle: h, remaining: remaining})
}

func (m *Machine) onExpire(h timer.Handle) {
	_ = m.enqueue(context.Background(), event{kind: eventExpiry, handle: h})
}

func (m *Machine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventMessage:
		m.handleMessage(ctx, ev.msg)
	case eventControl:
		err := m.apply(ctx, ev.cmd)
		ev.reply <- controlResult{status: m.status.Clone(), err: err}
	case eventTick:
		m.handleTick(ctx, ev.handle, ev.remaining)
	case eventExpiry:
		m.handleExpiry(ctx, ev.handle)
	case eventAnnounce:
		if !m.restored {
			m.restored = true

			if m.restore(ctx) {
				return
			}
		}

		m.publish(ctx)
	}
}

func (m *Machine) handleMessage(ctx context.Context, msg bus.Message) {
	// Our own status echoes back when the control pattern covers the status topic.
	if msg.Topic == m.cfg.Bus.PublishTopic {
		return
	}

	if topic.Matches(m.cfg.Bus.SubscribeTopic, msg.Topic) {
		m.metrics.MessageReceived(metrics.KindControl)

		cmd, err := domain.ParseCommand(msg.Payload)
		if err != nil {
			m.metrics.UnrecognizedCommand()
			logger.WarnKV(ctx, "Ignoring control message", "topic", msg.Topic, "error", err)

			return
		}

		_ = m.apply(ctx, cmd)

		return
	}

	m.metrics.MessageReceived(metrics.KindSensor)
	m.handleSensor(ctx, msg)
}

// apply executes a control command. Only a wrong pin is reported as an error.
func (m *Machine) apply(ctx context.Context, cmd domain.Command) error {
	ctx = logger.WithFields(ctx, "command", cmd.Kind.String(), "actor", cmd.Actor.String())

	switch cmd.Kind {
	case domain.CommandArmHome, domain.CommandArmAway:
		m.arm(ctx, cmd)

		return nil
	case domain.CommandDisarm:
		return m.disarm(ctx, cmd)
	case domain.CommandDeactivateRequest:
		m.requestChallenge(ctx)

		return nil
	case domain.CommandDeactivate:
		return m.deactivate(ctx, cmd)
	default:
		m.metrics.UnrecognizedCommand()

		return domain.ErrUnrecognizedCommand
	}
}

func (m *Machine) arm(ctx context.Context, cmd domain.Command) {
	if m.status.Phase != domain.PhaseUnarmed {
		logger.InfoKV(ctx, "Already armed, ignoring", "status", m.status.Main())

		return
	}

	mode := cmd.Mode()

	if m.cfg.ArmingCountdown == 0 {
		m.enterArmed(ctx, mode, cmd.Actor)

		return
	}

	m.pending = m.timers.Schedule(m.cfg.ArmingCountdown, m.onExpire)
	m.transition(ctx, domain.Status{
		Phase:     domain.PhaseArming,
		Mode:      mode,
		Countdown: m.cfg.ArmingCountdown,
		LastActor: cmd.Actor,
	})
}

func (m *Machine) disarm(ctx context.Context, cmd domain.Command) error {
	if subtle.ConstantTimeCompare([]byte(cmd.Pin), []byte(m.cfg.DisarmPin)) != 1 {
		m.metrics.WrongCredential()
		logger.WarnKV(ctx, "Disarm rejected",
			"security_event", "wrong_credential",
			"status", m.status.Main(),
		)

		return domain.ErrWrongCredential
	}

	if m.status.Phase == domain.PhaseUnarmed {
		logger.Debug(ctx, "Already unarmed, ignoring")

		return nil
	}

	m.unarm(ctx, cmd.Actor)

	return nil
}

// requestChallenge issues a new disarm challenge and publishes it with the status.
func (m *Machine) requestChallenge(ctx context.Context) {
	if m.status.Phase == domain.PhaseUnarmed {
		logger.Debug(ctx, "Unarmed, no challenge issued")

		return
	}

	challenge, err := m.newChallenge()
	if err != nil {
		logger.ErrorKV(ctx, "Failed to issue disarm challenge", "error", err)

		return
	}

	m.challenge = challenge
	m.status.ChallengePin = challenge
	m.status.Timestamp = m.now()

	logger.InfoKV(ctx, "Disarm challenge issued", "status", m.status.Main())
	m.publish(ctx)
}

// deactivate disarms a triggered alarm when the answer solves the challenge.
func (m *Machine) deactivate(ctx context.Context, cmd domain.Command) error {
	switch m.status.Phase {
	case domain.PhaseTriggeredPending, domain.PhaseTriggered:
	default:
		logger.InfoKV(ctx, "Not triggered, ignoring deactivation", "status", m.status.Main())

		return nil
	}

	if !domain.VerifyChallenge(m.challenge, m.cfg.DisarmPin, cmd.Pin) {
		m.metrics.WrongCredential()
		logger.WarnKV(ctx, "Deactivation rejected",
			"security_event", "wrong_credential",
			"status", m.status.Main(),
			"challenge_issued", m.challenge != "",
		)

		return domain.ErrWrongCredential
	}

	m.unarm(ctx, cmd.Actor)

	return nil
}

// unarm cancels the countdown, runs the stop commands of an entered profile
// and returns to UNARMED.
func (m *Machine) unarm(ctx context.Context, actor *domain.Actor) {
	previous := m.status.Clone()

	m.timers.Cancel(m.pending)
	m.pending = 0
	m.pendingMatch = nil
	m.challenge = ""

	if previous.Phase != domain.PhaseArming {
		m.runCommands(ctx, m.profile(previous.Mode).Stop)
	}

	m.transition(ctx, domain.Status{
		Phase:     domain.PhaseUnarmed,
		LastActor: actor,
	})
}

func (m *Machine) handleSensor(ctx context.Context, msg bus.Message) {
	switch m.status.Phase {
	case domain.PhaseArmed:
	case domain.PhaseTriggeredPending, domain.PhaseTriggered:
		if match, ok := m.evaluator.Evaluate(m.status.Mode, msg.Topic, msg.Payload); ok {
			logger.InfoKV(ctx, "Additional trigger event",
				"status", m.status.Main(),
				"topic", match.Topic,
				"text", match.Text,
			)
		}

		return
	default:
		return
	}

	match, ok := m.evaluator.Evaluate(m.status.Mode, msg.Topic, msg.Payload)
	if !ok {
		return
	}

	m.metrics.TriggerFired(m.status.Mode.String())
	logger.WarnKV(ctx, "Trigger fired",
		"mode", m.status.Mode.String(),
		"rule", match.Rule.Index,
		"topic", match.Topic,
		"text", match.Text,
	)

	if m.cfg.TriggeredCountdown == 0 {
		m.activate(ctx, match)

		return
	}

	m.pendingMatch = match
	m.pending = m.timers.Schedule(m.cfg.TriggeredCountdown, m.onExpire)
	m.transition(ctx, domain.Status{
		Phase:     domain.PhaseTriggeredPending,
		Mode:      m.status.Mode,
		Countdown: m.cfg.TriggeredCountdown,
	})
}

func (m *Machine) handleTick(ctx context.Context, h timer.Handle, remaining int) {
	if h == 0 || h != m.pending {
		return
	}

	m.status.Countdown = remaining
	m.status.Timestamp = m.now()
	m.publish(ctx)
}

// handleExpiry performs the pending transition at most once per handle.
func (m *Machine) handleExpiry(ctx context.Context, h timer.Handle) {
	if h == 0 || h != m.pending {
		logger.DebugKV(ctx, "Ignoring stale countdown expiry", "handle", h)

		return
	}

	m.pending = 0

	switch m.status.Phase {
	case domain.PhaseArming:
		m.enterArmed(ctx, m.status.Mode, nil)
	case domain.PhaseTriggeredPending:
		match := m.pendingMatch
		m.pendingMatch = nil

		if match != nil {
			m.activate(ctx, match)
		}
	default:
	}
}

func (m *Machine) enterArmed(ctx context.Context, mode domain.Mode, actor *domain.Actor) {
	m.runCommands(ctx, m.profile(mode).Start)
	m.transition(ctx, domain.Status{
		Phase:     domain.PhaseArmed,
		Mode:      mode,
		LastActor: actor,
	})
}

// activate enters TRIGGERED and dispatches the rule's notifications off the loop.
func (m *Machine) activate(ctx context.Context, match *trigger.Match) {
	m.transition(ctx, domain.Status{
		Phase: domain.PhaseTriggered,
		Mode:  m.status.Mode,
	})

	rule := match.Rule

	m.notifications.Add(1)

	go func() {
		defer m.notifications.Done()

		// In-flight dispatches are never cancelled.
		dispatchCtx := context.WithoutCancel(ctx)
		if err := m.notifier.Dispatch(dispatchCtx, rule.Notify, match.Topic, match.Text); err != nil {
			logger.ErrorKV(dispatchCtx, "Notification dispatch incomplete", "rule", rule.Index, "error", err)
		}
	}()
}

// transition replaces the status, publishes it and persists it.
func (m *Machine) transition(ctx context.Context, next domain.Status) {
	previous := m.status.Main()

	if next.LastActor == nil {
		next.LastActor = m.status.LastActor
	}

	next.Timestamp = m.now()
	next.ChallengePin = m.challenge
	m.status = &next

	m.metrics.Transition(previous, next.Main())
	logger.InfoKV(ctx, "Alarm status changed",
		"from", previous,
		"to", next.Main(),
		"countdown", next.Countdown,
		"actor", next.LastActor.String(),
	)

	m.publish(ctx)
	m.persist(ctx)
}

func (m *Machine) publish(ctx context.Context) {
	m.snapshot.Store(m.status.Clone())
	m.metrics.Countdown(m.status.Countdown)

	payload, err := domain.EncodeStatus(m.status)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to encode status", "error", err)

		return
	}

	if err = m.publisher.Publish(ctx, m.cfg.Bus.PublishTopic, payload); err != nil {
		logger.ErrorKV(ctx, "Failed to publish status", "topic", m.cfg.Bus.PublishTopic, "error", err)
	}
}

func (m *Machine) persist(ctx context.Context) {
	if m.repository == nil {
		return
	}

	if err := m.repository.Save(ctx, m.status); err != nil {
		logger.ErrorKV(ctx, "Failed to persist alarm status", "error", err)
	}
}

// restore applies the persisted status, or the configured initial status when
// nothing was persisted. Armed and triggered profiles come back as ARMED;
// anything else, including a failed load, stays UNARMED. It reports whether a
// transition was made.
func (m *Machine) restore(ctx context.Context) bool {
	if m.status.Phase != domain.PhaseUnarmed {
		logger.InfoKV(ctx, "Status changed before connect, skipping restore", "status", m.status.Main())

		return false
	}

	saved := m.savedStatus(ctx)
	if saved == nil {
		return false
	}

	switch saved.Phase {
	case domain.PhaseArmed, domain.PhaseTriggeredPending, domain.PhaseTriggered:
	default:
		return false
	}

	if saved.Mode == domain.ModeNone {
		return false
	}

	logger.InfoKV(ctx, "Restoring saved status", "status", saved.Main(), "mode", saved.Mode.String())
	m.enterArmed(ctx, saved.Mode, saved.LastActor)

	return true
}

// savedStatus loads the persisted status, falling back to the configured
// initial status when nothing was persisted. A failed load yields nil.
func (m *Machine) savedStatus(ctx context.Context) *domain.Status {
	if m.repository != nil {
		saved, err := m.repository.Load(ctx)

		switch {
		case err == nil:
			return saved
		case errors.Is(err, repo.ErrNotFound):
		default:
			logger.ErrorKV(ctx, "Failed to load persisted status, starting unarmed", "error", err)

			return nil
		}
	}

	initial, ok := m.cfg.Initial()
	if !ok {
		return nil
	}

	return initial
}

func (m *Machine) runCommands(ctx context.Context, commands []config.Command) {
	if len(commands) == 0 {
		return
	}

	if err := m.commands.RunCommands(ctx, commands); err != nil {
		logger.WarnKV(ctx, "Some commands failed", "error", err)
	}
}

func (m *Machine) profile(mode domain.Mode) *config.ModeConfig {
	if mode == domain.ModeAway {
		return &m.cfg.ArmedAway
	}

	return &m.cfg.ArmedHome
}
