package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mqtt-alarm/internal/bus"
	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	repository "github.com/oshokin/mqtt-alarm/internal/repository/state"
	"github.com/oshokin/mqtt-alarm/internal/service/notify"
	"github.com/oshokin/mqtt-alarm/internal/trigger"
)

const (
	controlTopic  = "home/alarm/set"
	statusTopic   = "home/alarm/state"
	notifierTopic = "notifier/send"
	pin           = "1234"
	challenge     = "9270"
	// answer solves challenge for pin.
	answer = "0404"
)

func testConfig(t *testing.T, armingCountdown, triggeredCountdown int) *config.Config {
	t.Helper()

	sms := config.Channel{Kind: config.ChannelSMS, Recipients: []string{"+100"}}
	email := config.Channel{Kind: config.ChannelEmail, Email: &config.Email{
		From:    "alarm@home",
		To:      []string{"owner@home"},
		Subject: "Alarm",
	}}

	cfg := &config.Config{
		ArmingCountdown:    armingCountdown,
		TriggeredCountdown: triggeredCountdown,
		DisarmPin:          pin,
		ClientID:           "test-alarm",
		Bus: config.Bus{
			Address:        "localhost",
			Port:           1883,
			SubscribeTopic: controlTopic,
			PublishTopic:   statusTopic,
		},
		Notification: config.Notification{
			NotifierTopic:   notifierTopic,
			MessageTemplate: "{device_name}: {text}",
		},
		ArmedHome: config.ModeConfig{
			Start: []config.Command{{Topic: "home/light/set", Payload: "ON"}},
			Stop:  []config.Command{{Topic: "home/light/set", Payload: "OFF"}},
			Triggers: []config.Trigger{{
				Topics: []string{"house/1/+/door"},
				Regex:  "OPEN",
				Notify: config.Notify{Channels: []config.Channel{sms}},
			}},
		},
		ArmedAway: config.ModeConfig{
			Start: []config.Command{
				{Topic: "away/camera/set", Payload: "ON"},
				{Topic: "away/siren/arm", Payload: "ON"},
			},
			Stop: []config.Command{{Topic: "away/camera/set", Payload: "OFF"}},
			Triggers: []config.Trigger{
				{
					Topics: []string{"house/+/+/+"},
					Regex:  "^CLOSED$",
					Notify: config.Notify{Channels: []config.Channel{sms}},
				},
				{
					Topics: []string{"house/+/+/+"},
					Regex:  "OPEN|MOTION",
					Notify: config.Notify{Channels: []config.Channel{sms, email}},
				},
			},
		},
	}

	require.NoError(t, config.Validate(cfg))

	return cfg
}

// memoryRepository is an in-memory Repository.
type memoryRepository struct {
	// mu protects the fields below.
	mu sync.Mutex
	// saved is returned by Load.
	saved *domain.Status
	// loadErr is returned by Load when set.
	loadErr error
	// saves counts Save calls.
	saves int
}

func (r *memoryRepository) Load(context.Context) (*domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadErr != nil {
		return nil, r.loadErr
	}

	if r.saved == nil {
		return nil, repository.ErrNotFound
	}

	return r.saved.Clone(), nil
}

func (r *memoryRepository) Save(_ context.Context, status *domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = status.Clone()
	r.saves++

	return nil
}

func (r *memoryRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saves
}

func (r *memoryRepository) last() *domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saved.Clone()
}

// harness runs a machine against the in-memory bus.
type harness struct {
	// t reports failures.
	t *testing.T
	// bus is the in-memory broker.
	bus *bus.Memory
	// machine is under test.
	machine *Machine
	// cancel stops the machine.
	cancel context.CancelFunc
	// done receives the Run result.
	done chan error
}

func startHarness(t *testing.T, cfg *config.Config, repo repository.Repository) *harness {
	t.Helper()

	ctx := context.Background()

	b := bus.NewMemory(bus.Options{})
	require.NoError(t, b.Connect(ctx))

	evaluator, err := trigger.NewEvaluator(cfg)
	require.NoError(t, err)

	fixedChallenge := func() (string, error) {
		return challenge, nil
	}

	m := NewMachine(cfg, Deps{
		Publisher:  b,
		Evaluator:  evaluator,
		Repository: repo,
		Challenge:  fixedChallenge,
	})

	for _, pattern := range append([]string{controlTopic}, evaluator.Topics()...) {
		require.NoError(t, b.Subscribe(ctx, pattern, m.HandleMessage))
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &harness{
		t:       t,
		bus:     b,
		machine: m,
		cancel:  cancel,
		done:    make(chan error, 1),
	}

	go func() {
		h.done <- m.Run(runCtx)
	}()

	synctest.Wait()

	return h
}

func (h *harness) stop() {
	h.cancel()
	require.NoError(h.t, <-h.done)
}

// connect announces the bus connection the way the controller does.
func (h *harness) connect() {
	h.machine.Announce()
	synctest.Wait()
}

func (h *harness) send(topic, payload string) {
	require.NoError(h.t, h.bus.Publish(context.Background(), topic, []byte(payload)))
	synctest.Wait()
}

func (h *harness) statuses() []domain.StatusMessage {
	var result []domain.StatusMessage

	for _, payload := range h.bus.PublishedTo(statusTopic) {
		var msg domain.StatusMessage

		require.NoError(h.t, json.Unmarshal(payload, &msg))
		result = append(result, msg)
	}

	return result
}

func (h *harness) payloads(topic string) []string {
	var result []string

	for _, payload := range h.bus.PublishedTo(topic) {
		result = append(result, string(payload))
	}

	return result
}

func status(main string, countdown int, mode string) domain.StatusMessage {
	return domain.StatusMessage{Main: main, Countdown: countdown, Mode: mode}
}

// TestMachine_DisarmCancelsArmingCountdown covers the cancelled arming window.
func TestMachine_DisarmCancelsArmingCountdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 5, 0), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")
		require.Equal(t, []domain.StatusMessage{status("ARMING", 5, "AWAY")}, h.statuses())

		time.Sleep(2500 * time.Millisecond)
		synctest.Wait()

		h.send(controlTopic, "DISARM:"+pin)

		time.Sleep(10 * time.Second)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMING", 5, "AWAY"),
			status("ARMING", 4, "AWAY"),
			status("ARMING", 3, "AWAY"),
			status("UNARMED", 0, ""),
		}, h.statuses())

		// Neither start nor stop commands ran.
		require.Empty(t, h.payloads("away/camera/set"))
		require.Equal(t, "UNARMED", h.machine.Status().Main())
	})
}

// TestMachine_ArmingExpiresAndRearmIsIgnored covers ARMING to ARMED and idempotent re-arm.
func TestMachine_ArmingExpiresAndRearmIsIgnored(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 5, 0), nil)
		defer h.stop()

		h.send(controlTopic, " arm_home ")

		time.Sleep(5500 * time.Millisecond)
		synctest.Wait()

		want := []domain.StatusMessage{
			status("ARMING", 5, "HOME"),
			status("ARMING", 4, "HOME"),
			status("ARMING", 3, "HOME"),
			status("ARMING", 2, "HOME"),
			status("ARMING", 1, "HOME"),
			status("ARMED_HOME", 0, "HOME"),
		}
		require.Equal(t, want, h.statuses())
		require.Equal(t, []string{"ON"}, h.payloads("home/light/set"))

		h.send(controlTopic, "ARM_HOME")
		h.send(controlTopic, "ARM_AWAY")

		time.Sleep(10 * time.Second)
		synctest.Wait()

		require.Equal(t, want, h.statuses())
		require.Equal(t, []string{"ON"}, h.payloads("home/light/set"))
		require.Empty(t, h.payloads("away/camera/set"))
	})
}

// TestMachine_WrongPinKeepsCountdown checks a wrong pin changes nothing.
func TestMachine_WrongPinKeepsCountdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 3, 0), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")

		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()

		h.send(controlTopic, "DISARM:0000")
		h.send(controlTopic, `{"command":"DISARM","pin":"9999"}`)

		current, err := h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandDisarm, Pin: "4321"})
		require.ErrorIs(t, err, domain.ErrWrongCredential)
		require.Equal(t, domain.PhaseArming, current.Phase)
		require.Equal(t, 2, current.Countdown)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMING", 3, "AWAY"),
			status("ARMING", 2, "AWAY"),
			status("ARMING", 1, "AWAY"),
			status("ARMED_AWAY", 0, "AWAY"),
		}, h.statuses())

		// A wrong pin while armed leaves the status alone as well.
		h.send(controlTopic, "DISARM:0000")
		require.Len(t, h.statuses(), 4)
		require.Equal(t, "ARMED_AWAY", h.machine.Status().Main())
	})
}

// TestMachine_TriggeredNotifiesEveryChannel covers the direct trigger path.
func TestMachine_TriggeredNotifiesEveryChannel(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 0), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")
		require.Equal(t, []string{"ON"}, h.payloads("away/camera/set"))

		// Rule 1 matches the topic only; rule 2 fires.
		h.send("house/1/kitchen/window", "window OPEN now")

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_AWAY", 0, "AWAY"),
			status("ACTIVATED", 0, "AWAY"),
		}, h.statuses())

		notifications := h.bus.PublishedTo(notifierTopic)
		require.Len(t, notifications, 2)

		var sms notify.Command

		require.NoError(t, json.Unmarshal(notifications[0], &sms))
		require.Equal(t, config.ChannelSMS, sms.Channel)
		require.Equal(t, "window: OPEN", sms.Message)

		var email notify.EmailCommand

		require.NoError(t, json.Unmarshal(notifications[1], &email))
		require.Equal(t, config.ChannelEmail, email.Channel)
		require.Equal(t, "window: OPEN", email.Message)
		require.Equal(t, sms.Incident, email.Incident)

		// Further sensor traffic is only logged.
		h.send("house/1/hall/door", "MOTION")
		require.Len(t, h.statuses(), 2)
		require.Len(t, h.bus.PublishedTo(notifierTopic), 2)

		h.send(controlTopic, "DISARM:"+pin)
		require.Equal(t, status("UNARMED", 0, ""), h.statuses()[2])
		require.Equal(t, []string{"ON", "OFF"}, h.payloads("away/camera/set"))
	})
}

// TestMachine_TriggeredCountdown covers TRIGGERED_PENDING expiry and disarm.
func TestMachine_TriggeredCountdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 3), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_HOME")
		h.send("house/2/hall/door", "OPEN")
		h.send("house/1/hall/door", "CLOSED")
		require.Len(t, h.statuses(), 1)

		h.send("house/1/hall/door", "OPEN")

		time.Sleep(3500 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_HOME", 0, "HOME"),
			status("TRIGGERED", 3, "HOME"),
			status("TRIGGERED", 2, "HOME"),
			status("TRIGGERED", 1, "HOME"),
			status("ACTIVATED", 0, "HOME"),
		}, h.statuses())

		notifications := h.bus.PublishedTo(notifierTopic)
		require.Len(t, notifications, 1)

		var sms notify.Command

		require.NoError(t, json.Unmarshal(notifications[0], &sms))
		require.Equal(t, "door: OPEN", sms.Message)
	})
}

// TestMachine_DisarmDuringTriggeredCountdown cancels the notification path.
func TestMachine_DisarmDuringTriggeredCountdown(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 10), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")
		h.send("house/1/hall/door", "MOTION")

		// Re-arm while pending is ignored.
		h.send(controlTopic, "ARM_HOME")

		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()

		h.send(controlTopic, "DISARM:"+pin)

		time.Sleep(20 * time.Second)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_AWAY", 0, "AWAY"),
			status("TRIGGERED", 10, "AWAY"),
			status("TRIGGERED", 9, "AWAY"),
			status("UNARMED", 0, ""),
		}, h.statuses())
		require.Empty(t, h.bus.PublishedTo(notifierTopic))
		require.Equal(t, []string{"ON", "OFF"}, h.payloads("away/camera/set"))
	})
}

// TestMachine_ExpiryIsIdempotent replays an expiry to simulate a race.
func TestMachine_ExpiryIsIdempotent(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 5, 0), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")

		handle, ok := h.machine.timers.Active()
		require.True(t, ok)

		h.machine.onExpire(handle)
		h.machine.onExpire(handle)
		synctest.Wait()

		// The real countdown fires later and is stale by then.
		time.Sleep(10 * time.Second)
		synctest.Wait()

		h.machine.onTick(handle, 2)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMING", 5, "AWAY"),
			status("ARMED_AWAY", 0, "AWAY"),
		}, h.statuses())
		require.Equal(t, []string{"ON"}, h.payloads("away/camera/set"))
	})
}

// TestMachine_IgnoresNoise covers sensor traffic while unarmed and bad commands.
func TestMachine_IgnoresNoise(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 0), nil)
		defer h.stop()

		h.send("house/1/hall/door", "OPEN")
		h.send(controlTopic, "SELF_DESTRUCT")
		h.send(controlTopic, "DISARM:"+pin)

		_, err := h.machine.Control(context.Background(), domain.Command{})
		require.ErrorIs(t, err, domain.ErrUnrecognizedCommand)

		require.Empty(t, h.statuses())
		require.Equal(t, "UNARMED", h.machine.Status().Main())
	})
}

// TestMachine_ControlAndAnnounce covers the API entry points.
func TestMachine_ControlAndAnnounce(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 0), nil)

		actor := &domain.Actor{Hostname: "hall-panel", Username: "owner"}

		current, err := h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandArmHome, Actor: actor})
		require.NoError(t, err)
		require.Equal(t, "ARMED_HOME", current.Main())
		require.Equal(t, actor, current.LastActor)

		snapshot := h.machine.Status()
		require.Equal(t, current.Main(), snapshot.Main())
		require.Equal(t, actor, snapshot.LastActor)

		h.machine.Announce()
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_HOME", 0, "HOME"),
			status("ARMED_HOME", 0, "HOME"),
		}, h.statuses())

		h.stop()

		_, err = h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandArmAway})
		require.ErrorIs(t, err, ErrStopped)
	})
}

// TestMachine_RestoresPersistedMode covers the optional persistence.
func TestMachine_RestoresPersistedMode(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		repo := &memoryRepository{saved: &domain.Status{Phase: domain.PhaseTriggered, Mode: domain.ModeAway}}
		h := startHarness(t, testConfig(t, 0, 0), repo)
		defer h.stop()

		// Nothing is restored before the bus is up.
		require.Empty(t, h.statuses())
		require.Empty(t, h.payloads("away/camera/set"))

		h.connect()
		require.Equal(t, []domain.StatusMessage{status("ARMED_AWAY", 0, "AWAY")}, h.statuses())
		require.Equal(t, []string{"ON"}, h.payloads("away/camera/set"))

		// Reconnects only republish.
		h.connect()
		require.Len(t, h.statuses(), 2)
		require.Equal(t, []string{"ON"}, h.payloads("away/camera/set"))

		h.send(controlTopic, "DISARM:"+pin)
		require.Equal(t, domain.PhaseUnarmed, repo.last().Phase)
	})
}

// TestMachine_RestoreSkipsArming keeps an interrupted arming unarmed.
func TestMachine_RestoreSkipsArming(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		repo := &memoryRepository{saved: &domain.Status{Phase: domain.PhaseArming, Mode: domain.ModeHome}}
		h := startHarness(t, testConfig(t, 0, 0), repo)
		defer h.stop()

		h.connect()
		require.Equal(t, []domain.StatusMessage{status("UNARMED", 0, "")}, h.statuses())
		require.Equal(t, "UNARMED", h.machine.Status().Main())
		require.Zero(t, repo.saveCount())
	})
}

// TestMachine_RestoreFailureStartsUnarmed fails safe on an unreadable state.
func TestMachine_RestoreFailureStartsUnarmed(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		repo := &memoryRepository{loadErr: errors.New("disk on fire")}
		cfg := testConfig(t, 0, 0)
		cfg.Status = &config.InitialStatus{Main: "ARMED_AWAY"}

		h := startHarness(t, cfg, repo)
		defer h.stop()

		// A failed load does not fall back to the configured status.
		h.connect()
		require.Equal(t, "UNARMED", h.machine.Status().Main())
		require.Empty(t, h.payloads("away/camera/set"))

		h.send(controlTopic, "ARM_HOME")
		require.Equal(t, []domain.StatusMessage{
			status("UNARMED", 0, ""),
			status("ARMED_HOME", 0, "HOME"),
		}, h.statuses())
	})
}

// TestMachine_ConfiguredInitialStatus arms from the config when nothing was persisted.
func TestMachine_ConfiguredInitialStatus(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		cfg := testConfig(t, 0, 0)
		cfg.Status = &config.InitialStatus{Main: "ARMED_AWAY"}

		repo := new(memoryRepository)
		h := startHarness(t, cfg, repo)
		defer h.stop()

		h.connect()
		require.Equal(t, []domain.StatusMessage{status("ARMED_AWAY", 0, "AWAY")}, h.statuses())
		require.Equal(t, []string{"ON"}, h.payloads("away/camera/set"))
		require.Equal(t, domain.PhaseArmed, repo.last().Phase)
	})
}

// TestMachine_RestoreAfterEarlyCommand keeps a status set before the first connect.
func TestMachine_RestoreAfterEarlyCommand(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		repo := &memoryRepository{saved: &domain.Status{Phase: domain.PhaseArmed, Mode: domain.ModeAway}}
		h := startHarness(t, testConfig(t, 0, 0), repo)
		defer h.stop()

		h.send(controlTopic, "ARM_HOME")
		h.connect()

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_HOME", 0, "HOME"),
			status("ARMED_HOME", 0, "HOME"),
		}, h.statuses())
		require.Empty(t, h.payloads("away/camera/set"))
	})
}

// TestMachine_WrongPinWhileTriggered keeps the triggered countdown and ACTIVATED.
func TestMachine_WrongPinWhileTriggered(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 3), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_HOME")
		h.send("house/1/hall/door", "OPEN")

		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()

		h.send(controlTopic, "DISARM:0000")

		current, err := h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandDisarm, Pin: "4321"})
		require.ErrorIs(t, err, domain.ErrWrongCredential)
		require.Equal(t, domain.PhaseTriggeredPending, current.Phase)
		require.Equal(t, 2, current.Countdown)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_HOME", 0, "HOME"),
			status("TRIGGERED", 3, "HOME"),
			status("TRIGGERED", 2, "HOME"),
			status("TRIGGERED", 1, "HOME"),
			status("ACTIVATED", 0, "HOME"),
		}, h.statuses())
		require.Len(t, h.bus.PublishedTo(notifierTopic), 1)

		h.send(controlTopic, `{"command":"DISARM","pin":"9999"}`)

		current, err = h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandDisarm, Pin: "0000"})
		require.ErrorIs(t, err, domain.ErrWrongCredential)
		require.Equal(t, domain.PhaseTriggered, current.Phase)

		require.Len(t, h.statuses(), 5)
		require.Len(t, h.bus.PublishedTo(notifierTopic), 1)
		require.Equal(t, []string{"ON"}, h.payloads("home/light/set"))
	})
}

// TestMachine_ChallengeDeactivation covers the challenge-response disarm.
func TestMachine_ChallengeDeactivation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 10), nil)
		defer h.stop()

		deactivate := domain.Command{Kind: domain.CommandDeactivate, Pin: answer}

		// Not triggered yet, nothing to deactivate.
		h.send(controlTopic, "ARM_AWAY")

		current, err := h.machine.Control(context.Background(), deactivate)
		require.NoError(t, err)
		require.Equal(t, domain.PhaseArmed, current.Phase)

		h.send("house/1/hall/door", "MOTION")

		// No challenge issued yet.
		_, err = h.machine.Control(context.Background(), deactivate)
		require.ErrorIs(t, err, domain.ErrWrongCredential)

		h.send(controlTopic, "DEACTIVATE_REQUEST")

		withChallenge := status("TRIGGERED", 10, "AWAY")
		withChallenge.ChallengePin = challenge

		require.Equal(t, []domain.StatusMessage{
			status("ARMED_AWAY", 0, "AWAY"),
			status("TRIGGERED", 10, "AWAY"),
			withChallenge,
		}, h.statuses())
		require.Equal(t, challenge, h.machine.Status().ChallengePin)

		// The static pin is not an answer.
		h.send(controlTopic, `{"command":"DEACTIVATE","pin":"`+pin+`"}`)
		h.send(controlTopic, "DEACTIVATE:0405")
		require.Len(t, h.statuses(), 3)

		h.send(controlTopic, "DEACTIVATE:"+answer)

		time.Sleep(20 * time.Second)
		synctest.Wait()

		require.Equal(t, status("UNARMED", 0, ""), h.statuses()[3])
		require.Len(t, h.statuses(), 4)
		require.Empty(t, h.bus.PublishedTo(notifierTopic))
		require.Equal(t, []string{"ON", "OFF"}, h.payloads("away/camera/set"))
		require.Empty(t, h.machine.Status().ChallengePin)

		// Unarmed, no challenge is issued.
		h.send(controlTopic, "DEACTIVATE_REQUEST")
		require.Len(t, h.statuses(), 4)
	})
}

// TestMachine_ChallengeSurvivesActivation answers a challenge after ACTIVATED.
func TestMachine_ChallengeSurvivesActivation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := startHarness(t, testConfig(t, 0, 2), nil)
		defer h.stop()

		h.send(controlTopic, "ARM_AWAY")
		h.send("house/1/hall/door", "OPEN")
		h.send(controlTopic, "DEACTIVATE_REQUEST")

		time.Sleep(2500 * time.Millisecond)
		synctest.Wait()

		activated := h.statuses()[len(h.statuses())-1]
		require.Equal(t, "ACTIVATED", activated.Main)
		require.Equal(t, challenge, activated.ChallengePin)

		_, err := h.machine.Control(context.Background(), domain.Command{Kind: domain.CommandDeactivate, Pin: answer})
		require.NoError(t, err)
		require.Equal(t, "UNARMED", h.machine.Status().Main())
		require.Equal(t, []string{"ON", "OFF"}, h.payloads("away/camera/set"))
	})
}
