package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "mqtt_alarm"

	// ResultOK labels a successful operation.
	ResultOK = "ok"
	// ResultError labels a failed operation.
	ResultError = "error"

	// KindControl labels control messages.
	KindControl = "control"
	// KindSensor labels sensor messages.
	KindSensor = "sensor"
)

// Metrics holds the alarm collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// messagesReceived counts inbound bus messages by kind.
	messagesReceived *prometheus.CounterVec
	// triggers counts fired trigger rules by mode.
	triggers *prometheus.CounterVec
	// transitions counts status changes.
	transitions *prometheus.CounterVec
	// commandsPublished counts start/stop commands by result.
	commandsPublished *prometheus.CounterVec
	// notifications counts notification commands by channel and result.
	notifications *prometheus.CounterVec
	// translationFailures counts degraded translations.
	translationFailures prometheus.Counter
	// wrongCredentials counts rejected disarm attempts.
	wrongCredentials prometheus.Counter
	// unrecognizedCommands counts ignored control payloads.
	unrecognizedCommands prometheus.Counter
	// countdown is the remaining countdown in seconds.
	countdown prometheus.Gauge
	// status is 1 for the current status name and 0 for the others.
	status *prometheus.GaugeVec
}

// New creates and registers the collectors. A nil registry disables metrics.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Bus messages received by the controller",
		}, []string{"kind"}),

		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger rules that fired",
		}, []string{"mode"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Alarm status transitions",
		}, []string{"from", "to"}),

		commandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_published_total",
			Help:      "Start and stop commands published to devices",
		}, []string{"result"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification commands published",
		}, []string{"channel", "result"}),

		translationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_failures_total",
			Help:      "Translations that fell back to the original text",
		}),

		wrongCredentials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wrong_credentials_total",
			Help:      "Disarm attempts with a wrong pin",
		}),

		unrecognizedCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecognized_commands_total",
			Help:      "Control payloads that could not be parsed",
		}),

		countdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "countdown_seconds",
			Help:      "Remaining seconds of the active countdown",
		}),

		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Current alarm status, 1 for the active status name",
		}, []string{"main"}),
	}

	registry.MustRegister(
		m.messagesReceived,
		m.triggers,
		m.transitions,
		m.commandsPublished,
		m.notifications,
		m.translationFailures,
		m.wrongCredentials,
		m.unrecognizedCommands,
		m.countdown,
		m.status,
	)

	return m
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}

	m.messagesReceived.WithLabelValues(kind).Inc()
}

// TriggerFired counts a fired rule.
func (m *Metrics) TriggerFired(mode string) {
	if m == nil {
		return
	}

	m.triggers.WithLabelValues(mode).Inc()
}

// Transition records a status change and moves the status gauge.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(from, to).Inc()
	m.status.WithLabelValues(from).Set(0)
	m.status.WithLabelValues(to).Set(1)
}

// Countdown sets the countdown gauge.
func (m *Metrics) Countdown(seconds int) {
	if m == nil {
		return
	}

	m.countdown.Set(float64(seconds))
}

// CommandPublished counts a device command.
func (m *Metrics) CommandPublished(err error) {
	if m == nil {
		return
	}

	m.commandsPublished.WithLabelValues(result(err)).Inc()
}

// NotificationPublished counts a notification command.
func (m *Metrics) NotificationPublished(channel string, err error) {
	if m == nil {
		return
	}

	m.notifications.WithLabelValues(channel, result(err)).Inc()
}

// TranslationFailed counts a degraded translation.
func (m *Metrics) TranslationFailed() {
	if m == nil {
		return
	}

	m.translationFailures.Inc()
}

// WrongCredential counts a rejected disarm.
func (m *Metrics) WrongCredential() {
	if m == nil {
		return
	}

	m.wrongCredentials.Inc()
}

// UnrecognizedCommand counts an ignored control payload.
func (m *Metrics) UnrecognizedCommand() {
	if m == nil {
		return
	}

	m.unrecognizedCommands.Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}

	return ResultOK
}
