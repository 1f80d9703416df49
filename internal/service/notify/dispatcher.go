package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/mqtt-alarm/internal/bus"
	"github.com/oshokin/mqtt-alarm/internal/config"
	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/metrics"
	"github.com/oshokin/mqtt-alarm/internal/topic"
)

const (
	// PlaceholderDeviceName is replaced with the device name of the triggering topic.
	PlaceholderDeviceName = "{device_name}"
	// PlaceholderText is replaced with the (translated) matched text.
	PlaceholderText = "{text}"
)

// Command is the notifier payload for sms, phonecall and im.
type Command struct {
	// Channel is the channel name.
	Channel config.ChannelKind `json:"channel"`
	// Incident is shared by every command of one dispatch.
	Incident string `json:"incident"`
	// Recipients lists phone numbers or accounts.
	Recipients []string `json:"recipients"`
	// Message is the rendered text.
	Message string `json:"message"`
}

// EmailCommand is the notifier payload for email.
type EmailCommand struct {
	// Channel is always email.
	Channel config.ChannelKind `json:"channel"`
	// Incident is shared by every command of one dispatch.
	Incident string `json:"incident"`
	// From is the sender address.
	From string `json:"from"`
	// To lists the recipient addresses.
	To []string `json:"to"`
	// Subject is the e-mail subject.
	Subject string `json:"subject"`
	// Message is the rendered text.
	Message string `json:"message"`
}

// Dispatcher renders notification messages and publishes them per channel.
type Dispatcher struct {
	// publisher sends the commands.
	publisher bus.Publisher
	// notifierTopic receives the commands.
	notifierTopic string
	// template is the message template.
	template string
	// segment is the topic level holding the device name.
	segment int
	// translator is optional.
	translator Translator
	// timeout bounds translation.
	timeout time.Duration
	// metrics may be nil.
	metrics *metrics.Metrics
	// newIncident issues incident identifiers.
	newIncident func() string
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithTranslator enables translation of the matched text.
func WithTranslator(t Translator) Option {
	return func(d *Dispatcher) {
		d.translator = t
	}
}

// WithMetrics records notification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher from the notification settings. An HTTP
// translator is installed when a translation URL is configured.
func NewDispatcher(settings config.Notification, publisher bus.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher:     publisher,
		notifierTopic: settings.NotifierTopic,
		template:      settings.MessageTemplate,
		segment:       settings.DeviceSegment(),
		timeout:       settings.TranslationTimeout,
		newIncident:   uuid.NewString,
	}

	if d.timeout <= 0 {
		d.timeout = config.DefaultTranslationTimeout
	}

	if settings.TranslationURL != "" {
		d.translator = NewHTTPTranslator(settings.TranslationURL, d.timeout)
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch publishes one command per configured channel. Translation failures
// degrade to the original text; publish failures are logged and joined.
func (d *Dispatcher) Dispatch(ctx context.Context, notify config.Notify, triggeringTopic, text string) error {
	if notify.IsZero() {
		return nil
	}

	ctx = logger.WithName(ctx, "notify")
	incident := d.newIncident()
	ctx = logger.WithKV(ctx, "incident", incident)

	message := d.Render(DeviceName(triggeringTopic, d.segment), d.translate(ctx, text))

	var errs []error

	for _, channel := range notify.Channels {
		payload, err := encode(channel, incident, message)
		if err == nil {
			err = d.publisher.Publish(ctx, d.notifierTopic, payload)
		}

		d.metrics.NotificationPublished(string(channel.Kind), err)

		if err != nil {
			err = fmt.Errorf("notify %s: %w", channel.Kind, err)
			logger.ErrorKV(ctx, "Failed to publish notification", "channel", channel.Kind, "error", err)

			errs = append(errs, err)

			continue
		}

		logger.InfoKV(ctx, "Notification published", "channel", channel.Kind, "message", message)
	}

	return errors.Join(errs...)
}

// Render substitutes the placeholders of the message template.
func (d *Dispatcher) Render(deviceName, text string) string {
	return strings.NewReplacer(
		PlaceholderDeviceName, deviceName,
		PlaceholderText, text,
	).Replace(d.template)
}

// DeviceName returns the topic level at segment, or the whole topic when the
// level does not exist or is empty.
func DeviceName(triggeringTopic string, segment int) string {
	name, ok := topic.Level(triggeringTopic, segment)
	if !ok || name == "" {
		return triggeringTopic
	}

	return name
}

func (d *Dispatcher) translate(ctx context.Context, text string) string {
	if d.translator == nil {
		return text
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	translation, err := d.translator.Translate(ctx, text)
	if err != nil {
		d.metrics.TranslationFailed()
		logger.WarnKV(ctx, "Translation failed, using original text", "text", text, "error", err)

		return text
	}

	return translation
}

func encode(channel config.Channel, incident, message string) ([]byte, error) {
	if channel.Kind == config.ChannelEmail {
		email := channel.Email
		if email == nil {
			email = new(config.Email)
		}

		return json.Marshal(EmailCommand{
			Channel:  channel.Kind,
			Incident: incident,
			From:     email.From,
			To:       email.To,
			Subject:  email.Subject,
			Message:  message,
		})
	}

	return json.Marshal(Command{
		Channel:    channel.Kind,
		Incident:   incident,
		Recipients: channel.Recipients,
		Message:    message,
	})
}
