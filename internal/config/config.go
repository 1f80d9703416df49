package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/topic"
)

// Config is the alarm definition loaded once at startup.
//
// Key names follow the original JSON configuration, so an existing alarm.conf
// (JSON is valid YAML) loads as is.
type Config struct {
	// ArmingCountdown is the delay in seconds between an arm command and ARMED.
	ArmingCountdown int `yaml:"armingCountdown"`
	// TriggeredCountdown is the delay in seconds between a trigger and ACTIVATED.
	TriggeredCountdown int `yaml:"triggeredCountdown"`
	// DisarmPin is the static disarm credential.
	DisarmPin string `yaml:"disarmPin"`
	// ClientID identifies the controller on the bus.
	ClientID string `yaml:"mqttId"`
	// Bus holds the message bus connection parameters.
	Bus Bus `yaml:"mqttParams"`
	// Notification holds the notification fan-out settings.
	Notification Notification `yaml:"notification"`
	// ArmedHome is the HOME profile.
	ArmedHome ModeConfig `yaml:"armedHome"`
	// ArmedAway is the AWAY profile.
	ArmedAway ModeConfig `yaml:"armedAway"`
	// GRPCListen is the listen address of the control API, empty disables it.
	GRPCListen string `yaml:"grpcListen,omitempty"`
	// HTTPListen is the listen address of the status/metrics endpoint, empty disables it.
	HTTPListen string `yaml:"httpListen,omitempty"`
	// StateFile enables last-mode persistence when set.
	StateFile string `yaml:"stateFile,omitempty"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"logLevel,omitempty"`
	// LogFormat is the log encoding (console, json).
	LogFormat string `yaml:"logFormat,omitempty"`
	// QueueSize is the capacity of the controller event queue.
	QueueSize int `yaml:"queueSize,omitempty"`
	// Status is the status assumed on first start when nothing was persisted.
	Status *InitialStatus `yaml:"status,omitempty"`
}

// InitialStatus mirrors the status message layout.
type InitialStatus struct {
	// Main is the wire status name, e.g. ARMED_AWAY.
	Main string `yaml:"main"`
	// Countdown is accepted for compatibility and ignored.
	Countdown int `yaml:"countdown,omitempty"`
}

// Port is a TCP port. A quoted number is accepted too.
type Port int

// UnmarshalYAML accepts both 1883 and "1883".
func (p *Port) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: port must be a number", errOutOfRange)
	}

	value, err := strconv.Atoi(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("port %q: %w", node.Value, err)
	}

	*p = Port(value)

	return nil
}

// Bus describes how to reach the message bus.
type Bus struct {
	// Kind selects the transport: mqtt (default) or nats.
	Kind string `yaml:"kind,omitempty"`
	// Address is the broker host name or IP.
	Address string `yaml:"address"`
	// Port is the broker TCP port.
	Port Port `yaml:"port"`
	// Username is the optional broker user.
	Username string `yaml:"username,omitempty"`
	// Password is the optional broker password.
	Password string `yaml:"password,omitempty"`
	// SubscribeTopic is the control topic pattern.
	SubscribeTopic string `yaml:"subscribeTopic"`
	// PublishTopic receives status messages.
	PublishTopic string `yaml:"publishTopic"`
	// QoS is the MQTT quality of service used for subscriptions and publishes.
	QoS *int `yaml:"qos,omitempty"`
	// Retain marks published messages as retained.
	Retain *bool `yaml:"retain,omitempty"`
}

// Notification holds the settings shared by every trigger rule.
type Notification struct {
	// NotifierTopic receives one command per notification channel.
	NotifierTopic string `yaml:"notifierMqttPublish"`
	// MessageTemplate supports {device_name} and {text} placeholders.
	MessageTemplate string `yaml:"messageTemplate"`
	// TranslationURL is the prefix of the translation GET request, empty disables translation.
	TranslationURL string `yaml:"translationUrl,omitempty"`
	// TranslationTimeout bounds a single translation request.
	TranslationTimeout time.Duration `yaml:"translationTimeout,omitempty"`
	// DeviceNameSegment is the zero-based topic level holding the device name.
	DeviceNameSegment *int `yaml:"deviceNameSegment,omitempty"`
}

// ModeConfig is one armed profile.
type ModeConfig struct {
	// Start commands are published when the profile becomes ARMED.
	Start []Command `yaml:"start"`
	// Stop commands are published when the profile is left.
	Stop []Command `yaml:"stop"`
	// Triggers are evaluated in order while ARMED.
	Triggers []Trigger `yaml:"triggers"`
}

// Command is a topic/payload pair published to a device.
type Command struct {
	// Topic is where the payload is published.
	Topic string `yaml:"topic"`
	// Payload is published verbatim.
	Payload string `yaml:"command"`
}

// Trigger is a topic-pattern + content-regex rule.
type Trigger struct {
	// Topics are the subscription patterns the rule listens to.
	Topics []string `yaml:"topics"`
	// Regex is matched against the payload.
	Regex string `yaml:"regex"`
	// Notify lists the channels notified when the rule fires.
	Notify Notify `yaml:"notify,omitempty"`

	// compiled is Regex compiled during validation.
	compiled *regexp.Regexp
}

// Pattern returns the compiled payload regex, compiling it on first use.
func (t *Trigger) Pattern() (*regexp.Regexp, error) {
	if t.compiled != nil {
		return t.compiled, nil
	}

	compiled, err := regexp.Compile(t.Regex)
	if err != nil {
		return nil, err
	}

	t.compiled = compiled

	return compiled, nil
}

const (
	// DefaultConfigFilename is the default configuration filename.
	DefaultConfigFilename = "alarm.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultTranslationTimeout bounds translation requests.
	DefaultTranslationTimeout = 3 * time.Second

	// DefaultDeviceNameSegment is the topic level of the device name (house/floor/room/device).
	DefaultDeviceNameSegment = 3

	// DefaultQueueSize is the default controller event queue capacity.
	DefaultQueueSize = 256

	// DefaultQoS is the default MQTT quality of service.
	DefaultQoS = 2

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600

	// BusKindMQTT selects the MQTT transport.
	BusKindMQTT = "mqtt"
	// BusKindNATS selects the NATS transport.
	BusKindNATS = "nats"

	maxQoS = 2
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRequired is returned for a missing mandatory field.
	errRequired = errors.New("value is required")
	// errNegative is returned for negative durations.
	errNegative = errors.New("value must not be negative")
	// errOutOfRange is returned for values outside their domain.
	errOutOfRange = errors.New("value is out of range")
)

// Load reads configuration from the provided path and validates it.
// Every returned validation failure is an *Error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, &Error{Field: path, Err: fmt.Errorf("read settings: %w", err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, &Error{Field: path, Err: fmt.Errorf("unmarshal settings: %w", err)}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file holds the disarm pin.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, applies defaults and compiles trigger regexes.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	switch {
	case cfg.ArmingCountdown < 0:
		return &Error{Field: "armingCountdown", Err: errNegative}
	case cfg.TriggeredCountdown < 0:
		return &Error{Field: "triggeredCountdown", Err: errNegative}
	case cfg.DisarmPin == "":
		return &Error{Field: "disarmPin", Err: errRequired}
	}

	if err := validateBus(&cfg.Bus); err != nil {
		return err
	}

	if err := validateNotification(&cfg.Notification); err != nil {
		return err
	}

	if err := validateMode("armedHome", &cfg.ArmedHome); err != nil {
		return err
	}

	if err := validateMode("armedAway", &cfg.ArmedAway); err != nil {
		return err
	}

	if cfg.Status != nil {
		if _, _, ok := domain.ParseMain(cfg.Status.Main); !ok {
			return &Error{Field: "status.main", Err: fmt.Errorf("%w: %q", errOutOfRange, cfg.Status.Main)}
		}
	}

	for field, address := range map[string]string{"grpcListen": cfg.GRPCListen, "httpListen": cfg.HTTPListen} {
		if address == "" {
			continue
		}

		if _, _, err := net.SplitHostPort(address); err != nil {
			return &Error{Field: field, Err: err}
		}
	}

	if cfg.ClientID == "" {
		cfg.ClientID = "mqtt-alarm"
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return nil
}

// Mode returns the profile configuration by name (armedHome/armedAway).
func (c *Config) Mode(name string) (*ModeConfig, bool) {
	switch name {
	case "armedHome":
		return &c.ArmedHome, true
	case "armedAway":
		return &c.ArmedAway, true
	default:
		return nil, false
	}
}

// BrokerAddress returns the host:port of the bus.
func (b *Bus) BrokerAddress() string {
	return net.JoinHostPort(b.Address, strconv.Itoa(int(b.Port)))
}

// Initial returns the configured initial status, if any.
func (c *Config) Initial() (*domain.Status, bool) {
	if c.Status == nil {
		return nil, false
	}

	phase, mode, ok := domain.ParseMain(c.Status.Main)
	if !ok {
		return nil, false
	}

	return &domain.Status{Phase: phase, Mode: mode}, true
}

// QualityOfService returns the configured QoS or the default.
func (b *Bus) QualityOfService() byte {
	if b.QoS == nil {
		return DefaultQoS
	}

	return byte(*b.QoS) //nolint:gosec // Range checked in Validate.
}

// Retained reports whether published messages are retained (default true).
func (b *Bus) Retained() bool {
	return b.Retain == nil || *b.Retain
}

// DeviceSegment returns the configured device name level or the default.
func (n *Notification) DeviceSegment() int {
	if n.DeviceNameSegment == nil {
		return DefaultDeviceNameSegment
	}

	return *n.DeviceNameSegment
}

func validateBus(b *Bus) error {
	switch b.Kind {
	case "":
		b.Kind = BusKindMQTT
	case BusKindMQTT, BusKindNATS:
	default:
		return &Error{Field: "mqttParams.kind", Err: fmt.Errorf("%w: %q", errOutOfRange, b.Kind)}
	}

	switch {
	case b.Address == "":
		return &Error{Field: "mqttParams.address", Err: errRequired}
	case b.Port <= 0 || b.Port > 65535:
		return &Error{Field: "mqttParams.port", Err: fmt.Errorf("%w: %d", errOutOfRange, b.Port)}
	case b.PublishTopic == "":
		return &Error{Field: "mqttParams.publishTopic", Err: errRequired}
	case b.QoS != nil && (*b.QoS < 0 || *b.QoS > maxQoS):
		return &Error{Field: "mqttParams.qos", Err: fmt.Errorf("%w: %d", errOutOfRange, *b.QoS)}
	}

	if err := topic.Valid(b.SubscribeTopic); err != nil {
		return &Error{Field: "mqttParams.subscribeTopic", Err: err}
	}

	return nil
}

func validateNotification(n *Notification) error {
	if n.NotifierTopic == "" {
		return &Error{Field: "notification.notifierMqttPublish", Err: errRequired}
	}

	if n.TranslationTimeout < 0 {
		return &Error{Field: "notification.translationTimeout", Err: errNegative}
	}

	if n.TranslationTimeout == 0 {
		n.TranslationTimeout = DefaultTranslationTimeout
	}

	if n.TranslationURL != "" {
		if _, err := url.ParseRequestURI(n.TranslationURL); err != nil {
			return &Error{Field: "notification.translationUrl", Err: err}
		}
	}

	return nil
}

func validateMode(name string, m *ModeConfig) error {
	for i, cmd := range append(append([]Command(nil), m.Start...), m.Stop...) {
		if cmd.Topic == "" {
			return &Error{Field: fmt.Sprintf("%s command #%d topic", name, i), Err: errRequired}
		}
	}

	for i := range m.Triggers {
		trigger := &m.Triggers[i]
		field := fmt.Sprintf("%s.triggers[%d]", name, i)

		if len(trigger.Topics) == 0 {
			return &Error{Field: field + ".topics", Err: errRequired}
		}

		for _, pattern := range trigger.Topics {
			if err := topic.Valid(pattern); err != nil {
				return &Error{Field: field + ".topics", Err: err}
			}
		}

		if _, err := trigger.Pattern(); err != nil {
			return &Error{Field: field + ".regex", Err: err}
		}
	}

	return nil
}
