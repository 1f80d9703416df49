package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ChannelKind is a notification channel.
type ChannelKind string

const (
	// ChannelSMS sends a text message to phone numbers.
	ChannelSMS ChannelKind = "sms"
	// ChannelPhoneCall places alert calls to phone numbers.
	ChannelPhoneCall ChannelKind = "phonecall"
	// ChannelIM sends an instant message to accounts.
	ChannelIM ChannelKind = "im"
	// ChannelEmail sends an e-mail.
	ChannelEmail ChannelKind = "email"
)

// Email is the structured payload of the e-mail channel.
type Email struct {
	// From is the sender address.
	From string `yaml:"from"`
	// To lists the recipient addresses.
	To []string `yaml:"to"`
	// Subject is the e-mail subject.
	Subject string `yaml:"subject"`
}

// Channel is one configured notification target.
// Recipients is used by sms, phonecall and im; Email only by email.
type Channel struct {
	// Kind selects the channel.
	Kind ChannelKind
	// Recipients lists phone numbers or accounts.
	Recipients []string
	// Email is set for the email channel.
	Email *Email
}

// Notify is the ordered list of channels of a trigger rule.
type Notify struct {
	// Channels keeps the configured order.
	Channels []Channel
}

var (
	// errNotifyNotMapping is returned when notify is not a mapping.
	errNotifyNotMapping = errors.New("notify must be a mapping of channel to recipients")
	// errUnknownChannel is returned for channel names outside the closed set.
	errUnknownChannel = errors.New("unknown notification channel")
)

// UnmarshalYAML resolves the channel map into typed channels, keeping key order.
func (n *Notify) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}

	if node.Kind != yaml.MappingNode {
		return errNotifyNotMapping
	}

	channels := make([]Channel, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		kind := ChannelKind(key.Value)

		channel := Channel{Kind: kind}

		switch kind {
		case ChannelSMS, ChannelPhoneCall, ChannelIM:
			if err := value.Decode(&channel.Recipients); err != nil {
				return fmt.Errorf("notify.%s: %w", kind, err)
			}
		case ChannelEmail:
			channel.Email = new(Email)
			if err := value.Decode(channel.Email); err != nil {
				return fmt.Errorf("notify.%s: %w", kind, err)
			}
		default:
			return fmt.Errorf("%w: %q", errUnknownChannel, key.Value)
		}

		channels = append(channels, channel)
	}

	n.Channels = channels

	return nil
}

// MarshalYAML renders the channels back into the configuration map form.
func (n Notify) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for _, channel := range n.Channels {
		var value any = channel.Recipients
		if channel.Kind == ChannelEmail {
			value = channel.Email
		}

		valueNode := new(yaml.Node)
		if err := valueNode.Encode(value); err != nil {
			return nil, err
		}

		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: string(channel.Kind)},
			valueNode,
		)
	}

	return node, nil
}

// IsZero lets omitempty drop rules without channels.
func (n Notify) IsZero() bool {
	return len(n.Channels) == 0
}
