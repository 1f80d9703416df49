// Package notify renders alarm notifications and publishes one notifier
// command per configured channel.
//
// The message template supports {device_name} and {text}. The matched text can
// be passed through an HTTP translation service first; a failed translation
// falls back to the original text.
package notify
