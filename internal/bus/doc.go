// Package bus abstracts the publish/subscribe transport used by the alarm.
//
// The MQTT transport wraps the paho client and relies on a broker-side last
// will to announce UNAVAILABLE. The NATS transport maps MQTT topic syntax to
// subjects. Memory is an in-process implementation used by tests and by the
// integration suite.
package bus
