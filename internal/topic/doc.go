// Package topic implements MQTT-style subscription pattern matching.
//
// Topics and patterns are '/'-separated levels; '+' matches a single level and
// a trailing '#' matches the rest of the topic.
package topic
