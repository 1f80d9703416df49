// Package actuator publishes the start and stop commands of an alarm profile.
package actuator
