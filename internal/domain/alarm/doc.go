// Package alarm contains core domain types for the alarm business logic.
//
// It defines Mode (HOME/AWAY profiles), Phase (the state machine position),
// Status snapshots with their compact wire form, the control command grammar
// and the runtime error sentinels reported by the controller.
package alarm
