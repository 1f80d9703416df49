// Package alarm implements the gRPC control API of the alarm controller.
//
// The AlarmService descriptor is declared by hand over google.protobuf.Empty
// and google.protobuf.Struct. Status documents carry main, countdown, mode,
// timestamp and lastActor; command documents carry command, pin, hostname
// and username.
package alarm
