// Package state implements optional persistence of the settled alarm status.
//
// The FileRepository stores the status as a protojson-encoded
// google.protobuf.Struct and exposes the Repository interface the controller
// depends on.
package state
