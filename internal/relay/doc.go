// Package relay implements the bidirectional audio/event relay between a
// transport connection and an upstream Realtime API session, including the
// turn-tracking state machine that handles caller barge-in by truncating the
// in-flight assistant response.
package relay
