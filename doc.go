// Package hubwire implements the client side of a bidirectional
// remote-invocation protocol carried over a single persistent,
// ordered, message-oriented connection.
//
// A Conn issues named invocations, optionally streams arguments to the
// server incrementally, and correlates each call with exactly one
// completion. A liveness watchdog declares the connection dead after a
// configured interval of inbound silence. The wire codec (package
// protocol) and the transport are both pluggable; a JSON codec and a
// WebSocket transport ship in the box.
//
// The engine never reconnects on its own: when the connection ends,
// every pending call resolves exactly once, the closed notification
// fires, and the caller decides whether to Start again.
package hubwire
