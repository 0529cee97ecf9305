package hubwire

import "context"

// Transport is a single persistent, ordered, message-oriented pipe to
// the server. Implementations must allow Send and Receive to be called
// from different goroutines, and Close to be called concurrently with
// both.
type Transport interface {
	// Send transmits one frame. It fails once the transport is closed.
	Send(data []byte) error

	// Receive blocks for the next inbound frame. It returns io.EOF when
	// the peer closed the pipe cleanly and some other error when the
	// pipe broke or was closed locally.
	Receive() ([]byte, error)

	// Close tears the pipe down. Safe to call more than once.
	Close() error
}

// DialFunc opens a transport to the server. The engine calls it once
// per Start; it never redials on its own.
type DialFunc func(ctx context.Context) (Transport, error)
