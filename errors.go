package hubwire

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidState is returned when an operation is attempted in a
	// connection state that does not permit it, such as starting a
	// connection that is not disconnected.
	ErrInvalidState = errors.New("hubwire: operation not valid in the current connection state")

	// ErrStopped resolves invocations that were still pending when the
	// caller stopped the connection cleanly.
	ErrStopped = errors.New("hubwire: connection stopped before the invocation completed")

	// ErrUnexpectedClose is the teardown cause when the transport ends
	// without a prior Close frame or a local stop.
	ErrUnexpectedClose = errors.New("hubwire: transport closed unexpectedly")

	// ErrProtocolViolation prefixes teardown causes for frames the peer
	// was never allowed to send.
	ErrProtocolViolation = errors.New("hubwire: protocol violation")
)

// ServerError reports that the server ran the invocation and it failed
// there. The message is produced by the server and passed through
// verbatim.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "hubwire: server returned an error: " + e.Message
}

// CloseError is the error reported by a server Close frame.
type CloseError struct {
	Reason string
}

func (e *CloseError) Error() string {
	return "hubwire: connection closed by server: " + e.Reason
}

// TimeoutError is the teardown cause when the liveness watchdog sees no
// inbound traffic for the configured interval.
type TimeoutError struct {
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"hubwire: server timeout of %.2fms elapsed without receiving a message from the server",
		float64(e.Interval)/float64(time.Millisecond),
	)
}

// SerializationError wraps a codec failure for a specific argument,
// item or result. It is local to the affected call or stream and never
// tears the connection down by itself.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("hubwire: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func serializationErr(op string, err error) error {
	return &SerializationError{Op: op, Err: err}
}

func protocolViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
