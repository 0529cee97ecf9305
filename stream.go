package hubwire

import (
	"io"

	"github.com/hubwire/hubwire/protocol"
)

// resultStreamBuffer bounds how far the receive loop may run ahead of
// a slow ResultStream consumer before it blocks.
const resultStreamBuffer = 16

// ResultStream delivers the items of a streamed-result invocation in
// server order. It ends with io.EOF after a clean completion, or with
// the terminal error otherwise (a ServerError, or the connection's
// teardown cause).
type ResultStream struct {
	codec protocol.Codec
	items chan []byte
	done  chan struct{}
	err   error
}

func newResultStream(codec protocol.Codec) *ResultStream {
	return &ResultStream{
		codec: codec,
		items: make(chan []byte, resultStreamBuffer),
		done:  make(chan struct{}),
	}
}

// Recv decodes the next item into the given value. into may be nil to
// skip an item.
func (s *ResultStream) Recv(into any) error {
	// prefer buffered items over a terminal outcome that raced them
	select {
	case item := <-s.items:
		return s.decode(item, into)
	default:
	}

	select {
	case item := <-s.items:
		return s.decode(item, into)
	case <-s.done:
		select {
		case item := <-s.items:
			return s.decode(item, into)
		default:
		}
		if s.err != nil {
			return s.err
		}
		return io.EOF
	}
}

func (s *ResultStream) decode(item []byte, into any) error {
	if err := s.codec.DecodePayload(item, into); err != nil {
		return serializationErr("decode stream item", err)
	}
	return nil
}

// push is called by the receive loop. It blocks a full buffer against
// the consumer, but a terminal outcome always unblocks it.
func (s *ResultStream) push(item []byte) {
	select {
	case <-s.done:
	case s.items <- item:
	}
}

// finish records the terminal outcome. Called at most once, guarded by
// the owning call's resolution.
func (s *ResultStream) finish(err error) {
	s.err = err
	close(s.done)
}
