package hubwire

import (
	"sync"
	"sync/atomic"
)

type resultKind int

const (
	kindVoid resultKind = iota
	kindValue
	kindStream
)

// pendingCall is one outstanding invocation awaiting exactly one
// resolution. The resolved guard makes resolution a compare-and-set:
// whichever of the receive loop, the caller's send failure path, or
// teardown gets there first wins, everyone else no-ops.
type pendingCall struct {
	id   string
	kind resultKind

	resolved atomic.Bool
	done     chan struct{}
	result   []byte
	err      error

	// stream is set for kindStream calls and receives the terminal
	// outcome when the call resolves.
	stream *ResultStream

	// streamIDs are the upload streams owned by this call, so that
	// cancelling the call can cancel exactly its pumps.
	streamIDs []string
}

// resolve records the outcome and wakes the waiter. It reports whether
// this caller won the race; result and err must not be touched by
// losers.
func (call *pendingCall) resolve(result []byte, err error) bool {
	if !call.resolved.CompareAndSwap(false, true) {
		return false
	}
	call.result = result
	call.err = err
	close(call.done)
	return true
}

// callRegistry maps invocation ids to unresolved calls for one
// connected period. Once drained it refuses registrations, so a call
// racing teardown fails immediately instead of pending forever.
type callRegistry struct {
	mu        sync.Mutex
	closed    bool
	closedErr error
	calls     map[string]*pendingCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: map[string]*pendingCall{}}
}

func (r *callRegistry) register(call *pendingCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.closedErr
	}
	r.calls[call.id] = call
	return nil
}

// complete atomically looks up and removes the entry. A false return
// covers late, duplicate and unknown-id completions, which the caller
// is expected to drop.
func (r *callRegistry) complete(id string) (*pendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
	}
	return call, ok
}

// lookup finds an entry without removing it, for incremental stream
// pushes.
func (r *callRegistry) lookup(id string) (*pendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	return call, ok
}

// remove discards an entry that will never be completed, typically
// because sending its invocation frame failed.
func (r *callRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

// drainAll closes the registry and hands back every entry for the
// caller to resolve outside the lock. cause nil means a clean stop;
// registrations racing the drain fail with the same outcome the
// drained calls get.
func (r *callRegistry) drainAll(cause error) []*pendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if cause != nil {
		r.closedErr = cause
	} else {
		r.closedErr = ErrStopped
	}
	drained := make([]*pendingCall, 0, len(r.calls))
	for _, call := range r.calls {
		drained = append(drained, call)
	}
	r.calls = map[string]*pendingCall{}
	return drained
}
