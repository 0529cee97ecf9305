package hubwire

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCall(id string, kind resultKind) *pendingCall {
	return &pendingCall{id: id, kind: kind, done: make(chan struct{})}
}

func TestCallResolvesAtMostOnce(t *testing.T) {
	call := newTestCall("1", kindValue)

	require.True(t, call.resolve([]byte("first"), nil))
	require.False(t, call.resolve([]byte("second"), errors.New("late")))

	<-call.done
	require.Equal(t, []byte("first"), call.result)
	require.NoError(t, call.err)
}

func TestRegistryCompleteRemovesAtomically(t *testing.T) {
	r := newCallRegistry()
	call := newTestCall("1", kindValue)
	require.NoError(t, r.register(call))

	got, ok := r.complete("1")
	require.True(t, ok)
	require.Same(t, call, got)

	_, ok = r.complete("1")
	require.False(t, ok)
}

func TestRegistryUnknownIdLookups(t *testing.T) {
	r := newCallRegistry()
	_, ok := r.complete("404")
	require.False(t, ok)
	_, ok = r.lookup("404")
	require.False(t, ok)
}

func TestRegistryDrainClosesRegistrations(t *testing.T) {
	r := newCallRegistry()
	a := newTestCall("1", kindValue)
	b := newTestCall("2", kindVoid)
	require.NoError(t, r.register(a))
	require.NoError(t, r.register(b))

	drained := r.drainAll(nil)
	require.Len(t, drained, 2)

	// a registration racing the drain must fail with the drain outcome
	require.ErrorIs(t, r.register(newTestCall("3", kindValue)), ErrStopped)

	cause := errors.New("wire snapped")
	r2 := newCallRegistry()
	r2.drainAll(cause)
	require.ErrorIs(t, r2.register(newTestCall("1", kindValue)), cause)
}

func TestRegistryConcurrentRegisterAndDrain(t *testing.T) {
	r := newCallRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				call := newTestCall(fmt.Sprintf("%d-%d", n, j), kindValue)
				if err := r.register(call); err != nil {
					call.resolve(nil, err)
				}
			}
		}(i)
	}

	drained := r.drainAll(errors.New("teardown"))
	for _, call := range drained {
		call.resolve(nil, errors.New("teardown"))
	}
	wg.Wait()

	// late registrations failed fast; everything else was drained.
	// nothing may still be pending.
	for _, call := range r.drainAll(errors.New("second drain")) {
		t.Errorf("call %s left pending after drain", call.id)
	}
}
