package hubwire

import (
	"sync"
	"sync/atomic"
	"time"
)

// watchdog declares the connection dead when no inbound frame has been
// observed for a whole interval. It polls a shared timestamp from its
// own goroutine; the receive loop only ever stamps it.
type watchdog struct {
	interval time.Duration
	last     atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	expired  func(cause error)
}

func newWatchdog(interval time.Duration, expired func(error)) *watchdog {
	w := &watchdog{
		interval: interval,
		stop:     make(chan struct{}),
		expired:  expired,
	}
	w.last.Store(time.Now().UnixNano())
	return w
}

// reset stamps the last-activity clock. Called for every successfully
// read inbound frame, whatever its kind.
func (w *watchdog) reset() {
	w.last.Store(time.Now().UnixNano())
}

// halt stops the watchdog without firing. Safe to call more than once
// and after expiry.
func (w *watchdog) halt() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// run polls at a quarter of the interval until the clock goes stale or
// halt is called. The expiry callback is responsible for checking that
// teardown has not already begun.
func (w *watchdog) run() {
	tick := w.interval / 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, w.last.Load())
			if time.Since(last) > w.interval {
				w.expired(&TimeoutError{Interval: w.interval})
				return
			}
		}
	}
}
