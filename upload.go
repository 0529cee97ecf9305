package hubwire

import (
	"context"
	"reflect"
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/hubwire/hubwire/protocol"
)

// uploadCancelled is the error payload of the terminal frame sent for
// a cancelled upload stream.
const uploadCancelled = "stream cancelled by client"

// uploadPump feeds one client→server stream from a caller-owned
// channel. Cancellation is cooperative: the pump observes its context
// between reads and never reads the source again afterwards.
type uploadPump struct {
	id     string
	src    reflect.Value
	ctx    context.Context
	cancel context.CancelFunc
}

// uploadRegistry tracks the active pumps of one connected period.
type uploadRegistry struct {
	mu    sync.Mutex
	pumps map[string]*uploadPump
	wg    sync.WaitGroup
}

func newUploadRegistry() *uploadRegistry {
	return &uploadRegistry{pumps: map[string]*uploadPump{}}
}

func (r *uploadRegistry) add(id string, src reflect.Value) *uploadPump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &uploadPump{id: id, src: src, ctx: ctx, cancel: cancel}
	r.mu.Lock()
	r.pumps[id] = p
	r.mu.Unlock()
	r.wg.Add(1)
	return p
}

func (r *uploadRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.pumps, id)
	r.mu.Unlock()
}

func (r *uploadRegistry) cancel(id string) {
	r.mu.Lock()
	p := r.pumps[id]
	r.mu.Unlock()
	if p != nil {
		p.cancel()
	}
}

func (r *uploadRegistry) cancelAll() {
	r.mu.Lock()
	pumps := make([]*uploadPump, 0, len(r.pumps))
	for _, p := range r.pumps {
		pumps = append(pumps, p)
	}
	r.mu.Unlock()
	for _, p := range pumps {
		p.cancel()
	}
}

// wait blocks until every spawned pump has exited.
func (r *uploadRegistry) wait() {
	r.wg.Wait()
}

// runPump drains the source channel into stream-item frames and sends
// exactly one terminal frame, unless a serialize/send failure kills the
// connection first. When cancellation and source exhaustion race, the
// cancellation wins.
func (l *link) runPump(p *uploadPump) {
	defer l.uploads.wg.Done()
	defer l.uploads.remove(p.id)

	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: p.src},
	}

	for {
		if p.ctx.Err() != nil {
			l.finishUpload(p, uploadCancelled)
			return
		}

		chosen, item, ok := reflect.Select(cases)
		if chosen == 0 {
			l.finishUpload(p, uploadCancelled)
			return
		}
		if !ok {
			// source exhausted; a cancel that became true before the
			// terminal frame still takes precedence
			if p.ctx.Err() != nil {
				l.finishUpload(p, uploadCancelled)
			} else {
				l.finishUpload(p, "")
			}
			return
		}
		// an item and a cancel may become ready together; the cancel
		// wins and the buffered item is discarded
		if p.ctx.Err() != nil {
			l.finishUpload(p, uploadCancelled)
			return
		}

		payload, err := l.codec.EncodePayload(item.Interface())
		if err != nil {
			l.shutdown(serializationErr("encode stream item", err))
			return
		}
		data, err := l.codec.Serialize(&protocol.StreamItem{ID: p.id, Item: payload})
		if err != nil {
			l.shutdown(serializationErr("serialize stream item", err))
			return
		}
		if err := l.write(data); err != nil {
			l.shutdown(err)
			return
		}
		metrics.IncrCounterWithLabels(MetricStreamItemOutCount, 1, l.labels)
	}
}

// finishUpload sends the single terminal frame for the stream. errMsg
// empty means clean exhaustion.
func (l *link) finishUpload(p *uploadPump, errMsg string) {
	if errMsg != "" {
		metrics.IncrCounterWithLabels(MetricStreamCancelCount, 1, l.labels)
	}
	data, err := l.codec.Serialize(&protocol.StreamComplete{ID: p.id, Error: errMsg})
	if err != nil {
		l.shutdown(serializationErr("serialize stream complete", err))
		return
	}
	if err := l.write(data); err != nil {
		l.shutdown(err)
	}
}
