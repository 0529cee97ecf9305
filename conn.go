package hubwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hubwire/hubwire/protocol"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is a client connection to a remote-invocation server. It is
// safe for concurrent use; any number of goroutines may issue calls
// while the receive loop dispatches completions.
//
// A Conn cycles Disconnected → Connecting → Connected → Disconnecting
// → Disconnected. Restarting after a stop or a failure is the caller's
// job: call Start again, the engine never redials on its own.
//
// See New.
type Conn struct {
	dial   DialFunc
	logger *slog.Logger

	mu       sync.Mutex
	cfg      config
	state    State
	link     *link
	lastErr  error
	onClosed []func(error)
}

// New creates a connection that will dial the server with the given
// DialFunc. The connection starts Disconnected; call Start to connect.
func New(dial DialFunc, opts ...Option) (*Conn, error) {
	if dial == nil {
		return nil, fmt.Errorf("%w: nil dial func", ErrInvalidCfg)
	}
	cfg := config{
		codec:         protocol.JSONCodec{},
		serverTimeout: DefaultServerTimeout,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCfg, err)
		}
	}
	logger := slog.Default()
	if cfg.logHandler != nil {
		logger = slog.New(cfg.logHandler)
	}
	return &Conn{
		dial:   dial,
		cfg:    cfg,
		logger: logger,
		state:  Disconnected,
	}, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of the most recent teardown, or nil after a
// clean stop (or when the connection has never been torn down).
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnClosed registers a callback fired exactly once per connected
// period when the connection ends: with nil after a clean stop, with
// the causing error otherwise.
func (c *Conn) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// SetServerTimeout changes the liveness watchdog interval. It fails
// with ErrInvalidState unless the connection is Disconnected; changing
// the interval mid-connection is rejected rather than half-applied.
func (c *Conn) SetServerTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disconnected {
		return ErrInvalidState
	}
	c.cfg.serverTimeout = d
	return nil
}

// ServerTimeout returns the configured watchdog interval.
func (c *Conn) ServerTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.serverTimeout
}

// Start dials the transport and brings the connection to Connected.
// It fails with ErrInvalidState when the connection is not
// Disconnected; concurrent starts are never queued.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state = Connecting
	cfg := c.cfg
	c.mu.Unlock()

	tr, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		metrics.IncrCounterWithLabels(MetricConnErrorCount, 1, cfg.metricLabels)
		return fmt.Errorf("hubwire: connect: %w", err)
	}

	l := newLink(c, cfg, tr)
	c.mu.Lock()
	c.link = l
	c.lastErr = nil
	c.state = Connected
	c.mu.Unlock()

	if l.watchdog != nil {
		go l.watchdog.run()
	}
	go l.recvLoop()

	c.logger.Debug("hubwire: connected", LabelConnID.L(l.id))
	metrics.IncrCounterWithLabels(MetricConnEstCount, 1, l.labels)
	return nil
}

// Stop shuts the connection down cleanly. Pending invocations resolve
// with ErrStopped and the closed notification fires with nil. Stop is
// a no-op when the connection is not Connected.
func (c *Conn) Stop() error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	l.shutdown(nil)
	return nil
}

// Invoke calls a remote method and blocks until the server completes
// it, the context is done, or the connection ends. A non-nil result
// receives the decoded return value.
//
// Any argument that is a receivable channel is streamed to the server
// item by item instead of being encoded inline. Cancelling ctx cancels
// only those upload streams; the invocation itself stays with the
// server until it answers or the connection closes.
func (c *Conn) Invoke(ctx context.Context, method string, result any, args ...any) error {
	kind := kindVoid
	if result != nil {
		kind = kindValue
	}
	call, l, err := c.issue(ctx, method, kind, args)
	if err != nil {
		return err
	}

	select {
	case <-call.done:
		if call.err != nil {
			return call.err
		}
		if result == nil {
			return nil
		}
		if err := l.codec.DecodePayload(call.result, result); err != nil {
			return serializationErr("decode result", err)
		}
		return nil
	case <-ctx.Done():
		for _, id := range call.streamIDs {
			l.uploads.cancel(id)
		}
		return ctx.Err()
	}
}

// InvokeStream calls a remote method whose result is a server-side
// stream. Items arrive on the returned ResultStream; the stream ends
// with io.EOF when the server completes cleanly. Cancelling ctx
// cancels only the call's upload streams.
func (c *Conn) InvokeStream(ctx context.Context, method string, args ...any) (*ResultStream, error) {
	call, l, err := c.issue(ctx, method, kindStream, args)
	if err != nil {
		return nil, err
	}
	if len(call.streamIDs) > 0 && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				for _, id := range call.streamIDs {
					l.uploads.cancel(id)
				}
			case <-call.done:
			}
		}()
	}
	return call.stream, nil
}

// Send fires a method call without expecting any completion. It
// returns only local failures: invalid state or argument encoding.
// Streaming arguments work the same as for Invoke; their pump errors
// surface through the connection, never through this call.
func (c *Conn) Send(ctx context.Context, method string, args ...any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l, err := c.currentLink()
	if err != nil {
		return err
	}

	payloads, sources, err := l.encodeArgs(args)
	if err != nil {
		return err
	}
	streamIDs := make([]string, 0, len(sources))
	for range sources {
		streamIDs = append(streamIDs, l.newID())
	}

	inv := &protocol.Invocation{Method: method, Args: payloads, StreamIDs: streamIDs}
	data, err := l.codec.Serialize(inv)
	if err != nil {
		return serializationErr("serialize invocation", err)
	}
	if err := l.write(data); err != nil {
		l.shutdown(err)
		return err
	}
	metrics.IncrCounterWithLabels(MetricInvocationOutCount, 1, l.labels)

	l.startUploads(streamIDs, sources)
	return nil
}

func (c *Conn) currentLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.link == nil {
		return nil, ErrInvalidState
	}
	return c.link, nil
}

// issue is the shared correlated-call path: encode arguments, register
// the pending call, send the invocation frame, spawn the pumps.
func (c *Conn) issue(ctx context.Context, method string, kind resultKind, args []any) (*pendingCall, *link, error) {
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	l, err := c.currentLink()
	if err != nil {
		return nil, nil, err
	}

	payloads, sources, err := l.encodeArgs(args)
	if err != nil {
		return nil, nil, err
	}

	call := &pendingCall{
		id:   l.newID(),
		kind: kind,
		done: make(chan struct{}),
	}
	if kind == kindStream {
		call.stream = newResultStream(l.codec)
	}
	for range sources {
		call.streamIDs = append(call.streamIDs, l.newID())
	}

	inv := &protocol.Invocation{
		ID:        call.id,
		Method:    method,
		Args:      payloads,
		StreamIDs: call.streamIDs,
	}
	data, err := l.codec.Serialize(inv)
	if err != nil {
		return nil, nil, serializationErr("serialize invocation", err)
	}

	if err := l.calls.register(call); err != nil {
		return nil, nil, err
	}
	if err := l.write(data); err != nil {
		l.calls.remove(call.id)
		l.shutdown(err)
		return nil, nil, err
	}
	metrics.IncrCounterWithLabels(MetricInvocationOutCount, 1, l.labels)

	l.startUploads(call.streamIDs, sources)
	return call, l, nil
}

// link is the engine of one connected period. Registries, watchdog and
// transport all live and die with it; a new period gets a new link.
type link struct {
	conn   *Conn
	id     string
	tr     Transport
	codec  protocol.Codec
	logger *slog.Logger
	labels []metrics.Label

	nextID   atomic.Uint64
	calls    *callRegistry
	uploads  *uploadRegistry
	watchdog *watchdog

	// writeMu serializes outbound frames from callers and pumps
	writeMu sync.Mutex

	closing atomic.Bool
	done    chan struct{}
}

func newLink(c *Conn, cfg config, tr Transport) *link {
	l := &link{
		conn:    c,
		id:      shortuuid.New(),
		tr:      tr,
		codec:   cfg.codec,
		logger:  c.logger,
		calls:   newCallRegistry(),
		uploads: newUploadRegistry(),
		done:    make(chan struct{}),
	}
	l.labels = append([]metrics.Label{LabelConnID.M(l.id)}, cfg.metricLabels...)
	if cfg.serverTimeout > 0 {
		l.watchdog = newWatchdog(cfg.serverTimeout, l.expire)
	}
	return l
}

func (l *link) newID() string {
	return strconv.FormatUint(l.nextID.Add(1), 10)
}

// expire is the watchdog callback. An explicit stop that already began
// teardown takes precedence over a racing expiry.
func (l *link) expire(cause error) {
	if l.closing.Load() {
		return
	}
	metrics.IncrCounterWithLabels(MetricWatchdogExpiredCount, 1, l.labels)
	l.shutdown(cause)
}

// write sends one already-serialized frame. Any error is
// connection-fatal and the caller must escalate it via shutdown.
func (l *link) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.tr.Send(data)
}

func (l *link) encodeArgs(args []any) ([][]byte, []reflect.Value, error) {
	var payloads [][]byte
	var sources []reflect.Value
	for _, arg := range args {
		v := reflect.ValueOf(arg)
		if v.Kind() == reflect.Chan && v.Type().ChanDir()&reflect.RecvDir != 0 {
			sources = append(sources, v)
			continue
		}
		payload, err := l.codec.EncodePayload(arg)
		if err != nil {
			return nil, nil, serializationErr("encode argument", err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, sources, nil
}

func (l *link) startUploads(ids []string, sources []reflect.Value) {
	for i, src := range sources {
		p := l.uploads.add(ids[i], src)
		go l.runPump(p)
	}
}

// recvLoop is the single ordered consumer of inbound frames for this
// period.
func (l *link) recvLoop() {
	for {
		data, err := l.tr.Receive()
		if err != nil {
			if l.closing.Load() {
				// local teardown already closed the transport
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrUnexpectedClose
			}
			l.shutdown(err)
			return
		}
		if l.watchdog != nil {
			l.watchdog.reset()
		}

		msg, err := l.codec.Parse(data)
		if err != nil {
			l.shutdown(protocolViolation("unparseable frame: %v", err))
			return
		}
		if !l.dispatch(msg) {
			return
		}
	}
}

// dispatch handles one parsed frame; a false return ends the receive
// loop because teardown has begun.
func (l *link) dispatch(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.Completion:
		metrics.IncrCounterWithLabels(MetricCompletionInCount, 1, l.labels)
		call, ok := l.calls.complete(m.ID)
		if !ok {
			// late or duplicate completion, expected after local
			// cancellation or a racing teardown
			l.logger.Debug("hubwire: dropping completion for unknown invocation",
				LabelConnID.L(l.id), LabelStream.L(m.ID))
			metrics.IncrCounterWithLabels(MetricFrameDroppedCount, 1, l.labels)
			return true
		}
		var err error
		if m.Error != "" {
			err = &ServerError{Message: m.Error}
		}
		l.finishCall(call, m.Result, err)
		return true

	case *protocol.StreamItem:
		call, ok := l.calls.lookup(m.ID)
		if !ok {
			l.logger.Debug("hubwire: dropping stream item for unknown invocation",
				LabelConnID.L(l.id), LabelStream.L(m.ID))
			metrics.IncrCounterWithLabels(MetricFrameDroppedCount, 1, l.labels)
			return true
		}
		if call.kind != kindStream {
			l.shutdown(protocolViolation("stream item for non-streaming invocation %s", m.ID))
			return false
		}
		metrics.IncrCounterWithLabels(MetricStreamItemInCount, 1, l.labels)
		call.stream.push(m.Item)
		return true

	case *protocol.Ping:
		// nothing beyond the watchdog reset
		return true

	case *protocol.Close:
		if m.Error != "" {
			l.shutdown(&CloseError{Reason: m.Error})
		} else {
			l.shutdown(nil)
		}
		return false

	default:
		// inbound invocations and stream-complete frames belong to the
		// server→client direction, which this engine does not bind
		l.logger.Debug("hubwire: ignoring unhandled frame",
			LabelConnID.L(l.id), LabelFrame.L(fmt.Sprintf("%T", msg)))
		metrics.IncrCounterWithLabels(MetricFrameDroppedCount, 1, l.labels)
		return true
	}
}

// finishCall resolves a call at most once and forwards the terminal
// outcome to its result stream, if any.
func (l *link) finishCall(call *pendingCall, result []byte, err error) {
	if !call.resolve(result, err) {
		return
	}
	if call.stream != nil {
		call.stream.finish(err)
	}
}

// shutdown runs the teardown sequence exactly once per period. A nil
// cause is a clean, caller-initiated stop; anything else is abnormal
// termination and becomes the outcome of every pending call and of the
// closed notification.
func (l *link) shutdown(cause error) {
	if !l.closing.CompareAndSwap(false, true) {
		return
	}

	c := l.conn
	c.mu.Lock()
	c.state = Disconnecting
	c.mu.Unlock()

	if l.watchdog != nil {
		l.watchdog.halt()
	}
	_ = l.tr.Close()
	l.uploads.cancelAll()

	drainErr := cause
	if drainErr == nil {
		drainErr = ErrStopped
	}
	drained := l.calls.drainAll(cause)
	for _, call := range drained {
		l.finishCall(call, nil, drainErr)
	}
	if len(drained) > 0 {
		metrics.IncrCounterWithLabels(MetricPendingDrainedCount, float32(len(drained)), l.labels)
	}

	c.mu.Lock()
	c.state = Disconnected
	c.link = nil
	c.lastErr = cause
	callbacks := make([]func(error), len(c.onClosed))
	copy(callbacks, c.onClosed)
	c.mu.Unlock()

	close(l.done)

	if cause == nil {
		l.logger.Debug("hubwire: connection stopped", LabelConnID.L(l.id))
	} else {
		l.logger.Warn("hubwire: connection closed",
			LabelConnID.L(l.id), LabelError.L(cause))
		metrics.IncrCounterWithLabels(MetricConnErrorCount, 1, l.labels)
	}
	metrics.IncrCounterWithLabels(MetricConnClosedCount, 1, l.labels)

	for _, fn := range callbacks {
		fn(cause)
	}
}
