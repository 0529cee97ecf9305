package hubwire

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/hubwire/hubwire/protocol"
)

// DefaultServerTimeout is how long the engine tolerates inbound
// silence before declaring the connection dead.
const DefaultServerTimeout = 30 * time.Second

// ErrInvalidCfg wraps option validation failures from New.
var ErrInvalidCfg = errors.New("hubwire: invalid options")

type config struct {
	codec         protocol.Codec
	logHandler    slog.Handler
	serverTimeout time.Duration
	metricLabels  []metrics.Label
}

// Option to pass to New.
type Option func(*config) error

// WithCodec swaps the wire codec. The default is protocol.JSONCodec.
func WithCodec(codec protocol.Codec) Option {
	return func(c *config) error {
		if codec == nil {
			return errors.New("nil codec")
		}
		c.codec = codec
		return nil
	}
}

// WithLog specifies which slog.Handler to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithServerTimeout sets the liveness watchdog interval. A zero or
// negative duration disables the watchdog entirely.
func WithServerTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.serverTimeout = d
		return nil
	}
}

// WithMetricLabels adds static labels to every metric the connection
// emits.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}
