package hubwire

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricConnEstCount         = []string{"hubwire", "connection", "established", "count"}
	MetricConnClosedCount      = []string{"hubwire", "connection", "closed", "count"}
	MetricConnErrorCount       = []string{"hubwire", "connection", "error", "count"}
	MetricInvocationOutCount   = []string{"hubwire", "invocation", "out", "count"}
	MetricCompletionInCount    = []string{"hubwire", "completion", "in", "count"}
	MetricFrameDroppedCount    = []string{"hubwire", "frame", "dropped", "count"}
	MetricStreamItemOutCount   = []string{"hubwire", "stream", "item", "out", "count"}
	MetricStreamItemInCount    = []string{"hubwire", "stream", "item", "in", "count"}
	MetricStreamCancelCount    = []string{"hubwire", "stream", "cancel", "count"}
	MetricWatchdogExpiredCount = []string{"hubwire", "watchdog", "expired", "count"}
	MetricPendingDrainedCount  = []string{"hubwire", "pending", "drained", "count"}
)

type TelemetryLabel string

var (
	LabelConnID TelemetryLabel = "conn_id"
	LabelMethod TelemetryLabel = "method"
	LabelError  TelemetryLabel = "error"
	LabelFrame  TelemetryLabel = "frame"
	LabelStream TelemetryLabel = "stream_id"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
