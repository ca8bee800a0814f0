package peerchef

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricMessagesIn        = []string{"peerchef", "pubsub", "message", "in", "count"}
	MetricResponsesOut      = []string{"peerchef", "pubsub", "response", "out", "count"}
	MetricRequestsOut       = []string{"peerchef", "pubsub", "request", "out", "count"}
	MetricPublishErrorCount = []string{"peerchef", "pubsub", "publish", "error", "count"}
	MetricServeErrorCount   = []string{"peerchef", "serve", "error", "count"}
	MetricDiscoveryEvents   = []string{"peerchef", "discovery", "event", "count"}
	MetricDialErrorCount    = []string{"peerchef", "dial", "error", "count"}
	MetricViewSize          = []string{"peerchef", "view", "size"}
	MetricCommandCount      = []string{"peerchef", "command", "count"}
)

type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelPeer     TelemetryLabel = "peer"
	LabelTopic    TelemetryLabel = "topic"
	LabelAction   TelemetryLabel = "action"
	LabelKind     TelemetryLabel = "kind"
	LabelSource   TelemetryLabel = "source"
	LabelCommand  TelemetryLabel = "command"
	LabelAddr     TelemetryLabel = "addr"
	LabelMode     TelemetryLabel = "mode"
	LabelCount    TelemetryLabel = "count"
	LabelDuration TelemetryLabel = "duration"
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

// withLabels appends per-call labels to the static ones without sharing
// the backing array of the static slice.
func withLabels(static []metrics.Label, labels ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(labels))
	out = append(out, static...)
	return append(out, labels...)
}
