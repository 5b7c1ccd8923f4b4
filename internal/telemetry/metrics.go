package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics carries the engine's counters. A zero value is a no-op, so
// callers do not need to care whether telemetry is enabled.
type Metrics struct {
	sendAttempts     metric.Int64Counter
	sendFailures     metric.Int64Counter
	repliesMatched   metric.Int64Counter
	attachmentsSaved metric.Int64Counter
}

// NewMetrics registers the engine counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(serviceName)

	m := &Metrics{}
	var err error
	if m.sendAttempts, err = meter.Int64Counter("mailtrack.send.attempts"); err != nil {
		return nil, err
	}
	if m.sendFailures, err = meter.Int64Counter("mailtrack.send.failures"); err != nil {
		return nil, err
	}
	if m.repliesMatched, err = meter.Int64Counter("mailtrack.poll.matched"); err != nil {
		return nil, err
	}
	if m.attachmentsSaved, err = meter.Int64Counter("mailtrack.poll.attachments_saved"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordSend(ctx context.Context, attempted, failed int) {
	if m == nil || m.sendAttempts == nil {
		return
	}
	m.sendAttempts.Add(ctx, int64(attempted))
	m.sendFailures.Add(ctx, int64(failed))
}

func (m *Metrics) RecordPoll(ctx context.Context, matched, attachmentsSaved int) {
	if m == nil || m.repliesMatched == nil {
		return
	}
	m.repliesMatched.Add(ctx, int64(matched))
	m.attachmentsSaved.Add(ctx, int64(attachmentsSaved))
}
