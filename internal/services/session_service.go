// Package services exposes the send/poll operations to the control
// surface, serialized through the session runner.
package services

import (
	"context"
	"html/template"
	"log/slog"

	"github.com/bidflow/mailtrack/internal/poller"
	"github.com/bidflow/mailtrack/internal/sender"
	"github.com/bidflow/mailtrack/internal/session"
	"github.com/bidflow/mailtrack/internal/telemetry"
)

// SessionService runs batch sends and polls. Concurrent triggers are
// rejected with session.ErrBusy rather than interleaved against the
// single-threaded-affine mail capability.
type SessionService struct {
	runner       *session.Runner
	orchestrator *sender.Orchestrator
	poller       *poller.Poller
	tpl          *template.Template
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// New builds a SessionService. metrics may be nil.
func New(runner *session.Runner, o *sender.Orchestrator, p *poller.Poller, tpl *template.Template, metrics *telemetry.Metrics, logger *slog.Logger) *SessionService {
	return &SessionService{
		runner:       runner,
		orchestrator: o,
		poller:       p,
		tpl:          tpl,
		metrics:      metrics,
		logger:       logger,
	}
}

// SendBatch delivers the batch on the session owner goroutine.
func (s *SessionService) SendBatch(ctx context.Context, batch []sender.Recipient) (sender.Summary, error) {
	var summary sender.Summary
	err := s.runner.Run(ctx, "send", func(ctx context.Context) error {
		var err error
		summary, _, err = s.orchestrator.Send(ctx, batch, s.tpl)
		return err
	})
	s.metrics.RecordSend(ctx, summary.Attempted, summary.Failed)
	return summary, err
}

// PollNow scans the configured folders on the session owner goroutine.
func (s *SessionService) PollNow(ctx context.Context) (poller.Summary, error) {
	var summary poller.Summary
	err := s.runner.Run(ctx, "poll", func(ctx context.Context) error {
		var err error
		summary, err = s.poller.Poll(ctx)
		return err
	})
	s.metrics.RecordPoll(ctx, summary.Matched, summary.AttachmentsSaved)
	return summary, err
}

// Stop releases the session owner.
func (s *SessionService) Stop() {
	s.runner.Stop()
}
