// Package sender orchestrates a batch send: token injection, delivery, and
// one outbound record per recipient regardless of outcome.
package sender

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/token"
)

// TokenProperty is the custom message property carrying the bare token on
// sent messages. The name avoids brackets and separators on purpose.
const TokenProperty = "TrackingToken"

// Recipient is one entry of the opaque batch supplied by the ingestion
// collaborator.
type Recipient struct {
	Email        string `json:"email"`
	Company      string `json:"company"`
	CollectionID string `json:"collection_id"`
	ProductDesc  string `json:"product_desc"`
}

// Summary is the structured result handed back to the control surface.
type Summary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// TokenSource mints unused tracking tokens.
type TokenSource interface {
	Generate(ctx context.Context) (token.Token, error)
}

// Orchestrator iterates a recipient batch with per-recipient failure
// isolation. Delivery failures become failed records, never aborts.
type Orchestrator struct {
	transport   mailer.Transport
	store       *logstore.Store
	tokens      TokenSource
	logger      *slog.Logger
	subjectBase string
	defaultCC   []string
	attachPaths []string
	throttle    time.Duration
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithDefaultCC(cc []string) Option {
	return func(o *Orchestrator) {
		o.defaultCC = cc
	}
}

// WithFixedAttachments sets file paths attached to every outbound message.
func WithFixedAttachments(paths []string) Option {
	return func(o *Orchestrator) {
		o.attachPaths = paths
	}
}

func WithThrottle(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.throttle = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New builds an Orchestrator.
func New(transport mailer.Transport, store *logstore.Store, tokens TokenSource, subjectBase string, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport:   transport,
		store:       store,
		tokens:      tokens,
		logger:      logger,
		subjectBase: subjectBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send delivers the batch. It fails fatally only when the transport cannot
// be acquired at all; that is reported once, before any attempt. Context
// cancellation is honored between recipients, leaving appended records
// intact.
func (o *Orchestrator) Send(ctx context.Context, batch []Recipient, tpl *template.Template) (Summary, []logstore.OutboundRecord, error) {
	if err := o.transport.Connect(ctx); err != nil {
		return Summary{}, nil, errors.Wrapf(mailer.ErrCapabilityUnavailable, "acquire transport: %v", err)
	}
	defer func() {
		if err := o.transport.Close(); err != nil {
			o.logger.Warn("failed to close transport", "error", err)
		}
	}()

	var summary Summary
	records := make([]logstore.OutboundRecord, 0, len(batch))

	for i, rcpt := range batch {
		if err := ctx.Err(); err != nil {
			return summary, records, err
		}
		if i > 0 && o.throttle > 0 {
			if err := o.pause(ctx); err != nil {
				return summary, records, err
			}
		}

		rec := o.sendOne(ctx, rcpt, tpl)
		summary.Attempted++
		if rec.Status == logstore.StatusSent {
			summary.Sent++
		} else {
			summary.Failed++
		}

		if err := o.store.InsertOutbound(ctx, rec); err != nil {
			return summary, records, errors.Wrap(err, "append outbound record")
		}
		records = append(records, rec)
	}

	o.logger.Info("batch complete",
		"attempted", summary.Attempted, "sent", summary.Sent, "failed", summary.Failed)
	return summary, records, nil
}

// sendOne produces exactly one record for the recipient. Any per-recipient
// error, token exhaustion included, becomes a failed record.
func (o *Orchestrator) sendOne(ctx context.Context, rcpt Recipient, tpl *template.Template) logstore.OutboundRecord {
	rec := logstore.OutboundRecord{
		Email:        rcpt.Email,
		Company:      rcpt.Company,
		CollectionID: rcpt.CollectionID,
		ProductDesc:  rcpt.ProductDesc,
		SentOn:       o.now(),
	}

	tok, err := o.tokens.Generate(ctx)
	if err != nil {
		rec.Status = logstore.StatusFailed
		rec.FailureReason = err.Error()
		o.logger.Error("token generation failed", "recipient", rcpt.Email, "error", err)
		return rec
	}
	rec.Token = string(tok)
	rec.Subject = tok.Marker() + " " + o.subjectBase

	body, err := renderBody(tpl, rcpt, tok)
	if err != nil {
		rec.Status = logstore.StatusFailed
		rec.FailureReason = err.Error()
		o.logger.Error("template rendering failed", "recipient", rcpt.Email, "error", err)
		return rec
	}

	msg := mailer.OutboundMessage{
		To:              rcpt.Email,
		CC:              o.defaultCC,
		Subject:         rec.Subject,
		HTMLBody:        body,
		AttachmentPaths: o.attachPaths,
		Properties: map[string]string{
			TokenProperty:        string(tok),
			"CollectionID":       rcpt.CollectionID,
			"ProductDescription": rcpt.ProductDesc,
		},
	}

	if err := o.transport.SendMessage(ctx, msg); err != nil {
		rec.Status = logstore.StatusFailed
		rec.FailureReason = err.Error()
		o.logger.Error("delivery failed", "recipient", rcpt.Email, "token", tok, "error", err)
		return rec
	}

	rec.Status = logstore.StatusSent
	o.logger.Info("message sent", "recipient", rcpt.Email, "token", tok)
	return rec
}

// pause applies the inter-message throttle; cancellable.
func (o *Orchestrator) pause(ctx context.Context) error {
	timer := time.NewTimer(o.throttle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func renderBody(tpl *template.Template, rcpt Recipient, tok token.Token) (string, error) {
	supplier := rcpt.Company
	if supplier == "" {
		supplier = "Valued Supplier"
	}
	var buf bytes.Buffer
	err := tpl.Execute(&buf, map[string]string{
		"SupplierName": supplier,
		"Token":        string(tok),
		"CollectionID": rcpt.CollectionID,
		"ProductDesc":  rcpt.ProductDesc,
	})
	if err != nil {
		return "", errors.Wrap(err, "render template")
	}
	return buf.String(), nil
}
