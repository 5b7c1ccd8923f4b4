// Package poller walks the configured folder set within the lookback
// window and feeds candidates through the matcher and extractor. Repeated
// polls over an overlapping window are idempotent; dedup lives in the log
// store.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/extractor"
	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/matcher"
)

// Summary is the structured poll result handed back to the control surface.
type Summary struct {
	Scanned          int `json:"scanned"`
	Matched          int `json:"matched"`
	FoldersSkipped   int `json:"folders_skipped"`
	AttachmentsSaved int `json:"attachments_saved"`
}

// Poller enumerates candidate messages. Matching and logging policy stays
// in the matcher and store so traversal remains independently testable.
type Poller struct {
	reader    mailer.MailboxReader
	matcher   *matcher.Matcher
	extractor *extractor.Extractor
	store     *logstore.Store
	logger    *slog.Logger

	folders      []string
	lookback     time.Duration
	maxPerFolder int
	now          func() time.Time
}

// Config carries the fixture-friendly knobs for one poll session.
type Config struct {
	Folders      []string
	Lookback     time.Duration
	MaxPerFolder int
}

// Option configures a Poller.
type Option func(*Poller)

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// New builds a Poller.
func New(reader mailer.MailboxReader, m *matcher.Matcher, e *extractor.Extractor, store *logstore.Store, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		reader:       reader,
		matcher:      m,
		extractor:    e,
		store:        store,
		logger:       logger,
		folders:      cfg.Folders,
		lookback:     cfg.Lookback,
		maxPerFolder: cfg.MaxPerFolder,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll scans every configured folder. A folder that cannot be opened is
// skipped with a warning; only failing to acquire the mailbox capability at
// all aborts the scan. Cancellation is honored between candidate messages.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	if err := p.reader.Connect(ctx); err != nil {
		return Summary{}, errors.Wrapf(mailer.ErrCapabilityUnavailable, "acquire mailbox: %v", err)
	}
	defer func() {
		if err := p.reader.Close(); err != nil {
			p.logger.Warn("failed to close mailbox reader", "error", err)
		}
	}()

	cutoff := p.now().Add(-p.lookback)
	var summary Summary

	for _, folder := range p.folders {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		msgs, err := p.reader.ListMessages(ctx, folder, cutoff, p.maxPerFolder)
		if err != nil {
			summary.FoldersSkipped++
			p.logger.Warn("skipping unreadable folder", "folder", folder, "error", err)
			continue
		}

		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Scanned++
			if err := p.handleCandidate(ctx, folder, msg, &summary); err != nil {
				return summary, err
			}
		}
	}

	p.logger.Info("poll complete",
		"scanned", summary.Scanned, "matched", summary.Matched,
		"folders_skipped", summary.FoldersSkipped, "attachments_saved", summary.AttachmentsSaved)
	return summary, nil
}

func (p *Poller) handleCandidate(ctx context.Context, folder string, msg mailer.Message, summary *Summary) error {
	rec, err := p.matcher.Match(ctx, folder, msg)
	if err != nil {
		return errors.Wrap(err, "match candidate")
	}
	if rec == nil {
		return nil
	}

	inserted, err := p.store.InsertReply(ctx, *rec)
	if err != nil {
		return errors.Wrap(err, "append reply record")
	}
	if !inserted {
		// Lost a race with a concurrent writer on the dedup identity.
		return nil
	}
	summary.Matched++
	p.logger.Info("reply matched",
		"token", rec.Token, "folder", folder, "method", rec.MatchMethod, "from", rec.FromEmail)

	if !rec.HasAttachments {
		return nil
	}
	attRecs, err := p.extractor.Extract(ctx, *rec, msg)
	if err != nil {
		// Extraction trouble is contained to this reply.
		p.logger.Warn("attachment extraction failed", "token", rec.Token, "error", err)
	}
	for _, ar := range attRecs {
		if ar.Status == logstore.AttachmentSaved {
			summary.AttachmentsSaved++
		}
	}
	return nil
}
