// Package matcher correlates candidate messages with known tracking tokens.
package matcher

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/token"
)

// Matcher decides whether a candidate message is a reply to a tracked send
// and whether it has already been logged.
type Matcher struct {
	store   *logstore.Store
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// New builds a Matcher for the configured token prefix.
func New(store *logstore.Store, prefix string, logger *slog.Logger) (*Matcher, error) {
	pattern, err := token.MarkerPattern(prefix)
	if err != nil {
		return nil, errors.Wrap(err, "compile marker pattern")
	}
	return &Matcher{store: store, pattern: pattern, logger: logger}, nil
}

// Match inspects the candidate's subject first, then its plain body, then
// its HTML body, for a marker corresponding to a known token. Unknown
// tokens and already-logged replies yield nil. The returned record has not
// been appended yet; the caller owns the insert.
func (m *Matcher) Match(ctx context.Context, folder string, msg mailer.Message) (*logstore.ReplyRecord, error) {
	tok, method := m.findToken(msg)
	if tok == "" {
		return nil, nil
	}

	known, err := m.store.TokenExists(ctx, tok)
	if err != nil {
		return nil, errors.Wrap(err, "lookup token")
	}
	if !known {
		return nil, nil
	}

	seen, err := m.store.HasReply(ctx, folder, msg.ID(), msg.ReceivedTime())
	if err != nil {
		return nil, errors.Wrap(err, "dedup lookup")
	}
	if seen {
		m.logger.Debug("reply already logged", "token", tok, "folder", folder, "message_id", msg.ID())
		return nil, nil
	}

	hasAttachments := false
	if atts, err := msg.Attachments(); err == nil {
		hasAttachments = len(atts) > 0
	}

	return &logstore.ReplyRecord{
		Token:          tok,
		FromEmail:      msg.Sender(),
		Folder:         folder,
		MessageID:      msg.ID(),
		ReceivedOn:     msg.ReceivedTime(),
		MatchMethod:    method,
		HasAttachments: hasAttachments,
	}, nil
}

// findToken applies the fixed policy ordering: subject wins over body, even
// when they carry different tokens.
func (m *Matcher) findToken(msg mailer.Message) (string, string) {
	if tok := m.extract(msg.Subject()); tok != "" {
		return tok, logstore.MethodSubject
	}
	if body, err := msg.PlainBody(); err == nil {
		if tok := m.extract(body); tok != "" {
			return tok, logstore.MethodBody
		}
	}
	if body, err := msg.HTMLBody(); err == nil {
		if tok := m.extract(body); tok != "" {
			return tok, logstore.MethodBody
		}
	}
	return "", ""
}

// extract returns the first well-formed marker's token, without brackets.
// Matching is case-insensitive but tokens are stored uppercase, so the
// result is normalized before any lookup.
func (m *Matcher) extract(text string) string {
	match := m.pattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.ToUpper(match[1 : len(match)-1])
}
