// Package logstore owns the durable send/reply/attachment history. All
// tables are append-only; dedup state for polling lives here rather than on
// the external mailbox items.
package logstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS mail_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  token TEXT UNIQUE,
  email TEXT,
  company TEXT,
  subject TEXT,
  entryid TEXT,
  sent_on TEXT,
  status TEXT,
  failure_reason TEXT,
  collection_id TEXT,
  product_desc TEXT
);

CREATE TABLE IF NOT EXISTS reply_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  token TEXT,
  from_email TEXT,
  folder TEXT,
  message_id TEXT,
  received_on TEXT,
  match_method TEXT,
  has_attachments INTEGER,
  UNIQUE(folder, message_id, received_on)
);

CREATE TABLE IF NOT EXISTS attachment_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  token TEXT,
  message_id TEXT,
  original_name TEXT,
  saved_name TEXT,
  saved_path TEXT,
  size_bytes INTEGER,
  sha256 TEXT,
  status TEXT,
  created_at TEXT
);
`

// Store wraps the SQLite-backed logs. Writers are serialized by the session
// owner; WAL mode keeps log readers safe while a send or poll is writing.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and bootstraps the schema.
// An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bootstrap schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertOutbound appends one send record. The token column is UNIQUE, so a
// duplicate token is surfaced as an error rather than silently replacing
// history.
func (s *Store) InsertOutbound(ctx context.Context, rec OutboundRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_log
		(token, email, company, subject, entryid, sent_on, status, failure_reason, collection_id, product_desc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.Email, rec.Company, rec.Subject, rec.EntryID,
		rec.SentOn.UTC().Format(time.RFC3339Nano), rec.Status, rec.FailureReason,
		rec.CollectionID, rec.ProductDesc,
	)
	return errors.Wrap(err, "insert mail_log")
}

// TokenExists reports whether a token has ever been issued.
func (s *Store) TokenExists(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM mail_log WHERE token = ?`, token)
	if err != nil {
		return false, errors.Wrap(err, "count token")
	}
	return n > 0, nil
}

// CountTokens reports the size of the outbound token history.
func (s *Store) CountTokens(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM mail_log`)
	if err != nil {
		return 0, errors.Wrap(err, "count mail_log")
	}
	return n, nil
}

// OutboundByToken returns the send record for a token, or false when the
// token is unknown.
func (s *Store) OutboundByToken(ctx context.Context, token string) (OutboundRecord, bool, error) {
	var row outboundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT token, email, company, subject, entryid, sent_on, status, failure_reason, collection_id, product_desc
		FROM mail_log WHERE token = ? ORDER BY id DESC LIMIT 1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboundRecord{}, false, nil
	}
	if err != nil {
		return OutboundRecord{}, false, errors.Wrap(err, "select mail_log")
	}
	return row.record(), true, nil
}

// HasReply reports whether a reply with the given dedup identity has
// already been logged.
func (s *Store) HasReply(ctx context.Context, folder, messageID string, receivedOn time.Time) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reply_log WHERE folder = ? AND message_id = ? AND received_on = ?`,
		folder, messageID, receivedOn.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, errors.Wrap(err, "count reply")
	}
	return n > 0, nil
}

// InsertReply appends a reply record, ignoring duplicates on the dedup
// identity. It reports whether a row was actually inserted, which is what
// gates attachment extraction on repeated polls.
func (s *Store) InsertReply(ctx context.Context, rec ReplyRecord) (bool, error) {
	hasAtt := 0
	if rec.HasAttachments {
		hasAtt = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reply_log
		(token, from_email, folder, message_id, received_on, match_method, has_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.FromEmail, rec.Folder, rec.MessageID,
		rec.ReceivedOn.UTC().Format(time.RFC3339Nano), rec.MatchMethod, hasAtt,
	)
	if err != nil {
		return false, errors.Wrap(err, "insert reply_log")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// InsertAttachment appends one attachment record.
func (s *Store) InsertAttachment(ctx context.Context, rec AttachmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachment_log
		(token, message_id, original_name, saved_name, saved_path, size_bytes, sha256, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.MessageID, rec.OriginalName, rec.SavedName, rec.SavedPath,
		rec.SizeBytes, rec.SHA256, rec.Status, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "insert attachment_log")
}

// ListOutbound returns the newest send records, capped at limit.
func (s *Store) ListOutbound(ctx context.Context, limit int) ([]OutboundRecord, error) {
	var rows []outboundRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT token, email, company, subject, entryid, sent_on, status, failure_reason, collection_id, product_desc
		FROM mail_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list mail_log")
	}
	out := make([]OutboundRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// ListReplies returns the newest reply records, capped at limit.
func (s *Store) ListReplies(ctx context.Context, limit int) ([]ReplyRecord, error) {
	var rows []replyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT token, from_email, folder, message_id, received_on, match_method, has_attachments
		FROM reply_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list reply_log")
	}
	out := make([]ReplyRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// ListAttachments returns the newest attachment records, capped at limit.
func (s *Store) ListAttachments(ctx context.Context, limit int) ([]AttachmentRecord, error) {
	var rows []attachmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT token, message_id, original_name, saved_name, saved_path, size_bytes, sha256, status, created_at
		FROM attachment_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list attachment_log")
	}
	out := make([]AttachmentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Timestamps are stored as RFC 3339 text; row types bridge them back to
// time.Time for callers.

type outboundRow struct {
	OutboundRecord
	SentOn string `db:"sent_on"`
}

func (r outboundRow) record() OutboundRecord {
	rec := r.OutboundRecord
	rec.SentOn = parseTime(r.SentOn)
	return rec
}

type replyRow struct {
	ReplyRecord
	ReceivedOn     string `db:"received_on"`
	HasAttachments int    `db:"has_attachments"`
}

func (r replyRow) record() ReplyRecord {
	rec := r.ReplyRecord
	rec.ReceivedOn = parseTime(r.ReceivedOn)
	rec.HasAttachments = r.HasAttachments != 0
	return rec
}

type attachmentRow struct {
	AttachmentRecord
	CreatedAt string `db:"created_at"`
}

func (r attachmentRow) record() AttachmentRecord {
	rec := r.AttachmentRecord
	rec.CreatedAt = parseTime(r.CreatedAt)
	return rec
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
