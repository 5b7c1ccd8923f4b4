package logstore

import "time"

// Outbound statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Reply match methods.
const (
	MethodSubject = "subject"
	MethodBody    = "body"
)

// Attachment statuses.
const (
	AttachmentSaved     = "saved"
	AttachmentTooLarge  = "skipped-too-large"
	AttachmentInline    = "skipped-inline"
	AttachmentCorrupted = "skipped-corrupted"
)

// OutboundRecord is one row of the send log. Records are append-only and
// never mutated after creation.
type OutboundRecord struct {
	Token         string    `db:"token"`
	Email         string    `db:"email"`
	Company       string    `db:"company"`
	Subject       string    `db:"subject"`
	EntryID       string    `db:"entryid"`
	SentOn        time.Time `db:"-"`
	Status        string    `db:"status"`
	FailureReason string    `db:"failure_reason"`
	CollectionID  string    `db:"collection_id"`
	ProductDesc   string    `db:"product_desc"`
}

// ReplyRecord is one row of the reply log. The dedup identity is
// (Folder, MessageID, ReceivedOn); the store enforces it with a unique index.
type ReplyRecord struct {
	Token          string    `db:"token"`
	FromEmail      string    `db:"from_email"`
	Folder         string    `db:"folder"`
	MessageID      string    `db:"message_id"`
	ReceivedOn     time.Time `db:"-"`
	MatchMethod    string    `db:"match_method"`
	HasAttachments bool      `db:"has_attachments"`
}

// AttachmentRecord is one row of the attachment log. Every attempted
// attachment produces exactly one record, saved or skipped.
type AttachmentRecord struct {
	Token        string    `db:"token"`
	MessageID    string    `db:"message_id"`
	OriginalName string    `db:"original_name"`
	SavedName    string    `db:"saved_name"`
	SavedPath    string    `db:"saved_path"`
	SizeBytes    int64     `db:"size_bytes"`
	SHA256       string    `db:"sha256"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"-"`
}
