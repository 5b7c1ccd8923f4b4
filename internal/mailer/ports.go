// Package mailer defines the mail transport and mailbox read capabilities
// the engine consumes, plus the SMTP and IMAP adapters backing them.
//
// Both capabilities are single-threaded-affine: all calls for one logical
// session must come from one goroutine. The session runner enforces that.
package mailer

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrCapabilityUnavailable marks the mail client being unreachable. It is
// fatal for the whole send or poll session and is surfaced once, before any
// per-unit work.
var ErrCapabilityUnavailable = errors.New("mail capability unavailable")

// OutboundMessage is one message handed to the transport.
type OutboundMessage struct {
	To              string
	CC              []string
	Subject         string
	HTMLBody        string
	AttachmentPaths []string

	// Properties are custom key/value pairs attached to the message so a
	// sent item can be correlated later.
	Properties map[string]string
}

// Transport sends outbound messages.
type Transport interface {
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, msg OutboundMessage) error
	Close() error
}

// Attachment is a handle on one attachment of a received message.
type Attachment interface {
	Filename() string
	Size() int64
	Inline() bool
	Read() ([]byte, error)
}

// Message is a handle on one received message. Accessors that hit the
// mailbox (bodies, attachments) may fail independently of the handle.
type Message interface {
	// ID is a stable per-item identifier within its folder.
	ID() string
	Subject() string
	Sender() string
	ReceivedTime() time.Time
	PlainBody() (string, error)
	HTMLBody() (string, error)
	Attachments() ([]Attachment, error)
}

// MailboxReader enumerates folders and recent messages. The mailbox is
// read-only with respect to message content.
type MailboxReader interface {
	Connect(ctx context.Context) error
	ListFolders(ctx context.Context) ([]string, error)
	// ListMessages lists messages in the slash-delimited folder path
	// received since the cutoff, newest first, capped at max.
	ListMessages(ctx context.Context, folder string, since time.Time, max int) ([]Message, error)
	Close() error
}
