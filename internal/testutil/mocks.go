// Package testutil provides shared mocks and fixtures for the engine's
// package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
)

// Logger returns a quiet slog logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens an in-memory log store that is closed with the test.
func OpenStore(t *testing.T) *logstore.Store {
	t.Helper()
	store, err := logstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MockTransport implements mailer.Transport with injectable behavior.
type MockTransport struct {
	ConnectFunc     func(ctx context.Context) error
	SendMessageFunc func(ctx context.Context, msg mailer.OutboundMessage) error
	CloseFunc       func() error

	Sent []mailer.OutboundMessage
}

func (m *MockTransport) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockTransport) SendMessage(ctx context.Context, msg mailer.OutboundMessage) error {
	if m.SendMessageFunc != nil {
		if err := m.SendMessageFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

func (m *MockTransport) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockReader implements mailer.MailboxReader over fixture folders.
type MockReader struct {
	ConnectFunc func(ctx context.Context) error

	// Folders maps a folder path to its messages, newest first. Missing
	// folders error like an unopenable mailbox.
	Folders map[string][]mailer.Message
}

func (m *MockReader) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockReader) ListFolders(context.Context) ([]string, error) {
	folders := make([]string, 0, len(m.Folders))
	for name := range m.Folders {
		folders = append(folders, name)
	}
	return folders, nil
}

func (m *MockReader) ListMessages(_ context.Context, folder string, since time.Time, max int) ([]mailer.Message, error) {
	msgs, ok := m.Folders[folder]
	if !ok {
		return nil, errFolderNotFound(folder)
	}
	out := make([]mailer.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ReceivedTime().Before(since) {
			continue
		}
		out = append(out, msg)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out, nil
}

func (m *MockReader) Close() error { return nil }

type errFolderNotFound string

func (e errFolderNotFound) Error() string { return "folder not found: " + string(e) }

// MockMessage implements mailer.Message from fixture fields.
type MockMessage struct {
	IDVal       string
	SubjectVal  string
	SenderVal   string
	ReceivedVal time.Time

	PlainVal string
	PlainErr error
	HTMLVal  string
	HTMLErr  error

	Atts    []mailer.Attachment
	AttsErr error
}

func (m *MockMessage) ID() string              { return m.IDVal }
func (m *MockMessage) Subject() string         { return m.SubjectVal }
func (m *MockMessage) Sender() string          { return m.SenderVal }
func (m *MockMessage) ReceivedTime() time.Time { return m.ReceivedVal }

func (m *MockMessage) PlainBody() (string, error) { return m.PlainVal, m.PlainErr }
func (m *MockMessage) HTMLBody() (string, error)  { return m.HTMLVal, m.HTMLErr }

func (m *MockMessage) Attachments() ([]mailer.Attachment, error) {
	return m.Atts, m.AttsErr
}

// MockAttachment implements mailer.Attachment from fixture bytes.
type MockAttachment struct {
	Name      string
	InlineVal bool
	Data      []byte
	ReadErr   error

	// SizeOverride reports a size different from len(Data) when non-zero.
	SizeOverride int64
}

func (a *MockAttachment) Filename() string { return a.Name }
func (a *MockAttachment) Inline() bool     { return a.InlineVal }

func (a *MockAttachment) Size() int64 {
	if a.SizeOverride != 0 {
		return a.SizeOverride
	}
	return int64(len(a.Data))
}

func (a *MockAttachment) Read() ([]byte, error) {
	if a.ReadErr != nil {
		return nil, a.ReadErr
	}
	return a.Data, nil
}
