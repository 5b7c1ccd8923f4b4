package mailer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	imapTestUser = "bids@example.com"
	imapTestPass = "password"
)

type mailboxFixture struct {
	mailbox  string
	raw      string
	received time.Time
}

func startIMAPServer(t *testing.T, mailboxes []string, fixtures []mailboxFixture) string {
	t.Helper()

	tlsConfig := testTLSConfig(t)
	mem := imapmemserver.New()
	user := imapmemserver.NewUser(imapTestUser, imapTestPass)
	mem.AddUser(user)

	for _, mailbox := range mailboxes {
		require.NoError(t, user.Create(mailbox, nil), "create mailbox %q", mailbox)
	}

	for _, fx := range fixtures {
		received := fx.received
		if received.IsZero() {
			received = time.Now()
		}
		_, err := user.Append(fx.mailbox, newLiteral(fx.raw), &imap.AppendOptions{Time: received})
		require.NoError(t, err, "append to %q", fx.mailbox)
	}

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		TLSConfig:    tlsConfig,
		InsecureAuth: true,
	})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	require.NoError(t, err)

	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() {
		_ = server.Close()
		_ = ln.Close()
	})

	return ln.Addr().String()
}

func newTestReader(t *testing.T, addr string) *IMAPReader {
	t.Helper()
	reader := &IMAPReader{
		Addr:      addr,
		Username:  imapTestUser,
		Password:  imapTestPass,
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
	}
	require.NoError(t, reader.Connect(context.Background()))
	t.Cleanup(func() { _ = reader.Close() })
	return reader
}

// replyFixture renders a supplier reply, with one attachment, through the
// same MIME writer the transport uses.
func replyFixture(t *testing.T, subject, body string) string {
	t.Helper()

	attPath := filepath.Join(t.TempDir(), "quote.xlsx")
	require.NoError(t, os.WriteFile(attPath, []byte("spreadsheet bytes"), 0o644))

	transport := &SMTPTransport{From: "supplier@example.com"}
	var buf bytes.Buffer
	require.NoError(t, transport.writeMIME(&buf, OutboundMessage{
		To:              imapTestUser,
		Subject:         subject,
		HTMLBody:        body,
		AttachmentPaths: []string{attPath},
	}))
	return buf.String()
}

func TestIMAPReaderListMessages(t *testing.T) {
	now := time.Now()
	addr := startIMAPServer(t, []string{"INBOX"}, []mailboxFixture{
		{mailbox: "INBOX", raw: replyFixture(t, "Re: [ABA#A1B2C3D4] Request for Quotation", "<p>quote attached</p>"), received: now.Add(-2 * time.Hour)},
		{mailbox: "INBOX", raw: replyFixture(t, "Re: pricing", "<p>newest</p>"), received: now.Add(-time.Hour)},
	})
	reader := newTestReader(t, addr)

	msgs, err := reader.ListMessages(context.Background(), "inbox", now.Add(-7*24*time.Hour), 400)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Newest first.
	assert.Equal(t, "Re: pricing", msgs[0].Subject())
	assert.Equal(t, "Re: [ABA#A1B2C3D4] Request for Quotation", msgs[1].Subject())
	assert.Equal(t, "supplier@example.com", msgs[1].Sender())
	assert.Contains(t, msgs[1].ID(), ":")

	html, err := msgs[1].HTMLBody()
	require.NoError(t, err)
	assert.Contains(t, html, "quote attached")

	atts, err := msgs[1].Attachments()
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "quote.xlsx", atts[0].Filename())
	assert.False(t, atts[0].Inline())
	data, err := atts[0].Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("spreadsheet bytes"), data)

	// A second listing on the same session works; the fetch pipeline is
	// fully drained and closed between calls.
	again, err := reader.ListMessages(context.Background(), "INBOX", now.Add(-7*24*time.Hour), 400)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestIMAPReaderSinceCutoffAndCap(t *testing.T) {
	now := time.Now()
	addr := startIMAPServer(t, []string{"INBOX"}, []mailboxFixture{
		{mailbox: "INBOX", raw: replyFixture(t, "ancient", "<p>old</p>"), received: now.Add(-30 * 24 * time.Hour)},
		{mailbox: "INBOX", raw: replyFixture(t, "recent one", "<p>a</p>"), received: now.Add(-2 * time.Hour)},
		{mailbox: "INBOX", raw: replyFixture(t, "recent two", "<p>b</p>"), received: now.Add(-time.Hour)},
	})
	reader := newTestReader(t, addr)

	msgs, err := reader.ListMessages(context.Background(), "INBOX", now.Add(-7*24*time.Hour), 400)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	capped, err := reader.ListMessages(context.Background(), "INBOX", now.Add(-7*24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "recent two", capped[0].Subject())
}

func TestIMAPReaderResolvesNestedFolders(t *testing.T) {
	addr := startIMAPServer(t, []string{"INBOX", "Archive/Suppliers"}, []mailboxFixture{
		{mailbox: "Archive/Suppliers", raw: replyFixture(t, "archived reply", "<p>x</p>")},
	})
	reader := newTestReader(t, addr)

	folders, err := reader.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Contains(t, folders, "Archive/Suppliers")

	msgs, err := reader.ListMessages(context.Background(), "archive/suppliers", time.Now().Add(-time.Hour), 400)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "archived reply", msgs[0].Subject())

	_, err = reader.ListMessages(context.Background(), "No/Such/Folder", time.Now().Add(-time.Hour), 400)
	assert.Error(t, err)
}

type literalReader struct {
	*bytes.Reader
	size int64
}

func newLiteral(raw string) imap.LiteralReader {
	buf := []byte(raw)
	return &literalReader{Reader: bytes.NewReader(buf), size: int64(len(buf))}
}

func (lr *literalReader) Size() int64 { return lr.size }

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{"imap"},
	}
}
