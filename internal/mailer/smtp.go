package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"
)

// propertyHeaderPrefix namespaces custom message properties as headers so a
// sent message can be correlated later.
const propertyHeaderPrefix = "X-Mailtrack-"

// SMTPTransport delivers outbound messages over SMTP with STARTTLS.
type SMTPTransport struct {
	Addr      string
	Username  string
	Password  string
	From      string
	TLSConfig *tls.Config

	client *smtp.Client
}

// Connect dials and authenticates. Failure here means the transport
// capability is unavailable for the whole session.
func (t *SMTPTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := smtp.DialStartTLS(t.Addr, t.TLSConfig)
	if err != nil {
		return errors.Wrap(err, "dial smtp")
	}
	if err := client.Auth(sasl.NewPlainClient("", t.Username, t.Password)); err != nil {
		_ = client.Quit()
		return errors.Wrap(err, "smtp auth")
	}
	t.client = client
	return nil
}

// Close terminates the SMTP session.
func (t *SMTPTransport) Close() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Quit()
	t.client = nil
	return err
}

// SendMessage builds the MIME message and submits it. Attachment paths that
// cannot be opened are skipped rather than failing the message; the
// recipients are what matters.
func (t *SMTPTransport) SendMessage(ctx context.Context, msg OutboundMessage) error {
	if t.client == nil {
		return errors.New("smtp transport is not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := t.writeMIME(&buf, msg); err != nil {
		return err
	}

	rcpts := append([]string{msg.To}, msg.CC...)
	if err := t.client.SendMail(t.From, rcpts, &buf); err != nil {
		return errors.Wrap(err, "submit message")
	}
	return nil
}

func (t *SMTPTransport) writeMIME(w io.Writer, msg OutboundMessage) error {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: t.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	if len(msg.CC) > 0 {
		cc := make([]*mail.Address, 0, len(msg.CC))
		for _, addr := range msg.CC {
			cc = append(cc, &mail.Address{Address: addr})
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(msg.Subject)
	for key, value := range msg.Properties {
		h.Set(propertyHeaderPrefix+key, value)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return errors.Wrap(err, "create mime writer")
	}

	var ih mail.InlineHeader
	ih.Set("Content-Type", "text/html; charset=utf-8")
	body, err := mw.CreateSingleInline(ih)
	if err != nil {
		return errors.Wrap(err, "create html part")
	}
	if _, err := io.WriteString(body, msg.HTMLBody); err != nil {
		return errors.Wrap(err, "write html part")
	}
	if err := body.Close(); err != nil {
		return errors.Wrap(err, "close html part")
	}

	for _, path := range msg.AttachmentPaths {
		if err := attachFile(mw, path); err != nil {
			// Best effort, matching the send path: a bad fixed
			// attachment must not block the batch.
			continue
		}
	}

	return mw.Close()
}

func attachFile(mw *mail.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var ah mail.AttachmentHeader
	ah.SetFilename(filepath.Base(path))
	part, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		_ = part.Close()
		return err
	}
	return part.Close()
}
