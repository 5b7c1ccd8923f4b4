package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
)

// IMAPReader lists folders and recent messages over IMAP. Folder paths are
// slash-delimited regardless of the server's hierarchy delimiter, and
// segment matching is case-insensitive.
type IMAPReader struct {
	Addr      string
	Username  string
	Password  string
	TLSConfig *tls.Config

	client *imapclient.Client
}

// Connect establishes the IMAP connection and logs in.
func (r *IMAPReader) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Addr) == "" {
		return errors.New("IMAP address is required")
	}
	if strings.TrimSpace(r.Username) == "" || strings.TrimSpace(r.Password) == "" {
		return errors.New("IMAP credentials are required")
	}

	var options *imapclient.Options
	if r.TLSConfig != nil {
		options = &imapclient.Options{TLSConfig: r.TLSConfig}
	}

	client, err := imapclient.DialTLS(r.Addr, options)
	if err != nil {
		return err
	}
	if err := client.Login(r.Username, r.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return err
	}

	r.client = client
	return nil
}

// Close logs out and clears the connection.
func (r *IMAPReader) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Logout().Wait()
	r.client = nil
	return err
}

// ListFolders returns every selectable mailbox as a slash-delimited path.
func (r *IMAPReader) ListFolders(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, errors.New("IMAP client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listed, err := r.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, errors.Wrap(err, "list mailboxes")
	}

	folders := make([]string, 0, len(listed))
	for _, mbox := range listed {
		name := mbox.Mailbox
		if mbox.Delim != 0 {
			name = strings.ReplaceAll(name, string(mbox.Delim), "/")
		}
		folders = append(folders, name)
	}
	sort.Strings(folders)
	return folders, nil
}

// ListMessages lists messages in the folder received since the cutoff,
// newest first, capped at max. Messages are fetched with BODY.PEEK so the
// mailbox state is left untouched.
func (r *IMAPReader) ListMessages(ctx context.Context, folder string, since time.Time, max int) ([]Message, error) {
	if r.client == nil {
		return nil, errors.New("IMAP client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := r.resolveFolder(folder)
	if err != nil {
		return nil, err
	}

	selected, err := r.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, errors.Wrapf(err, "select %q", name)
	}

	searchData, err := r.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, errors.Wrap(err, "search since cutoff")
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// UIDs ascend with arrival; keep the newest and present newest first.
	if max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := r.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})

	msgs := make([]Message, 0, len(uids))
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			continue
		}
		msgs = append(msgs, newIMAPMessage(selected.UIDValidity, buf, bodySection))
	}
	if err := fetchCmd.Close(); err != nil {
		return msgs, errors.Wrap(err, "fetch messages")
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].ReceivedTime().After(msgs[j].ReceivedTime())
	})
	return msgs, nil
}

// resolveFolder maps a slash-delimited path onto the server's mailbox
// namespace, matching segments case-insensitively.
func (r *IMAPReader) resolveFolder(folder string) (string, error) {
	listed, err := r.client.List("", "*", nil).Collect()
	if err != nil {
		return "", errors.Wrap(err, "list mailboxes")
	}

	want := strings.ToLower(strings.Trim(folder, "/"))
	for _, mbox := range listed {
		name := mbox.Mailbox
		if mbox.Delim != 0 {
			name = strings.ReplaceAll(name, string(mbox.Delim), "/")
		}
		if strings.ToLower(name) == want {
			return mbox.Mailbox, nil
		}
	}
	return "", errors.Errorf("folder %q not found", folder)
}

// imapMessage is an eagerly-parsed message handle. The MIME body is parsed
// once; accessor errors reflect what failed during that parse.
type imapMessage struct {
	id       string
	subject  string
	sender   string
	received time.Time

	textBody string
	htmlBody string
	bodyErr  error

	atts []Attachment
}

func newIMAPMessage(uidValidity uint32, buf *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) *imapMessage {
	m := &imapMessage{
		id:       fmt.Sprintf("%d:%d", uidValidity, buf.UID),
		received: buf.InternalDate,
	}
	if env := buf.Envelope; env != nil {
		m.subject = env.Subject
		if len(env.From) > 0 {
			m.sender = env.From[0].Addr()
		}
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		m.bodyErr = errors.New("missing body section")
		return m
	}
	m.parseBody(raw)
	return m
}

// parseBody splits the MIME structure into bodies and attachment handles.
// Inline parts that are not text (embedded images and the like) are kept as
// inline attachments so the extractor can classify them.
func (m *imapMessage) parseBody(raw []byte) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		m.bodyErr = errors.Wrap(err, "parse mime")
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			m.bodyErr = errors.Wrap(err, "read mime part")
			return
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				body, err := io.ReadAll(part.Body)
				if err == nil {
					m.textBody += string(body)
				}
			case strings.HasPrefix(mediaType, "text/html"):
				body, err := io.ReadAll(part.Body)
				if err == nil {
					m.htmlBody += string(body)
				}
			default:
				m.atts = append(m.atts, readAttachment(part, len(m.atts), true))
			}
		case *mail.AttachmentHeader:
			m.atts = append(m.atts, readAttachment(part, len(m.atts), false))
		}
	}
}

func (m *imapMessage) ID() string              { return m.id }
func (m *imapMessage) Subject() string         { return m.subject }
func (m *imapMessage) Sender() string          { return m.sender }
func (m *imapMessage) ReceivedTime() time.Time { return m.received }

func (m *imapMessage) PlainBody() (string, error) { return m.textBody, m.bodyErr }
func (m *imapMessage) HTMLBody() (string, error)  { return m.htmlBody, m.bodyErr }

func (m *imapMessage) Attachments() ([]Attachment, error) {
	return m.atts, nil
}

type imapAttachment struct {
	filename string
	size     int64
	inline   bool
	data     []byte
	readErr  error
}

func readAttachment(part *mail.Part, idx int, inline bool) *imapAttachment {
	att := &imapAttachment{inline: inline}

	switch header := part.Header.(type) {
	case *mail.AttachmentHeader:
		att.filename, _ = header.Filename()
	case *mail.InlineHeader:
		_, params, _ := header.ContentType()
		att.filename = params["name"]
	}
	if strings.TrimSpace(att.filename) == "" {
		att.filename = fmt.Sprintf("attachment_%d", idx+1)
	}

	data, err := io.ReadAll(part.Body)
	if err != nil {
		att.readErr = err
		return att
	}
	att.data = data
	att.size = int64(len(data))
	return att
}

func (a *imapAttachment) Filename() string { return a.filename }
func (a *imapAttachment) Size() int64      { return a.size }
func (a *imapAttachment) Inline() bool     { return a.inline }

func (a *imapAttachment) Read() ([]byte, error) {
	if a.readErr != nil {
		return nil, a.readErr
	}
	return a.data, nil
}
