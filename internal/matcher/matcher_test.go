package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/testutil"
)

const knownToken = "ABA#A1B2C3D4"

func newMatcher(t *testing.T) (*Matcher, *logstore.Store) {
	t.Helper()
	store := testutil.OpenStore(t)
	require.NoError(t, store.InsertOutbound(context.Background(), logstore.OutboundRecord{
		Token: knownToken, Email: "supplier@example.com", Status: logstore.StatusSent,
	}))

	m, err := New(store, "ABA#", testutil.Logger())
	require.NoError(t, err)
	return m, store
}

func TestMatchBySubject(t *testing.T) {
	m, _ := newMatcher(t)

	msg := &testutil.MockMessage{
		IDVal:       "77:1",
		SubjectVal:  "Re: [" + knownToken + "] Invitation",
		SenderVal:   "supplier@example.com",
		ReceivedVal: time.Now(),
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, knownToken, rec.Token)
	assert.Equal(t, logstore.MethodSubject, rec.MatchMethod)
	assert.Equal(t, "Inbox", rec.Folder)
	assert.Equal(t, "supplier@example.com", rec.FromEmail)
}

func TestMatchByBodyFallback(t *testing.T) {
	m, _ := newMatcher(t)

	msg := &testutil.MockMessage{
		IDVal:       "77:2",
		SubjectVal:  "Re: Invitation",
		PlainVal:    "Our quote for [" + knownToken + "] is attached.",
		ReceivedVal: time.Now(),
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, logstore.MethodBody, rec.MatchMethod)
}

func TestMatchByHTMLBodyFallback(t *testing.T) {
	m, _ := newMatcher(t)

	msg := &testutil.MockMessage{
		IDVal:       "77:3",
		SubjectVal:  "Re: Invitation",
		HTMLVal:     "<p>ref [" + knownToken + "]</p>",
		ReceivedVal: time.Now(),
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, logstore.MethodBody, rec.MatchMethod)
}

func TestSubjectWinsOverBody(t *testing.T) {
	m, store := newMatcher(t)
	other := "ABA#FFFF0000"
	require.NoError(t, store.InsertOutbound(context.Background(), logstore.OutboundRecord{
		Token: other, Email: "other@example.com", Status: logstore.StatusSent,
	}))

	msg := &testutil.MockMessage{
		IDVal:       "77:4",
		SubjectVal:  "Re: [" + knownToken + "]",
		PlainVal:    "also mentions [" + other + "]",
		ReceivedVal: time.Now(),
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, knownToken, rec.Token)
	assert.Equal(t, logstore.MethodSubject, rec.MatchMethod)
}

func TestNoMatchWithoutKnownToken(t *testing.T) {
	m, _ := newMatcher(t)

	// No marker at all.
	rec, err := m.Match(context.Background(), "Inbox", &testutil.MockMessage{
		IDVal: "77:5", SubjectVal: "hello", PlainVal: "no marker", ReceivedVal: time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Well-formed marker, unknown token.
	rec, err = m.Match(context.Background(), "Inbox", &testutil.MockMessage{
		IDVal: "77:6", SubjectVal: "[ABA#99999999] spoofed", ReceivedVal: time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAlreadyLoggedReplyReturnsNil(t *testing.T) {
	m, store := newMatcher(t)
	received := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	msg := &testutil.MockMessage{
		IDVal:       "77:7",
		SubjectVal:  "Re: [" + knownToken + "]",
		ReceivedVal: received,
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)

	inserted, err := store.InsertReply(context.Background(), *rec)
	require.NoError(t, err)
	require.True(t, inserted)

	rec, err = m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	m, _ := newMatcher(t)

	msg := &testutil.MockMessage{
		IDVal:       "77:8",
		SubjectVal:  "RE: [aba#a1b2c3d4] invitation",
		ReceivedVal: time.Now(),
	}

	rec, err := m.Match(context.Background(), "Inbox", msg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, knownToken, rec.Token)
}

func TestHasAttachmentsFlag(t *testing.T) {
	m, _ := newMatcher(t)

	withAtt := &testutil.MockMessage{
		IDVal:       "77:9",
		SubjectVal:  "Re: [" + knownToken + "]",
		ReceivedVal: time.Now(),
		Atts:        []mailer.Attachment{&testutil.MockAttachment{Name: "quote.xlsx", Data: []byte("x")}},
	}

	rec, err := m.Match(context.Background(), "Inbox", withAtt)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasAttachments)
}
