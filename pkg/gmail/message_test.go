package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestParseMessage_MultipartWithAttachment(t *testing.T) {
	m := &gmailapi.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1700000000000,
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Alice Doe <Alice@Acme.com>"},
				{Name: "To", Value: "support@desk.io"},
				{Name: "Subject", Value: "  Printer broken "},
				{Name: "Message-ID", Value: "<abc@mail>"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmailapi.MessagePart{
						{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("It jams.\n")}},
						{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64("<p>It jams.</p>")}},
					},
				},
				{
					MimeType: "image/png",
					Filename: "jam.png",
					Body:     &gmailapi.MessagePartBody{AttachmentId: "att-1", Size: 42},
				},
			},
		},
	}

	msg := ParseMessage(m)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "abc@mail", msg.MessageID)
	assert.Equal(t, "Alice Doe", msg.FromName)
	assert.Equal(t, "alice@acme.com", msg.FromEmail)
	assert.Equal(t, "Printer broken", msg.Subject)
	assert.Equal(t, "It jams.", msg.Body)
	assert.Equal(t, int64(1700000000), msg.Date.Unix())
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, Attachment{ID: "att-1", FileName: "jam.png", MimeType: "image/png", Size: 42}, msg.Attachments[0])
}

func TestParseMessage_HTMLOnly(t *testing.T) {
	m := &gmailapi.Message{
		Id: "m2",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/html",
			Headers:  []*gmailapi.MessagePartHeader{{Name: "From", Value: "bob@example.com"}},
			Body:     &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<div>Hello &amp; welcome</div><br>Bye"))},
		},
	}
	msg := ParseMessage(m)
	assert.Equal(t, "bob@example.com", msg.FromEmail)
	assert.Equal(t, "Hello & welcome\n\nBye", msg.Body)
}

func TestStripQuoted(t *testing.T) {
	body := "Thanks, that fixed it.\n\nOn Mon, 1 Jan 2024 at 10:00, Support <support@desk.io> wrote:\n> Try restarting\n"
	assert.Equal(t, "Thanks, that fixed it.", StripQuoted(body))
	assert.Equal(t, "top\nbottom", StripQuoted("top\n> quoted\nbottom"))
}

func TestDecodePush(t *testing.T) {
	var env PushEnvelope
	env.Message.Data = base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"Support@Desk.io","historyId":1234}`))
	n, err := DecodePush(env)
	require.NoError(t, err)
	assert.Equal(t, "support@desk.io", n.EmailAddress)
	assert.Equal(t, uint64(1234), n.HistoryID)

	_, err = DecodePush(PushEnvelope{})
	assert.Error(t, err)

	env.Message.Data = base64.StdEncoding.EncodeToString([]byte(`{"historyId":1}`))
	_, err = DecodePush(env)
	assert.Error(t, err)
}
