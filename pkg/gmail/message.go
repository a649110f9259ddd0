package gmail

import (
	"encoding/base64"
	"net/mail"
	"regexp"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
)

// Thread 一个邮件会话，消息按时间先后排列
type Thread struct {
	ID       string
	Messages []Message
}

// Message 解析后的邮件
type Message struct {
	ID          string
	ThreadID    string
	MessageID   string // RFC 822 Message-ID 头
	FromName    string
	FromEmail   string
	To          string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []Attachment
}

// Attachment 邮件附件；Data 为空时需通过 Provider.GetAttachment 下载
type Attachment struct {
	ID       string
	FileName string
	MimeType string
	Size     int64
	Data     []byte
}

// ParseMessage 将 Gmail API 的 full 格式消息转换为 Message
func ParseMessage(m *gmailapi.Message) Message {
	msg := Message{ID: m.Id, ThreadID: m.ThreadId}
	if m.InternalDate > 0 {
		msg.Date = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.FromName, msg.FromEmail = parseAddress(h.Value)
		case "to":
			msg.To = h.Value
		case "subject":
			msg.Subject = strings.TrimSpace(h.Value)
		case "message-id":
			msg.MessageID = strings.Trim(strings.TrimSpace(h.Value), "<>")
		case "date":
			if msg.Date.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					msg.Date = t.UTC()
				}
			}
		}
	}

	var plain, html string
	walkParts(m.Payload, func(p *gmailapi.MessagePart) {
		if p.Filename != "" {
			a := Attachment{FileName: p.Filename, MimeType: p.MimeType}
			if p.Body != nil {
				a.ID = p.Body.AttachmentId
				a.Size = p.Body.Size
				if p.Body.Data != "" {
					a.Data, _ = decodeBase64URL(p.Body.Data)
				}
			}
			msg.Attachments = append(msg.Attachments, a)
			return
		}
		if p.Body == nil || p.Body.Data == "" {
			return
		}
		data, err := decodeBase64URL(p.Body.Data)
		if err != nil {
			return
		}
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain") && plain == "":
			plain = string(data)
		case strings.HasPrefix(p.MimeType, "text/html") && html == "":
			html = string(data)
		}
	})

	if plain != "" {
		msg.Body = strings.TrimSpace(plain)
	} else {
		msg.Body = strings.TrimSpace(htmlToText(html))
	}
	return msg
}

func walkParts(p *gmailapi.MessagePart, fn func(*gmailapi.MessagePart)) {
	if p == nil {
		return
	}
	if len(p.Parts) == 0 {
		fn(p)
		return
	}
	for _, child := range p.Parts {
		walkParts(child, fn)
	}
}

func parseAddress(v string) (string, string) {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return "", strings.ToLower(strings.Trim(strings.TrimSpace(v), "<>"))
	}
	return addr.Name, strings.ToLower(addr.Address)
}

// Gmail 返回 URL 安全的 base64，是否带填充不固定
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

var (
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blockRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr)[^>]*>`)
	spacesRe = regexp.MustCompile(`\n{3,}`)
)

func htmlToText(html string) string {
	if html == "" {
		return ""
	}
	s := blockRe.ReplaceAllString(html, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	return spacesRe.ReplaceAllString(s, "\n\n")
}

var replyHeaderRe = regexp.MustCompile(`(?m)^On .{1,200} wrote:\s*$`)

// StripQuoted 去掉回复邮件中引用的历史内容
func StripQuoted(body string) string {
	if loc := replyHeaderRe.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	lines := strings.Split(body, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), ">") {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
