package sync

import (
	"encoding/base64"
	"strings"

	gomail "github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

const (
	headerFrom         = "From"
	headerTo           = "To"
	headerAttachmentID = "X-Attachment-Id"
	headerContentID    = "Content-ID"

	mimeHTML = "text/html"
)

// Normalize converts a Gmail message to the stored representation
func Normalize(m *gmail.Message, userID string) *mailbox.Message {
	msg := &mailbox.Message{
		ID:        m.Id,
		UserID:    userID,
		ThreadID:  m.ThreadId,
		LabelIDs:  m.LabelIds,
		Snippet:   m.Snippet,
		HistoryID: m.HistoryId,
		Date:      m.InternalDate,
	}

	if m.Payload == nil {
		return msg
	}

	msg.FromName, msg.FromEmail = parseAddress(header(m.Payload.Headers, headerFrom))
	msg.ToName, msg.ToEmail = parseAddress(header(m.Payload.Headers, headerTo))
	msg.Parts = normalizeParts(m.Payload, msg.ID, userID)

	return msg
}

func normalizeParts(payload *gmail.MessagePart, messageID, userID string) []*mailbox.Part {
	parts := []*mailbox.Part{}

	// single part message
	if len(payload.Parts) == 0 {
		if p := textPart(payload, messageID); p != nil {
			parts = append(parts, p)
		}
		return parts
	}

	for _, x := range payload.Parts {
		parts = collectParts(parts, x, messageID, userID)
	}
	return parts
}

func collectParts(acc []*mailbox.Part, x *gmail.MessagePart, messageID, userID string) []*mailbox.Part {
	if x == nil {
		return acc
	}
	if x.Filename != "" && x.Body != nil && x.Body.AttachmentId != "" {
		return append(acc, &mailbox.Part{
			UserID:       userID,
			MessageID:    messageID,
			PartID:       x.PartId,
			MimeType:     x.MimeType,
			Filename:     x.Filename,
			Size:         x.Body.Size,
			AttachmentID: x.Body.AttachmentId,
			ContentID:    contentID(x),
		})
	}
	if len(x.Parts) > 0 {
		for _, y := range x.Parts {
			acc = collectParts(acc, y, messageID, userID)
		}
		return acc
	}
	if p := textPart(x, messageID); p != nil {
		acc = append(acc, p)
	}
	return acc
}

func textPart(x *gmail.MessagePart, messageID string) *mailbox.Part {
	if strings.EqualFold(x.MimeType, mimeHTML) || !strings.HasPrefix(strings.ToLower(x.MimeType), "text/") {
		return nil
	}
	p := &mailbox.Part{
		MessageID: messageID,
		PartID:    x.PartId,
		MimeType:  x.MimeType,
	}
	if x.Body != nil {
		data, _ := decodeBase64(x.Body.Data)
		p.Body = strings.ToValidUTF8(string(data), "�")
		p.Size = x.Body.Size
	}
	return p
}

// contentID returns the token identifying identical attachment content
// across messages
func contentID(x *gmail.MessagePart) string {
	if v := header(x.Headers, headerAttachmentID); v != "" {
		return v
	}
	if v := strings.Trim(header(x.Headers, headerContentID), "<> "); v != "" {
		return v
	}
	return x.Body.AttachmentId
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseAddress splits a formatted address header into display name and address
func parseAddress(value string) (name, email string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	if addr, err := gomail.ParseAddress(value); err == nil {
		return addr.Name, addr.Address
	}

	// loosely formatted headers such as `Name <a@b>, Other <c@d>`
	before, after, found := strings.Cut(value, " <")
	if !found {
		return "", strings.Trim(value, "<>")
	}
	email, _, _ = strings.Cut(after, ">")
	return strings.Trim(before, `" `), email
}

// decodeBase64 decodes Gmail's base64url payloads, which may or may not be
// padded. Standard encoding is accepted as well.
func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	trimmed := strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}
