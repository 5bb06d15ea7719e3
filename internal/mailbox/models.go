package mailbox

import (
	"errors"
	"time"
)

// TestNotificationID is the reserved notification id used for manual test
// traffic. It is replaced on every delivery instead of being deduplicated.
const TestNotificationID = "TEST"

var (
	// ErrDuplicate is returned by stores when a record with the same identity exists
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when a point lookup has no result
	ErrNotFound = errors.New("record not found")
)

// Message is a normalized, immutable mirror of a remote mail message
type Message struct {
	ID        string   `json:"id"`
	UserID    string   `json:"userId"`
	ThreadID  string   `json:"threadId"`
	LabelIDs  []string `json:"labelIds"`
	Snippet   string   `json:"snippet"`
	HistoryID uint64   `json:"historyId"`
	Date      int64    `json:"date"` // internal date, unix millis
	FromName  string   `json:"fromName"`
	FromEmail string   `json:"fromEmail"`
	ToName    string   `json:"toName"`
	ToEmail   string   `json:"toEmail"`
	Parts     []*Part  `json:"parts"`
}

// Attachments returns the attachment stubs of the message in part order
func (m *Message) Attachments() []*Part {
	var out []*Part
	for _, p := range m.Parts {
		if p.IsAttachment() {
			out = append(out, p)
		}
	}
	return out
}

// Part is either an attachment stub or a decoded text fragment
type Part struct {
	UserID       string `json:"userId,omitempty"`
	MessageID    string `json:"messageId"`
	PartID       string `json:"partId"`
	MimeType     string `json:"mimeType"`
	Filename     string `json:"filename,omitempty"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
	LocalFile    string `json:"localFile,omitempty"`
	Body         string `json:"body,omitempty"`
}

// AttachmentResolved marks a part whose payload has been stored locally
const AttachmentResolved = "downloaded"

// IsAttachment reports whether the part is an attachment stub
func (p *Part) IsAttachment() bool {
	return p.ContentID != ""
}

// Resolved reports whether the attachment payload has a local copy
func (p *Part) Resolved() bool {
	return p.AttachmentID == AttachmentResolved
}

// ContentEntry maps a content-identifier token to its stored payload
type ContentEntry struct {
	ContentID string   `json:"contentId"`
	LocalFile string   `json:"localFile"`
	UserID    string   `json:"userId"`
	Messages  []string `json:"messages"`
}

// Watch is the active push subscription for a mailbox owner
type Watch struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Expiration int64     `json:"expiration"` // unix millis
	HistoryID  uint64    `json:"historyId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Notification is a received push notification
type Notification struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	HistoryID    uint64    `json:"historyId"`
	Subscription string    `json:"subscription"`
	Created      time.Time `json:"created"`
	UserID       string    `json:"userId"`
}

// HistoryRecord is one entry of the remote change history
type HistoryRecord struct {
	ID              uint64
	AddedMessageIDs []string
}

// WatchResult is the remote response to a watch registration
type WatchResult struct {
	HistoryID  uint64
	Expiration int64
}

// OutboxMessage represents a domain event waiting to be published
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}
