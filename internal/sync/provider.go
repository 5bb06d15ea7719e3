package sync

import (
	"context"
	"errors"

	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// Mode selects what a sync run does
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeWatch       Mode = "watch"
)

// Contract violations reported before any remote call is made
var (
	ErrNoClient    = errors.New("mailbox client is required")
	ErrNoStore     = errors.New("store handle is required")
	ErrNoEmail     = errors.New("email of the mailbox owner is required")
	ErrNoUserID    = errors.New("user id of the mailbox owner is required")
	ErrNoTopic     = errors.New("pub/sub topic is required to register a watch")
	ErrUnknownMode = errors.New("unknown sync mode")
)

// MailboxClient is the remote mailbox as seen by the sync core
type MailboxClient interface {
	// ListMessageIDs lists every message id, only those sent to or received
	// from correspondent when it is not empty
	ListMessageIDs(ctx context.Context, correspondent string) ([]string, error)

	// ListHistory lists change history strictly after the cursor
	ListHistory(ctx context.Context, since uint64) ([]mailbox.HistoryRecord, error)

	GetMessage(ctx context.Context, id string) (*gmail.Message, error)

	// GetAttachment returns the base64url encoded attachment payload
	GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error)

	Watch(ctx context.Context, topic string) (*mailbox.WatchResult, error)
}

// AttachmentFetcher is the part of MailboxClient the deduplicator needs
type AttachmentFetcher interface {
	GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error)
}

// MessageRepository persists normalized messages
type MessageRepository interface {
	ExistingMessageIDs(ctx context.Context, ids []string) (map[string]bool, error)
	LatestMessage(ctx context.Context, userID string) (*mailbox.Message, error)
	InsertMessages(ctx context.Context, msgs []*mailbox.Message) (int, error)
	DeleteMessagesByOwner(ctx context.Context, userID string) (int64, error)
}

// ContentStore maps content-identifier tokens to stored attachment payloads
type ContentStore interface {
	LookupContent(ctx context.Context, contentID string) (*mailbox.ContentEntry, error)
	PutContent(ctx context.Context, e mailbox.ContentEntry) error
	AddContentRef(ctx context.Context, contentID, messageID string) error
	DeleteContentByOwner(ctx context.Context, userID string) (int64, error)
}

// WatchRegistry stores one watch per mailbox owner
type WatchRegistry interface {
	SaveWatch(ctx context.Context, w mailbox.Watch) error
}

// BlobWriter writes decoded attachment bytes and returns the local path
type BlobWriter interface {
	Write(originalName string, data []byte) (string, error)
}

// Options for a single sync run
type Options struct {
	Mode Mode

	// Force purges the owner's messages and content entries before
	// computing which messages are new
	Force bool

	// Only restricts a full sync to one correspondent address
	Only string

	// HistoryID overrides the incremental starting cursor
	HistoryID uint64

	// Topic is the Pub/Sub topic for watch registration
	Topic string
}

// Result summarizes a sync run
type Result struct {
	RunID           string
	Mode            Mode
	Cursor          uint64 // incremental start cursor
	Listed          int
	Fetched         int
	Stored          int
	Downloaded      int
	Reused          int
	NothingToUpdate bool
	Watch           *mailbox.Watch
}
