package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// DefaultUser addresses the mailbox of the authenticated account
const DefaultUser = "me"

const pageSize = 500

// ErrHistoryExpired is returned when the start cursor is older than the
// history Gmail retains; a full fetch is needed
var ErrHistoryExpired = errors.New("history id is no longer available")

// Adapter implements sync.MailboxClient for Gmail
type Adapter struct {
	svc  *gmail.Service
	user string
}

// New creates a Gmail adapter authenticated with tok. Refreshed tokens are
// obtained through cfg.
func New(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (*Adapter, error) {
	return NewWithOptions(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
}

// NewWithHTTPClient creates an adapter on an already authenticated client
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client) (*Adapter, error) {
	return NewWithOptions(ctx, option.WithHTTPClient(httpClient))
}

func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Adapter, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Adapter{svc: svc, user: DefaultUser}, nil
}

// ListMessageIDs lists every message id, restricted to mail from or to
// correspondent when it is set
func (a *Adapter) ListMessageIDs(ctx context.Context, correspondent string) ([]string, error) {
	call := a.svc.Users.Messages.List(a.user).MaxResults(pageSize)
	if correspondent != "" {
		call = call.Q(fmt.Sprintf("from:%s OR to:%s", correspondent, correspondent))
	}

	var ids []string
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

// ListHistory lists message-added history records after since
func (a *Adapter) ListHistory(ctx context.Context, since uint64) ([]mailbox.HistoryRecord, error) {
	call := a.svc.Users.History.List(a.user).
		StartHistoryId(since).
		HistoryTypes("messageAdded").
		MaxResults(pageSize)

	var records []mailbox.HistoryRecord
	err := call.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		for _, h := range page.History {
			rec := mailbox.HistoryRecord{ID: h.Id}
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					rec.AddedMessageIDs = append(rec.AddedMessageIDs, added.Message.Id)
				}
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %d", ErrHistoryExpired, since)
		}
		return nil, fmt.Errorf("failed to sync history: %w", err)
	}
	return records, nil
}

// GetMessage fetches a full message
func (a *Adapter) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	m, err := a.svc.Users.Messages.Get(a.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return m, nil
}

// GetAttachment returns the base64url encoded payload of an attachment
func (a *Adapter) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	body, err := a.svc.Users.Messages.Attachments.Get(a.user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}
	return body.Data, nil
}

// Watch subscribes the mailbox to push notifications on topic
func (a *Adapter) Watch(ctx context.Context, topic string) (*mailbox.WatchResult, error) {
	resp, err := a.svc.Users.Watch(a.user, &gmail.WatchRequest{TopicName: topic}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to setup watch: %w", err)
	}
	return &mailbox.WatchResult{HistoryID: resp.HistoryId, Expiration: resp.Expiration}, nil
}

// Profile returns the email address and current history id of the mailbox
func (a *Adapter) Profile(ctx context.Context) (string, uint64, error) {
	p, err := a.svc.Users.GetProfile(a.user).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to get profile: %w", err)
	}
	return p.EmailAddress, p.HistoryId, nil
}
