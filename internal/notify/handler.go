package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// Event is passed to the update callback after a notification is logged
type Event struct {
	UserID    string
	Email     string
	HistoryID uint64
}

// UpdateFunc is the follow-up action run after a notification is stored
type UpdateFunc func(ctx context.Context, ev Event) error

// WatchLookup resolves the mailbox owner of a notified email address
type WatchLookup interface {
	WatchByEmail(ctx context.Context, email string) (*mailbox.Watch, error)
}

// Log is the append-only notification log
type Log interface {
	InsertNotification(ctx context.Context, n mailbox.Notification) error
	DeleteNotification(ctx context.Context, id string) error
}

type Handler struct {
	watches  WatchLookup
	log      Log
	onUpdate UpdateFunc
	logger   logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewHandler creates a handler. onUpdate may be nil.
func NewHandler(watches WatchLookup, log Log, onUpdate UpdateFunc, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{watches: watches, log: log, onUpdate: onUpdate, logger: logger}
}

// Handle processes one webhook body. Malformed payloads and notifications
// for unknown addresses are logged and dropped without error.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	push, err := Parse(raw)
	if err != nil {
		h.logger.WithError(err).Debug("ignoring push payload")
		return nil
	}

	log := h.logger.WithFields(logrus.Fields{
		"notification_id": push.MessageID,
		"email":           push.Email,
		"history_id":      push.HistoryID,
	})

	watch, err := h.watches.WatchByEmail(ctx, push.Email)
	if err != nil {
		return fmt.Errorf("look up watch: %w", err)
	}
	if watch == nil {
		log.Error("no watch entry found for notified email")
		return nil
	}

	n := mailbox.Notification{
		ID:           push.MessageID,
		Email:        push.Email,
		HistoryID:    push.HistoryID,
		Subscription: push.Subscription,
		Created:      push.Published,
		UserID:       watch.UserID,
	}
	if n.Created.IsZero() {
		n.Created = time.Now()
	}

	// test notifications may be delivered any number of times
	if n.ID == mailbox.TestNotificationID {
		if err := h.log.DeleteNotification(ctx, n.ID); err != nil {
			return err
		}
	}

	if err := h.log.InsertNotification(ctx, n); err != nil {
		if errors.Is(err, mailbox.ErrDuplicate) {
			log.Info("notification already received")
			return nil
		}
		return err
	}
	log.WithField("published", n.Created.UTC().Format(time.RFC3339)).Info("saved gmail push notification")

	if h.onUpdate != nil {
		ev := Event{UserID: watch.UserID, Email: n.Email, HistoryID: n.HistoryID}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			log.Info("running update function")
			if err := h.onUpdate(context.WithoutCancel(ctx), ev); err != nil {
				log.WithError(err).Error("update function failed")
			}
		}()
	}
	return nil
}

// Wait blocks until every started update callback has returned
func (h *Handler) Wait() {
	h.wg.Wait()
}
