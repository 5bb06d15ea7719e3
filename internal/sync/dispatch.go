package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// Outbox is the queue of stored-message events
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]mailbox.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Publisher delivers an event with a deduplication id
type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Dispatcher continuously moves outbox entries to the publisher
type Dispatcher struct {
	Outbox    Outbox
	Publisher Publisher
	Log       logrus.FieldLogger

	BatchSize int
	Idle      time.Duration
	Backoff   time.Duration
}

func (d *Dispatcher) defaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.Idle <= 0 {
		d.Idle = 500 * time.Millisecond
	}
	if d.Backoff <= 0 {
		d.Backoff = 10 * time.Second
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
}

// Run dispatches until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	d.defaults()
	for {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			d.Log.WithError(err).Error("error dequeuing outbox")
		}

		wait := time.Duration(0)
		switch {
		case err != nil:
			wait = time.Second
		case n == 0:
			wait = d.Idle
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch and returns how many entries it handled
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	d.defaults()

	messages, err := d.Outbox.DequeueOutbox(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		log := d.Log.WithFields(logrus.Fields{"outbox_id": msg.ID, "subject": msg.Subject})
		if err := d.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
			log.WithError(err).Warn("error publishing message")
			if err := d.Outbox.MarkOutboxRetry(ctx, msg.ID, d.Backoff); err != nil {
				log.WithError(err).Error("error scheduling retry")
			}
			continue
		}
		if err := d.Outbox.MarkPublished(ctx, msg.ID); err != nil {
			log.WithError(err).Error("error marking message as published")
		}
	}
	return len(messages), nil
}
