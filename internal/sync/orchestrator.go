package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// Orchestrator mirrors one mailbox into the local stores
type Orchestrator struct {
	Client   MailboxClient
	Messages MessageRepository
	Content  ContentStore
	Watches  WatchRegistry
	Blobs    BlobWriter
	Log      logrus.FieldLogger
}

func (o *Orchestrator) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

func (o *Orchestrator) validate(userID, email string, opts Options) error {
	if o.Client == nil {
		return ErrNoClient
	}
	if email == "" {
		return ErrNoEmail
	}
	if userID == "" {
		return ErrNoUserID
	}
	switch opts.Mode {
	case ModeWatch:
		if o.Watches == nil {
			return fmt.Errorf("watch registry: %w", ErrNoStore)
		}
		if opts.Topic == "" {
			return ErrNoTopic
		}
	case ModeFull, ModeIncremental, "":
		if o.Messages == nil || o.Content == nil || o.Blobs == nil {
			return ErrNoStore
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	return nil
}

// Sync runs one synchronization for the mailbox owned by userID.
//
// Stored messages are never re-fetched or updated; a run only adds messages
// whose id is not yet stored. Remote failures are returned as they happen and
// anything fetched before the failure is discarded.
func (o *Orchestrator) Sync(ctx context.Context, userID, email string, opts Options) (*Result, error) {
	if err := o.validate(userID, email, opts); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}

	res := &Result{RunID: uuid.NewString(), Mode: opts.Mode}
	log := o.logger().WithFields(logrus.Fields{
		"run_id":  res.RunID,
		"user_id": userID,
		"email":   email,
		"mode":    opts.Mode,
	})

	var (
		ids []string
		err error
	)
	switch opts.Mode {
	case ModeWatch:
		if err := o.registerWatch(ctx, log, userID, email, opts.Topic, res); err != nil {
			return nil, err
		}
		return res, nil
	case ModeIncremental:
		ids, err = o.addedSince(ctx, log, userID, opts.HistoryID, res)
	default:
		log.WithField("only", opts.Only).Info("listing messages")
		ids, err = o.Client.ListMessageIDs(ctx, opts.Only)
		if err != nil {
			err = fmt.Errorf("list messages: %w", err)
		}
	}
	if err != nil {
		log.WithError(err).Error("sync failed")
		return nil, err
	}

	res.Listed = len(ids)
	if len(ids) == 0 {
		log.Info("no messages to fetch")
		return res, nil
	}

	if opts.Force {
		if err := o.purge(ctx, log, userID); err != nil {
			return nil, err
		}
	}

	existing, err := o.Messages.ExistingMessageIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var unfetched []string
	for _, id := range ids {
		if !existing[id] {
			unfetched = append(unfetched, id)
		}
	}
	log.Infof("kept %d / %d messages", len(unfetched), len(ids))
	if len(unfetched) == 0 {
		return res, nil
	}

	msgs := make([]*mailbox.Message, 0, len(unfetched))
	for i, id := range unfetched {
		log.WithField("message_id", id).Debugf("%d. fetching message", i+1)
		raw, err := o.Client.GetMessage(ctx, id)
		if err != nil {
			log.WithError(err).WithField("message_id", id).Error("fetch message failed")
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		msgs = append(msgs, Normalize(raw, userID))
	}
	res.Fetched = len(msgs)

	dedup := &Deduplicator{Client: o.Client, Content: o.Content, Blobs: o.Blobs, Log: log}
	res.Downloaded, res.Reused, err = dedup.Resolve(ctx, msgs)
	if err != nil {
		log.WithError(err).Error("resolve attachments failed")
		return nil, err
	}

	res.Stored, err = o.Messages.InsertMessages(ctx, msgs)
	if err != nil {
		log.WithError(err).Error("save messages failed")
		return nil, err
	}
	log.WithField("stored", res.Stored).Info("saved messages")

	return res, nil
}

// addedSince resolves the starting cursor and returns ids of messages added
// after it. No stored message and no explicit cursor means there is nothing
// to update from.
func (o *Orchestrator) addedSince(ctx context.Context, log logrus.FieldLogger, userID string, cursor uint64, res *Result) ([]string, error) {
	if cursor == 0 {
		latest, err := o.Messages.LatestMessage(ctx, userID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			log.Info("nothing to update, run a full fetch")
			res.NothingToUpdate = true
			return nil, nil
		}
		cursor = latest.HistoryID
	}
	res.Cursor = cursor

	log.WithField("history_id", cursor).Info("fetching inbox updates")
	records, err := o.Client.ListHistory(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("list history since %d: %w", cursor, err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, r := range records {
		for _, id := range r.AddedMessageIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	log.Infof("found %d new messages since history id %d", len(ids), cursor)
	return ids, nil
}

func (o *Orchestrator) purge(ctx context.Context, log logrus.FieldLogger, userID string) error {
	msgs, err := o.Messages.DeleteMessagesByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	content, err := o.Content.DeleteContentByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("purge attachment content: %w", err)
	}
	log.WithFields(logrus.Fields{"messages": msgs, "attachments": content}).Info("purged stored mailbox for refetch")
	return nil
}

func (o *Orchestrator) registerWatch(ctx context.Context, log logrus.FieldLogger, userID, email, topic string, res *Result) error {
	log.WithField("topic", topic).Info("setting up gmail watch")
	wr, err := o.Client.Watch(ctx, topic)
	if err != nil {
		log.WithError(err).Error("watch registration failed")
		return fmt.Errorf("register watch: %w", err)
	}
	if wr == nil || wr.Expiration == 0 {
		log.Warn("watch response has no expiration, not saved")
		return nil
	}

	w := mailbox.Watch{
		UserID:     userID,
		Email:      email,
		Expiration: wr.Expiration,
		HistoryID:  wr.HistoryID,
		UpdatedAt:  time.Now(),
	}
	if err := o.Watches.SaveWatch(ctx, w); err != nil {
		return err
	}
	res.Watch = &w

	log.WithField("expiration", time.UnixMilli(w.Expiration).UTC().Format(time.RFC3339)).Info("saved gmail watch")
	return nil
}
