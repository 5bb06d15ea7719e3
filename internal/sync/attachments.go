package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// Deduplicator resolves attachment stubs to locally stored payloads,
// downloading each content-identifier token at most once per store.
//
// Lookup and download are not atomic: two runs that see an unknown token at
// the same time both download it. Both write the same digest-named file and
// the reference set converges through AddContentRef.
type Deduplicator struct {
	Client  AttachmentFetcher
	Content ContentStore
	Blobs   BlobWriter
	Log     logrus.FieldLogger
}

// Resolve stores the attachments of msgs and returns how many tokens were
// downloaded and how many were already present
func (d *Deduplicator) Resolve(ctx context.Context, msgs []*mailbox.Message) (downloaded, reused int, err error) {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	// token -> parts carrying it, tokens in first-seen order
	var order []string
	byToken := make(map[string][]*mailbox.Part)
	for _, m := range msgs {
		for _, p := range m.Attachments() {
			if _, seen := byToken[p.ContentID]; !seen {
				order = append(order, p.ContentID)
			}
			byToken[p.ContentID] = append(byToken[p.ContentID], p)
		}
	}

	for _, token := range order {
		parts := byToken[token]
		first := parts[0]
		plog := log.WithFields(logrus.Fields{"content_id": token, "message_id": first.MessageID})

		var localFile string
		existing, err := d.Content.LookupContent(ctx, token)
		if err != nil {
			return downloaded, reused, err
		}

		if existing != nil {
			localFile = existing.LocalFile
			reused++
			plog.Debug("attachment content already stored")
		} else {
			data, err := d.Client.GetAttachment(ctx, first.MessageID, first.AttachmentID)
			if err != nil {
				return downloaded, reused, fmt.Errorf("get attachment %s of message %s: %w", first.AttachmentID, first.MessageID, err)
			}
			downloaded++

			raw, err := decodeBase64(data)
			if err != nil {
				return downloaded, reused, fmt.Errorf("decode attachment %s of message %s: %w", first.AttachmentID, first.MessageID, err)
			}
			if len(raw) == 0 {
				plog.Warn("attachment has no data, skipping")
				continue
			}

			localFile, err = d.Blobs.Write(first.Filename, raw)
			if err != nil {
				return downloaded, reused, err
			}
			plog.WithFields(logrus.Fields{"filename": first.Filename, "bytes": len(raw), "local_file": localFile}).
				Info("saved attachment")

			if err := d.Content.PutContent(ctx, mailbox.ContentEntry{
				ContentID: token,
				LocalFile: localFile,
				UserID:    first.UserID,
			}); err != nil {
				return downloaded, reused, err
			}
		}

		for _, p := range parts {
			if err := d.Content.AddContentRef(ctx, token, p.MessageID); err != nil {
				return downloaded, reused, err
			}
			p.LocalFile = localFile
			p.AttachmentID = mailbox.AttachmentResolved
		}
	}

	log.WithFields(logrus.Fields{
		"downloaded": downloaded,
		"unique":     len(order),
		"identical":  reused,
	}).Info("resolved attachments")

	return downloaded, reused, nil
}
