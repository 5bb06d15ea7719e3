package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "mirror.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "postgres", Path: filepath.Join(t.TempDir(), "x.db")})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestInsertMessagesIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := &mailbox.Message{ID: "m1", UserID: "u1", Snippet: "first", HistoryID: 10,
		Parts: []*mailbox.Part{{MessageID: "m1", MimeType: "text/plain", Body: "hello", Size: 5}}}
	n, err := s.InsertMessages(ctx, []*mailbox.Message{first})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}

	changed := &mailbox.Message{ID: "m1", UserID: "u1", Snippet: "changed", HistoryID: 99}
	second := &mailbox.Message{ID: "m2", UserID: "u1", HistoryID: 11}
	n, err = s.InsertMessages(ctx, []*mailbox.Message{changed, second})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}

	got, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Snippet != "first" || got.HistoryID != 10 {
		t.Fatalf("stored message was modified: %+v", got)
	}
	if len(got.Parts) != 1 || got.Parts[0].Body != "hello" {
		t.Fatalf("parts = %+v", got.Parts)
	}

	existing, err := s.ExistingMessageIDs(ctx, []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("existing: %v", err)
	}
	if !existing["m1"] || !existing["m2"] || existing["m3"] {
		t.Fatalf("existing = %v", existing)
	}

	if _, err := s.GetMessage(ctx, "missing"); !errors.Is(err, mailbox.ErrNotFound) {
		t.Fatalf("get missing: err = %v", err)
	}
}

func TestInsertMessagesEnqueuesOutboxEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	msgs := []*mailbox.Message{{ID: "a", UserID: "u1"}, {ID: "b", UserID: "u1"}}
	if _, err := s.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// duplicates must not enqueue again
	if _, err := s.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out, err := s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("outbox has %d entries, want 2", len(out))
	}
	if out[0].Subject != "mailbox.u1.message.stored" || out[0].MsgID != "message.stored|a" {
		t.Fatalf("unexpected outbox entry %+v", out[0])
	}

	if err := s.MarkPublished(ctx, out[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := s.MarkOutboxRetry(ctx, out[1].ID, time.Hour); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	out, err = s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("outbox still has %d due entries", len(out))
	}
}

func TestLatestMessageUsesHighestID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	latest, err := s.LatestMessage(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("latest = %+v, want nil", latest)
	}

	msgs := []*mailbox.Message{
		{ID: "18a", UserID: "u1", HistoryID: 5},
		{ID: "18f", UserID: "u1", HistoryID: 7},
		{ID: "fff", UserID: "u2", HistoryID: 9},
		{ID: "9b", UserID: "u1", HistoryID: 3},
	}
	if _, err := s.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	latest, err = s.LatestMessage(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != "18f" || latest.HistoryID != 7 {
		t.Fatalf("latest = %+v, want 18f", latest)
	}
}

func TestContentRefsAreASet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	got, err := s.LookupContent(ctx, "ci-A")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("lookup = %+v, want nil", got)
	}

	if err := s.PutContent(ctx, mailbox.ContentEntry{ContentID: "ci-A", LocalFile: "/tmp/a.pdf", UserID: "u1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// a racing writer must not replace the first path
	if err := s.PutContent(ctx, mailbox.ContentEntry{ContentID: "ci-A", LocalFile: "/tmp/b.pdf", UserID: "u1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	for _, id := range []string{"m1", "m2", "m1", "m2"} {
		if err := s.AddContentRef(ctx, "ci-A", id); err != nil {
			t.Fatalf("add ref: %v", err)
		}
	}

	got, err = s.LookupContent(ctx, "ci-A")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := &mailbox.ContentEntry{ContentID: "ci-A", LocalFile: "/tmp/a.pdf", UserID: "u1", Messages: []string{"m1", "m2"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lookup = %+v, want %+v", got, want)
	}
}

func TestDeleteByOwnerKeepsOtherOwners(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.InsertMessages(ctx, []*mailbox.Message{{ID: "m1", UserID: "u1"}, {ID: "m2", UserID: "u2"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for _, e := range []mailbox.ContentEntry{
		{ContentID: "ci-1", LocalFile: "/tmp/1", UserID: "u1", Messages: []string{"m1"}},
		{ContentID: "ci-2", LocalFile: "/tmp/2", UserID: "u2", Messages: []string{"m2"}},
	} {
		if err := s.PutContent(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if n, err := s.DeleteMessagesByOwner(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("delete messages = %d, %v", n, err)
	}
	if n, err := s.DeleteContentByOwner(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("delete content = %d, %v", n, err)
	}

	if c, _ := s.LookupContent(ctx, "ci-1"); c != nil {
		t.Fatalf("ci-1 survived purge: %+v", c)
	}
	c, err := s.LookupContent(ctx, "ci-2")
	if err != nil || c == nil || len(c.Messages) != 1 {
		t.Fatalf("ci-2 = %+v, %v", c, err)
	}
	if n, _ := s.CountMessages(ctx, "u2"); n != 1 {
		t.Fatalf("u2 has %d messages, want 1", n)
	}
}

func TestSaveWatchReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.SaveWatch(ctx, mailbox.Watch{UserID: "u1", Email: "old@example.com", Expiration: 1000, HistoryID: 4}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveWatch(ctx, mailbox.Watch{UserID: "u1", Email: "new@example.com", Expiration: 2000}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if w, err := s.WatchByEmail(ctx, "old@example.com"); err != nil || w != nil {
		t.Fatalf("old email still resolves: %+v, %v", w, err)
	}
	w, err := s.WatchByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("watch by email: %v", err)
	}
	if w == nil || w.UserID != "u1" || w.Expiration != 2000 || w.HistoryID != 0 {
		t.Fatalf("watch = %+v", w)
	}
}

func TestInsertNotificationRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := mailbox.Notification{ID: "n1", Email: "a@example.com", HistoryID: 12, Created: time.UnixMilli(1700000000000), UserID: "u1"}
	if err := s.InsertNotification(ctx, n); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertNotification(ctx, n); !errors.Is(err, mailbox.ErrDuplicate) {
		t.Fatalf("second insert err = %v, want ErrDuplicate", err)
	}

	got, err := s.GetNotification(ctx, "n1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HistoryID != 12 || got.UserID != "u1" || !got.Created.Equal(n.Created) {
		t.Fatalf("notification = %+v", got)
	}

	if err := s.DeleteNotification(ctx, "n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetNotification(ctx, "n1"); !errors.Is(err, mailbox.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestCustomPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "p.db"), Prefix: "mirror_"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.InsertMessages(ctx, []*mailbox.Message{{ID: "m1", UserID: "u1"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM mirror_messages`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("mirror_messages count = %d, %v", n, err)
	}
}
