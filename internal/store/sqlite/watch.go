package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// SaveWatch stores the owner's watch, replacing any previous record whole
func (s *Store) SaveWatch(ctx context.Context, w mailbox.Watch) error {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (user_id, email, expiration, history_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.t.watch), w.UserID, w.Email, w.Expiration, w.HistoryID, w.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save watch for %s: %w", w.UserID, err)
	}
	return nil
}

// WatchByEmail returns the watch registered for email, or nil
func (s *Store) WatchByEmail(ctx context.Context, email string) (*mailbox.Watch, error) {
	var (
		w         mailbox.Watch
		updatedAt int64
	)
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT user_id, email, expiration, history_id, updated_at
		FROM %s
		WHERE email = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, s.t.watch), email).Scan(&w.UserID, &w.Email, &w.Expiration, &w.HistoryID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watch for %s: %w", email, err)
	}
	w.UpdatedAt = time.UnixMilli(updatedAt)
	return &w, nil
}

// InsertNotification appends a notification to the log. A second insert
// with the same id returns mailbox.ErrDuplicate.
func (s *Store) InsertNotification(ctx context.Context, n mailbox.Notification) error {
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (id, email, history_id, subscription, created, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.t.notifications), n.ID, n.Email, n.HistoryID, n.Subscription, n.Created.UnixMilli(), n.UserID)
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, mailbox.ErrDuplicate)
	}
	return nil
}

// DeleteNotification removes a notification by id
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.t.notifications), id); err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	return nil
}

// GetNotification loads a notification by id
func (s *Store) GetNotification(ctx context.Context, id string) (*mailbox.Notification, error) {
	var (
		n       mailbox.Notification
		created int64
	)
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, email, history_id, subscription, created, user_id FROM %s WHERE id = ?
	`, s.t.notifications), id).Scan(&n.ID, &n.Email, &n.HistoryID, &n.Subscription, &created, &n.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification %s: %w", id, err)
	}
	n.Created = time.UnixMilli(created)
	return &n, nil
}

// CountNotifications returns the number of logged notifications with id
func (s *Store) CountNotifications(ctx context.Context, id string) (int, error) {
	var c int
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, s.t.notifications), id).Scan(&c)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return c, nil
}
