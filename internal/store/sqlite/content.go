package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// LookupContent returns the entry for a content-identifier token, or nil
func (s *Store) LookupContent(ctx context.Context, contentID string) (*mailbox.ContentEntry, error) {
	e := mailbox.ContentEntry{ContentID: contentID}
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT local_file, user_id FROM %s WHERE content_id = ?
	`, s.t.content), contentID).Scan(&e.LocalFile, &e.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up content %s: %w", contentID, err)
	}

	refs, err := s.contentRefs(ctx, contentID)
	if err != nil {
		return nil, err
	}
	e.Messages = refs
	return &e, nil
}

func (s *Store) contentRefs(ctx context.Context, contentID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_id FROM %s WHERE content_id = ? ORDER BY rowid
	`, s.t.refs), contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query content refs: %w", err)
	}
	defer rows.Close()

	refs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan content ref: %w", err)
		}
		refs = append(refs, id)
	}
	return refs, rows.Err()
}

// PutContent records a content entry if none exists for its token.
// When two runs race on the same token the first writer wins; both paths
// name the same digest file so either is valid.
func (s *Store) PutContent(ctx context.Context, e mailbox.ContentEntry) error {
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (content_id, local_file, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, s.t.content), e.ContentID, e.LocalFile, e.UserID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert content %s: %w", e.ContentID, err)
	}
	for _, m := range e.Messages {
		if err := s.AddContentRef(ctx, e.ContentID, m); err != nil {
			return err
		}
	}
	return nil
}

// AddContentRef adds messageID to the token's reference set. It is a set
// insert: repeating it has no effect.
func (s *Store) AddContentRef(ctx context.Context, contentID, messageID string) error {
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (content_id, message_id) VALUES (?, ?)
	`, s.t.refs), contentID, messageID)
	if err != nil {
		return fmt.Errorf("failed to add content ref %s -> %s: %w", contentID, messageID, err)
	}
	return nil
}

// DeleteContentByOwner removes the owner's content entries and their
// reference sets
func (s *Store) DeleteContentByOwner(ctx context.Context, userID string) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE content_id IN (SELECT content_id FROM %s WHERE user_id = ?)
	`, s.t.refs, s.t.content), userID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to delete content refs: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, s.t.content), userID)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to delete content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res.RowsAffected()
}
