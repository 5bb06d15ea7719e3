package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

// maxInArgs keeps IN lists below SQLite's host parameter limit
const maxInArgs = 500

// MessageStoredEvent is the outbox event type emitted for new messages
const MessageStoredEvent = "message.stored"

// ExistingMessageIDs reports which of ids already have a stored message
func (s *Store) ExistingMessageIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += maxInArgs {
		end := min(start+maxInArgs, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.DB.QueryContext(ctx,
			fmt.Sprintf(`SELECT id FROM %s WHERE id IN (%s)`, s.t.messages, placeholders(len(chunk))),
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan message id: %w", err)
			}
			found[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read message ids: %w", err)
		}
		rows.Close()
	}
	return found, nil
}

// LatestMessage returns the stored message with the highest id for the
// owner, or nil when the owner has no messages.
func (s *Store) LatestMessage(ctx context.Context, userID string) (*mailbox.Message, error) {
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, thread_id, labels_json, snippet, history_id, msg_date,
		       from_name, from_email, to_name, to_email, parts_json
		FROM %s
		WHERE user_id = ?
		ORDER BY LENGTH(id) DESC, id DESC
		LIMIT 1
	`, s.t.messages), userID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest message: %w", err)
	}
	return m, nil
}

// GetMessage loads a stored message by id
func (s *Store) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, thread_id, labels_json, snippet, history_id, msg_date,
		       from_name, from_email, to_name, to_email, parts_json
		FROM %s
		WHERE id = ?
	`, s.t.messages), id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return m, nil
}

func scanMessage(row *sql.Row) (*mailbox.Message, error) {
	var (
		m          mailbox.Message
		labelsJSON string
		partsJSON  string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.ThreadID, &labelsJSON, &m.Snippet, &m.HistoryID, &m.Date,
		&m.FromName, &m.FromEmail, &m.ToName, &m.ToEmail, &partsJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labelsJSON), &m.LabelIDs); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJSON), &m.Parts); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	return &m, nil
}

// InsertMessages stores new messages and returns how many were inserted.
// Messages whose id already exists are left untouched. Each new message
// enqueues a message.stored outbox event in the same transaction.
func (s *Store) InsertMessages(ctx context.Context, msgs []*mailbox.Message) (int, error) {
	inserted := 0
	for _, m := range msgs {
		ok, err := s.insertMessage(ctx, m)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Store) insertMessage(ctx context.Context, m *mailbox.Message) (bool, error) {
	labelsJSON, err := json.Marshal(nonNil(m.LabelIDs))
	if err != nil {
		return false, fmt.Errorf("encode labels: %w", err)
	}
	parts := m.Parts
	if parts == nil {
		parts = []*mailbox.Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return false, fmt.Errorf("encode parts: %w", err)
	}

	now := time.Now().Unix()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s
		(id, user_id, thread_id, labels_json, snippet, history_id, msg_date,
		 from_name, from_email, to_name, to_email, parts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.t.messages), m.ID, m.UserID, m.ThreadID, string(labelsJSON), m.Snippet, m.HistoryID, m.Date,
		m.FromName, m.FromEmail, m.ToName, m.ToEmail, string(partsJSON), now)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	payload, err := json.Marshal(map[string]any{
		"event":      MessageStoredEvent,
		"ts":         now,
		"user_id":    m.UserID,
		"message_id": m.ID,
		"thread_id":  m.ThreadID,
		"history_id": m.HistoryID,
		"from_email": m.FromEmail,
		"to_email":   m.ToEmail,
		"snippet":    m.Snippet,
	})
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("encode event: %w", err)
	}

	if err := s.enqueueTx(ctx, tx, fmt.Sprintf("mailbox.%s.%s", m.UserID, MessageStoredEvent),
		MessageStoredEvent, payload, fmt.Sprintf("%s|%s", MessageStoredEvent, m.ID)); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// DeleteMessagesByOwner removes every stored message of the owner
func (s *Store) DeleteMessagesByOwner(ctx context.Context, userID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, s.t.messages), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.RowsAffected()
}

// CountMessages returns the number of stored messages of the owner
func (s *Store) CountMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = ?`, s.t.messages), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
