// Package redisstore keeps attachment content entries in Redis. The
// reference set of each token is a Redis set so AddContentRef is a
// server-side SADD.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Martian-dev/gmail-mirror/internal/mailbox"
)

const (
	defaultPrefix = "ggs:"

	fieldLocalFile = "localFile"
	fieldUserID    = "userId"
)

type Store struct {
	client *redis.Client
	prefix string
}

func New(redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, prefix), nil
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) contentKey(contentID string) string {
	return fmt.Sprintf("%sattachment_content:%s", s.prefix, contentID)
}

func (s *Store) refsKey(contentID string) string {
	return fmt.Sprintf("%sattachment_content:%s:messages", s.prefix, contentID)
}

func (s *Store) ownerKey(userID string) string {
	return fmt.Sprintf("%sattachment_owner:%s", s.prefix, userID)
}

// LookupContent returns the entry for contentID, or nil when absent
func (s *Store) LookupContent(ctx context.Context, contentID string) (*mailbox.ContentEntry, error) {
	pipe := s.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.contentKey(contentID))
	refsCmd := pipe.SMembers(ctx, s.refsKey(contentID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lookup content %s: %w", contentID, err)
	}

	fields, _ := fieldsCmd.Result()
	if len(fields) == 0 {
		return nil, nil
	}
	refs, _ := refsCmd.Result()

	return &mailbox.ContentEntry{
		ContentID: contentID,
		LocalFile: fields[fieldLocalFile],
		UserID:    fields[fieldUserID],
		Messages:  refs,
	}, nil
}

// PutContent records the entry unless one already exists for the token
func (s *Store) PutContent(ctx context.Context, e mailbox.ContentEntry) error {
	key := s.contentKey(e.ContentID)

	created, err := s.client.HSetNX(ctx, key, fieldLocalFile, e.LocalFile).Result()
	if err != nil {
		return fmt.Errorf("put content %s: %w", e.ContentID, err)
	}

	pipe := s.client.Pipeline()
	if created {
		pipe.HSet(ctx, key, fieldUserID, e.UserID)
		pipe.SAdd(ctx, s.ownerKey(e.UserID), e.ContentID)
	}
	for _, m := range e.Messages {
		pipe.SAdd(ctx, s.refsKey(e.ContentID), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put content %s: %w", e.ContentID, err)
	}
	return nil
}

// AddContentRef adds messageID to the token's reference set
func (s *Store) AddContentRef(ctx context.Context, contentID, messageID string) error {
	if err := s.client.SAdd(ctx, s.refsKey(contentID), messageID).Err(); err != nil {
		return fmt.Errorf("add content ref %s -> %s: %w", contentID, messageID, err)
	}
	return nil
}

// DeleteContentByOwner removes every entry created for the owner
func (s *Store) DeleteContentByOwner(ctx context.Context, userID string) (int64, error) {
	ids, err := s.client.SMembers(ctx, s.ownerKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("list owner content: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, 2*len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.contentKey(id), s.refsKey(id))
	}
	keys = append(keys, s.ownerKey(userID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete owner content: %w", err)
	}
	return int64(len(ids)), nil
}
