package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/authsession/internal/storage"
)

const sessionKeyPrefix = "session:"

type SessionStorage struct {
	client *redis.Client
}

func NewSessionStorage(client *redis.Client) *SessionStorage {
	return &SessionStorage{client: client}
}

func (s *SessionStorage) LoadRecord(ctx context.Context, namespace string) ([]byte, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+namespace).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session record: %w", err)
	}
	return data, nil
}

// SaveRecord stores the record without expiry; its lifetime is governed by
// the session, not by redis.
func (s *SessionStorage) SaveRecord(ctx context.Context, namespace string, data []byte) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+namespace, data, 0).Err(); err != nil {
		return fmt.Errorf("set session record: %w", err)
	}
	return nil
}

func (s *SessionStorage) DeleteRecord(ctx context.Context, namespace string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+namespace).Err(); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}
