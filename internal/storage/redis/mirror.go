package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorValue = "1"

// MirrorStorage replicates the guard mirror flag into redis so an edge
// process that cannot see this process's memory can read it.
type MirrorStorage struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewMirrorStorage(client *redis.Client, key string, ttl time.Duration) *MirrorStorage {
	return &MirrorStorage{client: client, key: key, ttl: ttl}
}

func (s *MirrorStorage) Publish(ctx context.Context) error {
	if err := s.client.Set(ctx, s.key, mirrorValue, s.ttl).Err(); err != nil {
		return fmt.Errorf("publish mirror: %w", err)
	}
	return nil
}

func (s *MirrorStorage) Revoke(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("revoke mirror: %w", err)
	}
	return nil
}

// Present проверяет наличие флага в Redis.
func (s *MirrorStorage) Present(ctx context.Context) (bool, error) {
	result, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return result == mirrorValue, nil
}
