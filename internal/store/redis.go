package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		normalized = "gpureserve:snapshot"
	}
	return &RedisStore{client: client, key: normalized}
}

func (s *RedisStore) Load(ctx context.Context) (*reservation.State, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("snapshot get: %w", err)
	}
	return Decode(raw)
}

func (s *RedisStore) Save(ctx context.Context, state *reservation.State) error {
	raw, err := Encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("snapshot set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
