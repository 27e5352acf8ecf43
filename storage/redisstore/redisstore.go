// Package redisstore keeps the latest rate snapshot under a single Redis key.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultKey = "currencycalc:rates:latest"

type Store struct {
	client redis.Cmdable // redis client or cluster
	key    string        // key holding the msgpack encoded snapshot
}

var _ storage.RateStore = (*Store)(nil)

// New wraps an existing client. An empty key falls back to DefaultKey.
func New(client redis.Cmdable, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// Save implements storage.RateStore.
func (s *Store) Save(ctx context.Context, snapshot model.RateSnapshot) error {
	data, err := msgpack.Marshal(&snapshot)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// LoadLatest implements storage.RateStore.
func (s *Store) LoadLatest(ctx context.Context) (*model.RateSnapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		log.Debug().Str("key", s.key).Msg("no snapshot in redis")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var snapshot model.RateSnapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}
