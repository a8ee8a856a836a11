package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

const redisKeyPrefix = "asyncupload:ledger:"

// RedisStore keeps each ledger as a JSON string under its own key. Update uses
// WATCH/MULTI and retries when another client changed the key in between.
// Every write refreshes the key's TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger logging.Logger
}

// OpenRedisStore connects to the redis:// URL and pings the server.
func OpenRedisStore(ctx context.Context, url string, ttl time.Duration, logger logging.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStore(client, ttl, logger), nil
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, logger logging.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "sessions", "backend", "redis"),
	}
}

func redisKey(sid string) string {
	return redisKeyPrefix + sid
}

func (s *RedisStore) Load(ctx context.Context, sid string) ([]string, error) {
	raw, err := s.client.Get(ctx, redisKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodePaths(raw)
}

func (s *RedisStore) Update(ctx context.Context, sid string, fn func([]string) ([]string, error)) error {
	key := redisKey(sid)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get: %w", err)
		}

		cur, err := decodePaths(raw)
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		var encoded []byte
		if len(next) > 0 {
			if encoded, err = encodePaths(next); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug(ctx, "ledger update conflict, retrying", "session_id", sid, "attempt", attempt+1)
			continue
		}
		return err
	}

	return fmt.Errorf("session %s: %w", sid, common.ErrVersionConflict)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
