package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tcr:idem:"

// RedisStore shares keys between API replicas. Entries expire after ttl.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key, requestHash string) (*Record, error) {
	rec := Record{Key: key, RequestHash: requestHash, Status: StatusInProgress}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+key, raw, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	if ok {
		return nil, nil
	}

	stored, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the caller may retry.
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(stored, &existing); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return check(&existing, requestHash)
}

func (s *RedisStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	stored, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return fmt.Errorf("idempotency query failed: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(stored, &rec); err != nil {
		return fmt.Errorf("decode idempotency record: %w", err)
	}

	rec.Status = StatusCompleted
	rec.ResponseStatus = status
	rec.ResponseBody = body
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

// Release only deletes the key while it is still in progress.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	stored, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("idempotency query failed: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(stored, &rec); err != nil {
		return fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Status != StatusInProgress {
		return nil
	}
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
