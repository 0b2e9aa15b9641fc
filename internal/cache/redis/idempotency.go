package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore with JSON values whose
// Redis TTL matches the record's expiry.
type IdempotencyStore struct {
	rdb  *redis.Client
	keys keyspace
}

// NewIdempotencyStore creates an IdempotencyStore backed by c.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.rdb, keys: c.keys}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	raw, err := s.rdb.Get(ctx, s.keys.of("idem", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get idempotency %s: %w", key, err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode idempotency %s: %w", key, err)
	}
	return &rec, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, rec domain.IdempotencyRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode idempotency %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.keys.of("idem", key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: save idempotency %s: %w", key, err)
	}
	return nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
