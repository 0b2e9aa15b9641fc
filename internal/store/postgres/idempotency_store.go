package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore on the
// idempotency_records table. Expired rows are ignored on read and replaced
// on write.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore creates an IdempotencyStore on pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT status_code, body, created_at, expires_at FROM idempotency_records
		 WHERE key = $1 AND expires_at > $2`, key, s.now(),
	).Scan(&rec.StatusCode, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get idempotency %s: %w", key, err)
	}
	return &rec, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, rec domain.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_records (key, status_code, body, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
		     status_code = EXCLUDED.status_code, body = EXCLUDED.body,
		     created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		key, rec.StatusCode, rec.Body, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save idempotency %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes records past their expiry and returns how many went.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired idempotency: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
