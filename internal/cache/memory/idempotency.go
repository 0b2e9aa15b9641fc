package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore in memory.
type IdempotencyStore struct {
	mu   sync.RWMutex
	data map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyStore returns an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		data: make(map[string]domain.IdempotencyRecord),
		now:  time.Now,
	}
}

func (m *IdempotencyStore) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || m.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *IdempotencyStore) Save(_ context.Context, key string, rec domain.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = rec
	return nil
}

// DeleteExpired drops records past their expiry.
func (m *IdempotencyStore) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, rec := range m.data {
		if now.After(rec.ExpiresAt) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
