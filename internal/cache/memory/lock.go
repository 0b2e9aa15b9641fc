// Package memory implements the cache-layer interfaces (locks, signal bus,
// rate limiting, idempotency) inside a single process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type lockEntry struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with a mutex-guarded map. Locks
// expire after their TTL so a crashed holder cannot wedge a key.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld if another live
// holder owns key. The returned unlock is idempotent and only releases the
// lock if it is still owned by this holder.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if cur, ok := lm.locks[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.NewString()
	lm.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if cur, ok := lm.locks[key]; ok && cur.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
