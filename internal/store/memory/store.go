// Package memory implements the marketplace stores in process memory. Units
// of work are optimistic: reads see committed state overlaid with the
// transaction's own writes, and commit re-validates every written listing's
// version under a short critical section. No lock is held while the caller's
// function runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Store implements domain.MarketStore.
type Store struct {
	mu          sync.RWMutex
	listings    map[string]domain.Listing
	escrows     map[string]domain.EscrowRecord
	settlements map[string]domain.SettlementResult
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		listings:    make(map[string]domain.Listing),
		escrows:     make(map[string]domain.EscrowRecord),
		settlements: make(map[string]domain.SettlementResult),
	}
}

// WithTransaction implements domain.TxManager.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.MarketTx) error) error {
	tx := newTxn(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, l := range tx.listings {
		base := tx.base[id]
		cur, exists := s.listings[id]
		switch {
		case base == absent && exists:
			return fmt.Errorf("memory: commit listing %s: %w", id, domain.ErrAlreadyListed)
		case base != absent && (!exists || cur.Version != base):
			return fmt.Errorf("memory: commit listing %s: concurrent update: %w", id, domain.ErrInvalidState)
		}
		if !l.State.Terminal() {
			for otherID, other := range s.listings {
				if otherID != id && other.AssetRef == l.AssetRef && !other.State.Terminal() {
					if staged, ok := tx.listings[otherID]; ok && staged.State.Terminal() {
						continue
					}
					return fmt.Errorf("memory: commit listing %s: asset %s: %w", id, l.AssetRef, domain.ErrAlreadyListed)
				}
			}
		}
	}
	for id, rec := range tx.escrows {
		if rec == nil {
			if _, ok := s.escrows[id]; !ok {
				return fmt.Errorf("memory: commit escrow %s: %w", id, domain.ErrNoEscrow)
			}
		}
	}

	for id, l := range tx.listings {
		if tx.base[id] == absent {
			l.Version = 1
		} else {
			l.Version = tx.base[id] + 1
		}
		s.listings[id] = l
	}
	for id, rec := range tx.escrows {
		if rec == nil {
			delete(s.escrows, id)
		} else {
			s.escrows[id] = *rec
		}
	}
	for _, res := range tx.settlements {
		s.settlements[res.ListingID] = res
	}
	return nil
}

// GetListing implements domain.ListingReader.
func (s *Store) GetListing(_ context.Context, id string) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("memory: listing %s: %w", id, domain.ErrNotFound)
	}
	return l.Clone(), nil
}

// ListListings implements domain.ListingReader. Results are ordered newest
// first.
func (s *Store) ListListings(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	s.mu.RLock()
	out := make([]domain.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if f.State != "" && l.State != f.State {
			continue
		}
		if f.Seller != "" && l.Seller != f.Seller {
			continue
		}
		if f.AssetRef != "" && l.AssetRef != f.AssetRef {
			continue
		}
		out = append(out, l.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Listing{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetSettlement implements domain.ListingReader.
func (s *Store) GetSettlement(_ context.Context, listingID string) (domain.SettlementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.settlements[listingID]
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("memory: settlement %s: %w", listingID, domain.ErrNotFound)
	}
	return res, nil
}

// GetEscrow implements domain.ListingReader.
func (s *Store) GetEscrow(_ context.Context, listingID string) (domain.EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.escrows[listingID]
	if !ok {
		return domain.EscrowRecord{}, fmt.Errorf("memory: escrow %s: %w", listingID, domain.ErrNoEscrow)
	}
	return rec, nil
}

// TerminalListingsBefore implements domain.ArchiveSource.
func (s *Store) TerminalListingsBefore(_ context.Context, before time.Time) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Listing
	for _, l := range s.listings {
		if l.State.Terminal() && l.UpdatedAt.Before(before) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// SettlementsBefore implements domain.ArchiveSource.
func (s *Store) SettlementsBefore(_ context.Context, before time.Time) ([]domain.SettlementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SettlementResult
	for _, res := range s.settlements {
		if res.SettledAt.Before(before) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

// PurgeBefore implements domain.ArchiveSource.
func (s *Store) PurgeBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, l := range s.listings {
		if l.State.Terminal() && l.UpdatedAt.Before(before) {
			delete(s.listings, id)
			delete(s.settlements, id)
			n++
		}
	}
	return n, nil
}

var _ domain.MarketStore = (*Store)(nil)
