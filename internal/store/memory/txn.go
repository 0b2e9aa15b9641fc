package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// absent marks a listing that did not exist when the transaction first
// looked at it.
const absent int64 = -1

// txn stages writes until Store.commit. It is used by a single goroutine.
type txn struct {
	store       *Store
	base        map[string]int64 // listing id -> committed version first observed
	listings    map[string]domain.Listing
	escrows     map[string]*domain.EscrowRecord // nil value = staged delete
	settlements []domain.SettlementResult
}

func newTxn(s *Store) *txn {
	return &txn{
		store:    s,
		base:     make(map[string]int64),
		listings: make(map[string]domain.Listing),
		escrows:  make(map[string]*domain.EscrowRecord),
	}
}

func (t *txn) GetListing(_ context.Context, id string) (domain.Listing, error) {
	if l, ok := t.listings[id]; ok {
		return l.Clone(), nil
	}

	t.store.mu.RLock()
	l, ok := t.store.listings[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.Listing{}, fmt.Errorf("memory: listing %s: %w", id, domain.ErrNotFound)
	}
	if _, seen := t.base[id]; !seen {
		t.base[id] = l.Version
	}
	return l.Clone(), nil
}

func (t *txn) ActiveListingForAsset(ctx context.Context, assetRef string) (domain.Listing, error) {
	for _, l := range t.listings {
		if l.AssetRef == assetRef && !l.State.Terminal() {
			return l.Clone(), nil
		}
	}

	var found string
	t.store.mu.RLock()
	for id, l := range t.store.listings {
		if l.AssetRef != assetRef || l.State.Terminal() {
			continue
		}
		if _, staged := t.listings[id]; staged {
			continue
		}
		found = id
		break
	}
	t.store.mu.RUnlock()

	if found == "" {
		return domain.Listing{}, fmt.Errorf("memory: active listing for %s: %w", assetRef, domain.ErrNotFound)
	}
	return t.GetListing(ctx, found)
}

func (t *txn) InsertListing(ctx context.Context, l domain.Listing) error {
	if existing, err := t.ActiveListingForAsset(ctx, l.AssetRef); err == nil {
		return fmt.Errorf("memory: insert listing: asset %s held by %s: %w", l.AssetRef, existing.ID, domain.ErrAlreadyListed)
	}
	if _, err := t.GetListing(ctx, l.ID); err == nil {
		return fmt.Errorf("memory: insert listing: duplicate id %s: %w", l.ID, domain.ErrAlreadyListed)
	}
	t.base[l.ID] = absent
	t.listings[l.ID] = l.Clone()
	return nil
}

func (t *txn) UpdateListing(ctx context.Context, l domain.Listing, expect domain.ListingState) error {
	cur, err := t.GetListing(ctx, l.ID)
	if err != nil {
		return err
	}
	if cur.State != expect {
		return fmt.Errorf("memory: update listing %s: state is %s, want %s: %w", l.ID, cur.State, expect, domain.ErrInvalidState)
	}
	t.listings[l.ID] = l.Clone()
	return nil
}

func (t *txn) PutEscrow(_ context.Context, rec domain.EscrowRecord) error {
	r := rec
	t.escrows[rec.ListingID] = &r
	return nil
}

func (t *txn) GetEscrow(_ context.Context, listingID string) (domain.EscrowRecord, error) {
	if rec, ok := t.escrows[listingID]; ok {
		if rec == nil {
			return domain.EscrowRecord{}, fmt.Errorf("memory: escrow %s: %w", listingID, domain.ErrNoEscrow)
		}
		return *rec, nil
	}

	t.store.mu.RLock()
	rec, ok := t.store.escrows[listingID]
	t.store.mu.RUnlock()
	if !ok {
		return domain.EscrowRecord{}, fmt.Errorf("memory: escrow %s: %w", listingID, domain.ErrNoEscrow)
	}
	return rec, nil
}

func (t *txn) DeleteEscrow(ctx context.Context, listingID string) error {
	if _, err := t.GetEscrow(ctx, listingID); err != nil {
		return err
	}
	_, stagedPut := t.escrows[listingID]
	t.store.mu.RLock()
	_, committed := t.store.escrows[listingID]
	t.store.mu.RUnlock()

	if stagedPut && !committed {
		delete(t.escrows, listingID)
		return nil
	}
	t.escrows[listingID] = nil
	return nil
}

func (t *txn) InsertSettlement(_ context.Context, res domain.SettlementResult) error {
	t.settlements = append(t.settlements, res)
	return nil
}

var _ domain.MarketTx = (*txn)(nil)
