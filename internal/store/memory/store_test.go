package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func activeListing(id, asset string) domain.Listing {
	return domain.Listing{
		ID:        id,
		AssetRef:  asset,
		Seller:    "alice",
		Price:     domain.Price{Amount: 100, Currency: "USDC"},
		State:     domain.ListingStateActive,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func seed(t *testing.T, s *Store, ls ...domain.Listing) {
	t.Helper()
	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		for _, l := range ls {
			if err := tx.InsertListing(ctx, l); err != nil {
				return err
			}
			if err := tx.PutEscrow(ctx, domain.EscrowRecord{ListingID: l.ID, AssetRef: l.AssetRef, Owner: l.Seller, Amount: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestInsertRejectsDoubleListing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, activeListing("l1", "nft:1"))

	err := s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		return tx.InsertListing(ctx, activeListing("l2", "nft:1"))
	})
	require.ErrorIs(t, err, domain.ErrAlreadyListed)

	// Once the first listing is terminal the asset can be listed again.
	err = s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		l, err := tx.GetListing(ctx, "l1")
		if err != nil {
			return err
		}
		l.State = domain.ListingStateCancelled
		return tx.UpdateListing(ctx, l, domain.ListingStateActive)
	})
	require.NoError(t, err)

	seed(t, s, activeListing("l2", "nft:1"))
	got, err := s.GetListing(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestRollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, activeListing("l1", "nft:1"))

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		l, _ := tx.GetListing(ctx, "l1")
		l.State = domain.ListingStateSold
		if err := tx.UpdateListing(ctx, l, domain.ListingStateActive); err != nil {
			return err
		}
		if err := tx.DeleteEscrow(ctx, "l1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetListing(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateActive, got.State)
	_, err = s.GetEscrow(ctx, "l1")
	require.NoError(t, err)
}

func TestUpdateChecksExpectedState(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, activeListing("l1", "nft:1"))

	err := s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		l, _ := tx.GetListing(ctx, "l1")
		return tx.UpdateListing(ctx, l, domain.ListingStateCreated)
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConcurrentCommitConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, activeListing("l1", "nft:1"))

	inner := make(chan error, 1)
	err := s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		l, err := tx.GetListing(ctx, "l1")
		if err != nil {
			return err
		}

		// A second unit of work commits first.
		inner <- s.WithTransaction(ctx, func(ctx context.Context, tx2 domain.MarketTx) error {
			l2, _ := tx2.GetListing(ctx, "l1")
			l2.State = domain.ListingStateCancelled
			return tx2.UpdateListing(ctx, l2, domain.ListingStateActive)
		})

		l.State = domain.ListingStateSold
		return tx.UpdateListing(ctx, l, domain.ListingStateActive)
	})
	require.NoError(t, <-inner)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	got, _ := s.GetListing(ctx, "l1")
	assert.Equal(t, domain.ListingStateCancelled, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestEscrowDeleteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, activeListing("l1", "nft:1"))

	del := func() error {
		return s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
			return tx.DeleteEscrow(ctx, "l1")
		})
	}
	require.NoError(t, del())
	require.ErrorIs(t, del(), domain.ErrNoEscrow)
}

func TestListAndArchive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	a := activeListing("a", "nft:a")
	b := activeListing("b", "nft:b")
	b.CreatedAt = t0.Add(time.Minute)
	b.Seller = "bob"
	seed(t, s, a, b)

	all, err := s.ListListings(ctx, domain.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "newest first")

	bobs, err := s.ListListings(ctx, domain.ListingFilter{Seller: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)

	page, err := s.ListListings(ctx, domain.ListingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	err = s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		l, _ := tx.GetListing(ctx, "a")
		l.State = domain.ListingStateSold
		l.UpdatedAt = t0
		if err := tx.UpdateListing(ctx, l, domain.ListingStateActive); err != nil {
			return err
		}
		if err := tx.DeleteEscrow(ctx, "a"); err != nil {
			return err
		}
		return tx.InsertSettlement(ctx, domain.SettlementResult{ListingID: "a", TotalPrice: 100, SellerProceeds: 100, SettledAt: t0})
	})
	require.NoError(t, err)

	cutoff := t0.Add(time.Hour)
	terminal, err := s.TerminalListingsBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	settled, err := s.SettlementsBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, settled, 1)

	n, err := s.PurgeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetListing(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetSettlement(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetListing(ctx, "b")
	require.NoError(t, err)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	a := NewAuditStore()
	a.now = func() time.Time { return t0 }

	require.NoError(t, a.Log(ctx, "listing.created", map[string]any{"id": "l1"}))
	require.NoError(t, a.Log(ctx, "listing.sold", map[string]any{"id": "l1"}))

	entries, err := a.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "listing.sold", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
}
