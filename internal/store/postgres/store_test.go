package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// newTestClient connects to POSTGRES_TEST_DSN and migrates, or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	t.Cleanup(c.Close)
	return c
}

func newTestStore(t *testing.T) *MarketStore {
	return NewMarketStore(newTestClient(t).Pool(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func testListing() domain.Listing {
	now := time.Now().UTC().Truncate(time.Microsecond)
	exp := now.Add(time.Hour)
	id := uuid.NewString()
	return domain.Listing{
		ID:         id,
		AssetRef:   "nft:" + uuid.NewString(),
		Seller:     "alice",
		Price:      domain.Price{Amount: 18_000_000_000_000_000_000, Currency: "USDC"},
		State:      domain.ListingStateActive,
		Expiry:     &exp,
		FeeBps:     250,
		RoyaltyBps: 500,
		Creators:   []string{"c1", "c2"},
		Vault:      "0xvault",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func insert(t *testing.T, s *MarketStore, l domain.Listing) {
	t.Helper()
	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		return tx.PutEscrow(ctx, domain.EscrowRecord{
			ListingID: l.ID, AssetRef: l.AssetRef, Owner: l.Seller, Vault: l.Vault, Amount: 1, DepositedAt: l.CreatedAt,
		})
	})
	require.NoError(t, err)
}

func TestListingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := testListing()
	insert(t, s, l)

	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	l.Version = 1
	assert.Equal(t, l, got)

	_, err = s.GetListing(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDoubleListingRejected(t *testing.T) {
	s := newTestStore(t)
	l := testListing()
	insert(t, s, l)

	dup := testListing()
	dup.AssetRef = l.AssetRef
	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		return tx.InsertListing(ctx, dup)
	})
	require.ErrorIs(t, err, domain.ErrAlreadyListed)
}

func TestSettleAndEscrowRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := testListing()
	insert(t, s, l)

	res := domain.SettlementResult{
		ListingID: l.ID, Buyer: "bob", Seller: "alice", TotalPrice: 1000, Currency: "USDC",
		SellerProceeds: 925, FeeAmount: 25, FeeRecipient: "market", RoyaltyAmount: 50,
		RoyaltyShares: []domain.RoyaltyShare{{Recipient: "c1", Amount: 25}, {Recipient: "c2", Amount: 25}},
		SettledAt:     l.CreatedAt,
	}
	err := s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		cur, err := tx.GetListing(ctx, l.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteEscrow(ctx, l.ID); err != nil {
			return err
		}
		cur.State = domain.ListingStateSold
		if err := tx.UpdateListing(ctx, cur, domain.ListingStateActive); err != nil {
			return err
		}
		return tx.InsertSettlement(ctx, res)
	})
	require.NoError(t, err)

	got, err := s.GetSettlement(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	_, err = s.GetEscrow(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrNoEscrow)

	err = s.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		return tx.DeleteEscrow(ctx, l.ID)
	})
	require.ErrorIs(t, err, domain.ErrNoEscrow)

	stored, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateSold, stored.State)
	assert.Equal(t, int64(2), stored.Version)
}

func TestUpdateChecksExpectedState(t *testing.T) {
	s := newTestStore(t)
	l := testListing()
	insert(t, s, l)

	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		l.State = domain.ListingStateCancelled
		return tx.UpdateListing(ctx, l, domain.ListingStateCreated)
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRollbackOnError(t *testing.T) {
	s := newTestStore(t)
	l := testListing()
	boom := assert.AnError

	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetListing(context.Background(), l.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditAndIdempotency(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	audit := NewAuditStore(c.Pool())
	event := "test." + uuid.NewString()
	require.NoError(t, audit.Log(ctx, event, map[string]any{"listing_id": "l1"}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 50})
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Event == event {
			found = true
			assert.Equal(t, "l1", e.Detail["listing_id"])
		}
	}
	assert.True(t, found)

	idem := NewIdempotencyStore(c.Pool())
	key := uuid.NewString()
	rec, err := idem.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	now := time.Now().UTC()
	require.NoError(t, idem.Save(ctx, key, domain.IdempotencyRecord{
		StatusCode: 201, Body: []byte("{}"), CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))
	rec, err = idem.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.StatusCode)
}
