package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/derive"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/alanyoungcy/nftmarket/internal/transfer"
)

func listing() domain.Listing {
	return domain.Listing{
		ID:       "l1",
		AssetRef: "nft:1",
		Seller:   "alice",
		Price:    domain.Price{Amount: 100, Currency: "USDC"},
		State:    domain.ListingStateActive,
		Vault:    derive.Vault("l1", "nft:1"),
	}
}

func TestDepositAndRelease(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	led.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	store := memory.NewStore()
	v := NewVault()
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	v.SetNowFunc(func() time.Time { return fixed })
	l := listing()

	j := transfer.NewJournal(led, led)
	err := store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		rec, err := v.Deposit(ctx, tx, j, l)
		require.NoError(t, err)
		assert.Equal(t, l.Vault, rec.Vault)
		assert.Equal(t, fixed, rec.DepositedAt)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), led.Units("nft:1", l.Vault))
	assert.Zero(t, led.Units("nft:1", "alice"))

	j = transfer.NewJournal(led, led)
	err = store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		_, err := v.Release(ctx, tx, j, "l1", "bob")
		return err
	})
	require.NoError(t, err)
	owner, ok := led.Owner("nft:1")
	require.True(t, ok)
	assert.Equal(t, "bob", owner)

	err = store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		_, err := v.Release(ctx, tx, transfer.NewJournal(led, led), "l1", "carol")
		return err
	})
	require.ErrorIs(t, err, domain.ErrNoEscrow)
	owner, _ = led.Owner("nft:1")
	assert.Equal(t, "bob", owner, "second release must not move the asset")
}

func TestDepositWithoutOwnershipFails(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	led.MintAsset("nft:1", "mallory", domain.AssetMetadata{})
	store := memory.NewStore()
	v := NewVault()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		_, err := v.Deposit(ctx, tx, transfer.NewJournal(led, led), listing())
		return err
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	_, err = store.GetEscrow(ctx, "l1")
	require.ErrorIs(t, err, domain.ErrNoEscrow)
}

func TestDepositDerivesVaultWhenMissing(t *testing.T) {
	ctx := context.Background()
	led := ledger.New()
	led.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	store := memory.NewStore()
	l := listing()
	l.Vault = ""

	err := store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		rec, err := NewVault().Deposit(ctx, tx, transfer.NewJournal(led, led), l)
		if err != nil {
			return err
		}
		assert.Equal(t, derive.Vault("l1", "nft:1"), rec.Vault)
		return nil
	})
	require.NoError(t, err)
}
