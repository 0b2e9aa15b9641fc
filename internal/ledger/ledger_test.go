package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestMintAndTransferAsset(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.MintAsset("nft:1", "alice", domain.AssetMetadata{Collection: "apes", CollectionVerified: true, Creators: []string{"c1"}, SellerFeeBps: 500})

	owner, ok := l.Owner("nft:1")
	require.True(t, ok)
	assert.Equal(t, "alice", owner)

	require.NoError(t, l.Transfer(ctx, "nft:1", "alice", "bob", 1))
	assert.Equal(t, uint64(0), l.Units("nft:1", "alice"))
	assert.Equal(t, uint64(1), l.Units("nft:1", "bob"))

	err := l.Transfer(ctx, "nft:1", "alice", "carol", 1)
	require.ErrorIs(t, err, ErrInsufficientUnits)

	meta, err := l.Metadata(ctx, "nft:1")
	require.NoError(t, err)
	assert.Equal(t, "nft:1", meta.AssetRef)
	assert.Equal(t, uint32(500), meta.SellerFeeBps)

	_, err = l.Metadata(ctx, "nft:404")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransferFunds(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.Credit("bob", "USDC", 100)

	require.NoError(t, l.TransferFunds(ctx, "bob", "alice", 60, "USDC"))
	assert.Equal(t, uint64(40), l.Balance("bob", "USDC"))
	assert.Equal(t, uint64(60), l.Balance("alice", "USDC"))

	err := l.TransferFunds(ctx, "bob", "alice", 41, "USDC")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint64(40), l.Balance("bob", "USDC"))

	err = l.TransferFunds(ctx, "nobody", "alice", 1, "EUR")
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFailWhen(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.Credit("bob", "USDC", 10)
	l.FailWhen(func(op Op) bool { return op.Kind == OpFunds && op.To == "mallory" })

	require.ErrorIs(t, l.TransferFunds(ctx, "bob", "mallory", 5, "USDC"), ErrInjected)
	assert.Equal(t, uint64(10), l.Balance("bob", "USDC"))
	require.NoError(t, l.TransferFunds(ctx, "bob", "alice", 5, "USDC"))

	l.FailWhen(nil)
	require.NoError(t, l.TransferFunds(ctx, "bob", "mallory", 5, "USDC"))
	assert.Len(t, l.Ops(), 2)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New()
	l.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	require.ErrorIs(t, l.Transfer(ctx, "nft:1", "alice", "bob", 1), context.Canceled)
	assert.Equal(t, uint64(1), l.Units("nft:1", "alice"))
}
