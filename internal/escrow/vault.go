// Package escrow takes custody of listed assets and releases them exactly
// once, to the buyer on sale or back to the seller on cancel and expiry.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/derive"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/transfer"
)

// unitsPerAsset is the quantity held in custody for a listed asset.
const unitsPerAsset = 1

// Vault moves assets in and out of per-listing vault accounts. The custody
// record lives in the same unit of work as the listing so a release and the
// listing's state change commit together.
type Vault struct {
	now func() time.Time
}

// NewVault returns a Vault using the wall clock.
func NewVault() *Vault {
	return &Vault{now: time.Now}
}

// SetNowFunc replaces the clock, for tests.
func (v *Vault) SetNowFunc(now func() time.Time) {
	v.now = now
}

// Deposit moves the listed asset from the seller to the listing's vault
// account and records custody. It returns the record it wrote.
func (v *Vault) Deposit(ctx context.Context, tx domain.MarketTx, j *transfer.Journal, l domain.Listing) (domain.EscrowRecord, error) {
	vault := l.Vault
	if vault == "" {
		vault = derive.Vault(l.ID, l.AssetRef)
	}
	if err := j.MoveAsset(ctx, l.AssetRef, l.Seller, vault, unitsPerAsset); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow: deposit %s: %w", l.ID, err)
	}

	rec := domain.EscrowRecord{
		ListingID:   l.ID,
		AssetRef:    l.AssetRef,
		Owner:       l.Seller,
		Vault:       vault,
		Amount:      unitsPerAsset,
		DepositedAt: v.now().UTC(),
	}
	if err := tx.PutEscrow(ctx, rec); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow: record %s: %w", l.ID, err)
	}
	return rec, nil
}

// Release hands the asset held for listingID to dest and removes the custody
// record. A second release of the same listing returns domain.ErrNoEscrow.
func (v *Vault) Release(ctx context.Context, tx domain.MarketTx, j *transfer.Journal, listingID, dest string) (domain.EscrowRecord, error) {
	rec, err := tx.GetEscrow(ctx, listingID)
	if err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow: release %s: %w", listingID, err)
	}
	if err := tx.DeleteEscrow(ctx, listingID); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow: release %s: %w", listingID, err)
	}
	if err := j.MoveAsset(ctx, rec.AssetRef, rec.Vault, dest, rec.Amount); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow: release %s: %w", listingID, err)
	}
	return rec, nil
}
