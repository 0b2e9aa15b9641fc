package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// marketTx implements domain.MarketTx on one pgx transaction.
type marketTx struct {
	tx pgx.Tx
}

func (t *marketTx) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id)
	l, err := scanListing(row)
	if isNoRows(err) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: lock listing %s: %w", id, err)
	}
	return l, nil
}

func (t *marketTx) ActiveListingForAsset(ctx context.Context, assetRef string) (domain.Listing, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE asset_ref = $1 AND state IN ('created', 'active')
		 FOR UPDATE`, assetRef)
	l, err := scanListing(row)
	if isNoRows(err) {
		return domain.Listing{}, fmt.Errorf("postgres: active listing for %s: %w", assetRef, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: active listing for %s: %w", assetRef, err)
	}
	return l, nil
}

func (t *marketTx) InsertListing(ctx context.Context, l domain.Listing) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO listings (id, asset_ref, seller, price_amount, currency, state, expiry,
			collection, fee_bps, royalty_bps, creators, vault, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)`,
		l.ID, l.AssetRef, l.Seller, amount(l.Price.Amount), l.Price.Currency, string(l.State), l.Expiry,
		l.Collection, int64(l.FeeBps), int64(l.RoyaltyBps), creatorsParam(l.Creators), l.Vault,
		l.CreatedAt, l.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert listing %s: asset %s: %w", l.ID, l.AssetRef, domain.ErrAlreadyListed)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert listing %s: %w", l.ID, err)
	}
	return nil
}

// UpdateListing writes the mutable columns only if the row is still in
// state expect.
func (t *marketTx) UpdateListing(ctx context.Context, l domain.Listing, expect domain.ListingState) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE listings
		 SET state = $2, price_amount = $3, currency = $4, expiry = $5,
		     updated_at = $6, version = version + 1
		 WHERE id = $1 AND state = $7`,
		l.ID, string(l.State), amount(l.Price.Amount), l.Price.Currency, l.Expiry, l.UpdatedAt, string(expect),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: update listing %s: %w", l.ID, domain.ErrAlreadyListed)
	}
	if err != nil {
		return fmt.Errorf("postgres: update listing %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update listing %s: not in state %s: %w", l.ID, expect, domain.ErrInvalidState)
	}
	return nil
}

func (t *marketTx) PutEscrow(ctx context.Context, rec domain.EscrowRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO escrow_records (listing_id, asset_ref, owner, vault, amount, deposited_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (listing_id) DO UPDATE SET
		     asset_ref = EXCLUDED.asset_ref, owner = EXCLUDED.owner, vault = EXCLUDED.vault,
		     amount = EXCLUDED.amount, deposited_at = EXCLUDED.deposited_at`,
		rec.ListingID, rec.AssetRef, rec.Owner, rec.Vault, amount(rec.Amount), rec.DepositedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put escrow %s: %w", rec.ListingID, err)
	}
	return nil
}

func (t *marketTx) GetEscrow(ctx context.Context, listingID string) (domain.EscrowRecord, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrow_records WHERE listing_id = $1 FOR UPDATE`, listingID)
	rec, err := scanEscrow(row)
	if isNoRows(err) {
		return domain.EscrowRecord{}, fmt.Errorf("postgres: escrow %s: %w", listingID, domain.ErrNoEscrow)
	}
	if err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("postgres: get escrow %s: %w", listingID, err)
	}
	return rec, nil
}

func (t *marketTx) DeleteEscrow(ctx context.Context, listingID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM escrow_records WHERE listing_id = $1`, listingID)
	if err != nil {
		return fmt.Errorf("postgres: delete escrow %s: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete escrow %s: %w", listingID, domain.ErrNoEscrow)
	}
	return nil
}

func (t *marketTx) InsertSettlement(ctx context.Context, res domain.SettlementResult) error {
	shares, err := marshalShares(res.RoyaltyShares)
	if err != nil {
		return fmt.Errorf("postgres: encode royalty shares: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO settlements (listing_id, buyer, seller, total_price, currency, seller_proceeds,
			fee_amount, fee_recipient, royalty_amount, royalty_shares, settled_at, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.ListingID, res.Buyer, res.Seller, amount(res.TotalPrice), res.Currency, amount(res.SellerProceeds),
		amount(res.FeeAmount), res.FeeRecipient, amount(res.RoyaltyAmount), shares, res.SettledAt, res.Signature,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", res.ListingID, err)
	}
	return nil
}

var _ domain.MarketTx = (*marketTx)(nil)
