package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Amounts are NUMERIC(20,0) so the full uint64 range fits; they travel as
// decimal text in both directions.
const listingColumns = `id, asset_ref, seller, price_amount::text, currency, state, expiry,
	collection, fee_bps, royalty_bps, creators, vault, version, created_at, updated_at`

const escrowColumns = `listing_id, asset_ref, owner, vault, amount::text, deposited_at`

const settlementColumns = `listing_id, buyer, seller, total_price::text, currency,
	seller_proceeds::text, fee_amount::text, fee_recipient, royalty_amount::text,
	royalty_shares, settled_at, signature`

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                  domain.Listing
		price, state       string
		feeBps, royaltyBps int64
	)
	err := row.Scan(&l.ID, &l.AssetRef, &l.Seller, &price, &l.Price.Currency, &state, &l.Expiry,
		&l.Collection, &feeBps, &royaltyBps, &l.Creators, &l.Vault, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Price.Amount, err = parseAmount(price); err != nil {
		return domain.Listing{}, err
	}
	l.State = domain.ListingState(state)
	l.FeeBps = uint32(feeBps)
	l.RoyaltyBps = uint32(royaltyBps)
	if len(l.Creators) == 0 {
		l.Creators = nil
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	if l.Expiry != nil {
		exp := l.Expiry.UTC()
		l.Expiry = &exp
	}
	return l, nil
}

func scanEscrow(row rowScanner) (domain.EscrowRecord, error) {
	var (
		rec    domain.EscrowRecord
		amount string
	)
	if err := row.Scan(&rec.ListingID, &rec.AssetRef, &rec.Owner, &rec.Vault, &amount, &rec.DepositedAt); err != nil {
		return domain.EscrowRecord{}, err
	}
	var err error
	if rec.Amount, err = parseAmount(amount); err != nil {
		return domain.EscrowRecord{}, err
	}
	rec.DepositedAt = rec.DepositedAt.UTC()
	return rec, nil
}

func scanSettlement(row rowScanner) (domain.SettlementResult, error) {
	var (
		res                           domain.SettlementResult
		total, proceeds, fee, royalty string
		shares                        []byte
	)
	err := row.Scan(&res.ListingID, &res.Buyer, &res.Seller, &total, &res.Currency,
		&proceeds, &fee, &res.FeeRecipient, &royalty, &shares, &res.SettledAt, &res.Signature)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	for _, f := range []struct {
		src string
		dst *uint64
	}{{total, &res.TotalPrice}, {proceeds, &res.SellerProceeds}, {fee, &res.FeeAmount}, {royalty, &res.RoyaltyAmount}} {
		if *f.dst, err = parseAmount(f.src); err != nil {
			return domain.SettlementResult{}, err
		}
	}
	if err := json.Unmarshal(shares, &res.RoyaltyShares); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: decode royalty shares: %w", err)
	}
	if len(res.RoyaltyShares) == 0 {
		res.RoyaltyShares = nil
	}
	res.SettledAt = res.SettledAt.UTC()
	return res, nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

func amount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func creatorsParam(creators []string) []string {
	if creators == nil {
		return []string{}
	}
	return creators
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
