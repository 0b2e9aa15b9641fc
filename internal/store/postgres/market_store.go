package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const terminalStates = `('sold', 'cancelled', 'expired')`

// MarketStore implements domain.MarketStore. Units of work run in a pgx
// transaction that row-locks every listing it reads.
type MarketStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMarketStore creates a MarketStore on pool.
func NewMarketStore(pool *pgxpool.Pool, logger *slog.Logger) *MarketStore {
	return &MarketStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "postgres_market_store")),
	}
}

// WithTransaction runs fn in a transaction. It rolls back when fn returns an
// error or panics, and commits otherwise.
func (s *MarketStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.MarketTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				s.logger.Error("rollback after panic failed", slog.String("error", rbErr.Error()))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, &marketTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.ErrorContext(ctx, "rollback failed",
				slog.String("error", rbErr.Error()),
				slog.String("cause", err.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: commit: %w", domain.ErrAlreadyListed)
		}
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// GetListing implements domain.ListingReader.
func (s *MarketStore) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if isNoRows(err) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// ListListings implements domain.ListingReader.
func (s *MarketStore) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.Seller != "" {
		add("seller = $%d", f.Seller)
	}
	if f.AssetRef != "" {
		add("asset_ref = $%d", f.AssetRef)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryListings(ctx, query, args...)
}

// GetSettlement implements domain.ListingReader.
func (s *MarketStore) GetSettlement(ctx context.Context, listingID string) (domain.SettlementResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE listing_id = $1`, listingID)
	res, err := scanSettlement(row)
	if isNoRows(err) {
		return domain.SettlementResult{}, fmt.Errorf("postgres: settlement %s: %w", listingID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: get settlement %s: %w", listingID, err)
	}
	return res, nil
}

// GetEscrow implements domain.ListingReader.
func (s *MarketStore) GetEscrow(ctx context.Context, listingID string) (domain.EscrowRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_records WHERE listing_id = $1`, listingID)
	rec, err := scanEscrow(row)
	if isNoRows(err) {
		return domain.EscrowRecord{}, fmt.Errorf("postgres: escrow %s: %w", listingID, domain.ErrNoEscrow)
	}
	if err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("postgres: get escrow %s: %w", listingID, err)
	}
	return rec, nil
}

// TerminalListingsBefore implements domain.ArchiveSource.
func (s *MarketStore) TerminalListingsBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE state IN `+terminalStates+` AND updated_at < $1
		 ORDER BY updated_at, id`, before)
}

// SettlementsBefore implements domain.ArchiveSource.
func (s *MarketStore) SettlementsBefore(ctx context.Context, before time.Time) ([]domain.SettlementResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE settled_at < $1 ORDER BY settled_at, listing_id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: settlements before: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementResult
	for rows.Next() {
		res, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: settlements before rows: %w", err)
	}
	return out, nil
}

// PurgeBefore implements domain.ArchiveSource. Settlements and escrow rows
// go with their listing through ON DELETE CASCADE.
func (s *MarketStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listings WHERE state IN `+terminalStates+` AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MarketStore) queryListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query listings rows: %w", err)
	}
	return out, nil
}

func marshalShares(shares []domain.RoyaltyShare) ([]byte, error) {
	if shares == nil {
		shares = []domain.RoyaltyShare{}
	}
	return json.Marshal(shares)
}

var _ domain.MarketStore = (*MarketStore)(nil)
