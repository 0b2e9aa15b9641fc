package domain

import (
	"context"
	"time"
)

// ListOpts provides common pagination and time-range options for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketTx is one unit of work over the listing registry and the escrow
// vault. Writes staged through a MarketTx become visible together when the
// owning TxManager commits, or not at all.
type MarketTx interface {
	// GetListing returns ErrNotFound when id is unknown.
	GetListing(ctx context.Context, id string) (Listing, error)
	// ActiveListingForAsset returns the non-terminal listing holding assetRef,
	// or ErrNotFound.
	ActiveListingForAsset(ctx context.Context, assetRef string) (Listing, error)
	// InsertListing returns ErrAlreadyListed when assetRef already has a
	// non-terminal listing.
	InsertListing(ctx context.Context, l Listing) error
	// UpdateListing replaces the listing only if its stored state is expect,
	// otherwise it returns ErrInvalidState.
	UpdateListing(ctx context.Context, l Listing, expect ListingState) error
	PutEscrow(ctx context.Context, rec EscrowRecord) error
	// GetEscrow and DeleteEscrow return ErrNoEscrow when there is no record.
	GetEscrow(ctx context.Context, listingID string) (EscrowRecord, error)
	DeleteEscrow(ctx context.Context, listingID string) error
	InsertSettlement(ctx context.Context, res SettlementResult) error
}

// TxManager runs fn inside a MarketTx. If fn returns an error nothing is
// committed and the error is returned unchanged.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx MarketTx) error) error
}

// ListingReader serves read-only queries outside a unit of work.
type ListingReader interface {
	GetListing(ctx context.Context, id string) (Listing, error)
	ListListings(ctx context.Context, f ListingFilter) ([]Listing, error)
	GetSettlement(ctx context.Context, listingID string) (SettlementResult, error)
	GetEscrow(ctx context.Context, listingID string) (EscrowRecord, error)
}

// ArchiveSource exposes terminal records for cold-storage export.
type ArchiveSource interface {
	TerminalListingsBefore(ctx context.Context, before time.Time) ([]Listing, error)
	SettlementsBefore(ctx context.Context, before time.Time) ([]SettlementResult, error)
	// PurgeBefore deletes terminal listings last updated before the cutoff
	// together with their settlements and returns the number of listings removed.
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// MarketStore is the full storage backend the marketplace needs.
type MarketStore interface {
	TxManager
	ListingReader
	ArchiveSource
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// IdempotencyRecord is a stored HTTP response replayed for a repeated key.
type IdempotencyRecord struct {
	StatusCode int       `json:"status_code"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IdempotencyStore keeps responses keyed by client-supplied idempotency keys.
// Get returns (nil, nil) for unknown or expired keys.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Save(ctx context.Context, key string, rec IdempotencyRecord) error
}
