package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/derive"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/escrow"
	"github.com/alanyoungcy/nftmarket/internal/fees"
	"github.com/alanyoungcy/nftmarket/internal/transfer"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	lockBackoffMin = 5 * time.Millisecond
	lockBackoffMax = 50 * time.Millisecond
)

// ReceiptSigner signs settlement receipts with the operator key.
type ReceiptSigner interface {
	SignSettlement(res domain.SettlementResult) (string, error)
}

// EventNotifier forwards lifecycle events to operators.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MetricsRecorder receives operation outcomes. code is "ok" or the error code
// of the failure.
type MetricsRecorder interface {
	ObserveOperation(op, code string, elapsed time.Duration)
	ObserveSettlement(res domain.SettlementResult)
	ObserveLockContention(op string)
}

// ListingConfig carries the marketplace settings the service needs.
type ListingConfig struct {
	FeeBps       uint32
	FeeRecipient string
	LockTTL      time.Duration
	LockWait     time.Duration
	// Custodian, when set, holds every escrowed asset instead of a derived
	// per-listing vault. Chain ledgers need an account the operator controls.
	Custodian string
}

// ListingService runs the listing lifecycle: create, cancel, purchase and
// expire. Every mutation holds a per-key lock and runs inside one store
// transaction; transfers already made are reversed when that transaction
// does not commit.
type ListingService struct {
	store    domain.MarketStore
	assets   domain.AssetTransferPort
	payments domain.PaymentPort
	metadata domain.MetadataPort
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	vault    *escrow.Vault
	cfg      ListingConfig

	signer   ReceiptSigner
	notifier EventNotifier
	metrics  MetricsRecorder

	now    func() time.Time
	logger *slog.Logger
}

// NewListingService creates a ListingService with all required dependencies.
// bus and audit may be nil.
func NewListingService(
	store domain.MarketStore,
	assets domain.AssetTransferPort,
	payments domain.PaymentPort,
	metadata domain.MetadataPort,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg ListingConfig,
	logger *slog.Logger,
) *ListingService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &ListingService{
		store:    store,
		assets:   assets,
		payments: payments,
		metadata: metadata,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		vault:    escrow.NewVault(),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "listing_service")),
	}
}

// WithSigner attaches a receipt signer; settlements are then stored with a
// signature over their contents.
func (s *ListingService) WithSigner(signer ReceiptSigner) *ListingService {
	s.signer = signer
	return s
}

// WithNotifier attaches an operator notifier for sales and expiries.
func (s *ListingService) WithNotifier(n EventNotifier) *ListingService {
	s.notifier = n
	return s
}

// WithMetrics attaches a metrics recorder.
func (s *ListingService) WithMetrics(m MetricsRecorder) *ListingService {
	s.metrics = m
	return s
}

// SetNowFunc replaces the clock used for timestamps and expiry checks.
func (s *ListingService) SetNowFunc(now func() time.Time) {
	s.now = now
	s.vault.SetNowFunc(now)
}

// CreateListing validates the terms, locks the asset into a fresh vault
// account and records the listing as Active.
func (s *ListingService) CreateListing(ctx context.Context, req domain.NewListing) (l domain.Listing, err error) {
	defer s.observe("create", time.Now(), &err)

	now := s.now().UTC()
	if err := validateNewListing(req, now); err != nil {
		return domain.Listing{}, err
	}

	meta, err := s.lookupMetadata(ctx, req.AssetRef)
	if err != nil {
		return domain.Listing{}, err
	}
	if req.Collection != "" && (meta.Collection != req.Collection || !meta.CollectionVerified) {
		return domain.Listing{}, fmt.Errorf("listing_service: asset %s not in verified collection %s: %w",
			req.AssetRef, req.Collection, domain.ErrCollectionVerificationFailed)
	}

	// The asset's own royalty is a floor; a listing may only raise it.
	royaltyBps := meta.SellerFeeBps
	if req.RoyaltyBps != nil {
		if *req.RoyaltyBps < meta.SellerFeeBps {
			return domain.Listing{}, fmt.Errorf("listing_service: royalty %d bps below asset royalty %d bps: %w",
				*req.RoyaltyBps, meta.SellerFeeBps, domain.ErrInvalidBps)
		}
		royaltyBps = *req.RoyaltyBps
	}
	if _, err := fees.Split(req.Price.Amount, s.cfg.FeeBps, royaltyBps); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}

	unlock, err := s.acquire(ctx, "create", "asset:"+req.AssetRef)
	if err != nil {
		return domain.Listing{}, err
	}
	defer unlock()

	id := uuid.NewString()
	l = domain.Listing{
		ID:         id,
		AssetRef:   req.AssetRef,
		Seller:     req.Seller,
		Price:      req.Price,
		State:      domain.ListingStateCreated,
		Expiry:     req.Expiry,
		Collection: req.Collection,
		FeeBps:     s.cfg.FeeBps,
		RoyaltyBps: royaltyBps,
		Creators:   meta.Creators,
		Vault:      s.vaultFor(id, req.AssetRef),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if l.Expiry != nil {
		exp := l.Expiry.UTC()
		l.Expiry = &exp
	}

	journal := transfer.NewJournal(s.assets, s.payments)
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		if held, err := tx.ActiveListingForAsset(ctx, l.AssetRef); err == nil {
			return fmt.Errorf("listing_service: asset %s held by listing %s: %w", l.AssetRef, held.ID, domain.ErrAlreadyListed)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		if _, err := s.vault.Deposit(ctx, tx, journal, l); err != nil {
			return err
		}
		l.State = domain.ListingStateActive
		return tx.UpdateListing(ctx, l, domain.ListingStateCreated)
	})
	if err != nil {
		s.compensate(ctx, journal, "create", l.ID)
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}
	journal.Commit()

	l.Version = 1
	s.logger.InfoContext(ctx, "listing_service: listing created",
		slog.String("listing_id", l.ID),
		slog.String("asset_ref", l.AssetRef),
		slog.String("seller", l.Seller),
		slog.Uint64("price", l.Price.Amount),
		slog.String("currency", l.Price.Currency),
	)
	s.emit(ctx, domain.ListingEvent{
		Type: domain.EventListingCreated, ListingID: l.ID, AssetRef: l.AssetRef,
		State: l.State, Actor: l.Seller, At: now,
	})
	return l, nil
}

// CancelListing returns the escrowed asset to the seller. Only the seller may
// cancel, and only while the listing is Active.
func (s *ListingService) CancelListing(ctx context.Context, id, caller string) (l domain.Listing, err error) {
	defer s.observe("cancel", time.Now(), &err)

	unlock, err := s.acquire(ctx, "cancel", "listing:"+id)
	if err != nil {
		return domain.Listing{}, err
	}
	defer unlock()

	now := s.now().UTC()
	journal := transfer.NewJournal(s.assets, s.payments)
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		cur, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if cur.Seller != caller {
			return fmt.Errorf("listing_service: %s is not the seller of %s: %w", caller, id, domain.ErrUnauthorized)
		}
		if cur.State != domain.ListingStateActive {
			return fmt.Errorf("listing_service: cancel %s in state %s: %w", id, cur.State, domain.ErrInvalidState)
		}
		if _, err := s.vault.Release(ctx, tx, journal, id, cur.Seller); err != nil {
			return err
		}
		cur.State = domain.ListingStateCancelled
		cur.UpdatedAt = now
		l = cur
		return tx.UpdateListing(ctx, cur, domain.ListingStateActive)
	})
	if err != nil {
		s.compensate(ctx, journal, "cancel", id)
		return domain.Listing{}, fmt.Errorf("listing_service: cancel: %w", err)
	}
	journal.Commit()
	l.Version++

	s.logger.InfoContext(ctx, "listing_service: listing cancelled",
		slog.String("listing_id", id),
		slog.String("seller", caller),
	)
	s.emit(ctx, domain.ListingEvent{
		Type: domain.EventListingCancelled, ListingID: id, AssetRef: l.AssetRef,
		State: l.State, Actor: caller, At: now,
	})
	return l, nil
}

// ExpireListing returns the escrowed asset of an Active listing whose expiry
// has been reached at now. Anyone may call it. A zero now means the service
// clock.
func (s *ListingService) ExpireListing(ctx context.Context, id string, now time.Time) (l domain.Listing, err error) {
	defer s.observe("expire", time.Now(), &err)

	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	unlock, err := s.acquire(ctx, "expire", "listing:"+id)
	if err != nil {
		return domain.Listing{}, err
	}
	defer unlock()

	journal := transfer.NewJournal(s.assets, s.payments)
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		cur, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		if cur.State != domain.ListingStateActive {
			return fmt.Errorf("listing_service: expire %s in state %s: %w", id, cur.State, domain.ErrInvalidState)
		}
		if !cur.Expired(now) {
			return fmt.Errorf("listing_service: expire %s at %s: %w", id, now.Format(time.RFC3339), domain.ErrNotExpired)
		}
		if _, err := s.vault.Release(ctx, tx, journal, id, cur.Seller); err != nil {
			return err
		}
		cur.State = domain.ListingStateExpired
		cur.UpdatedAt = now
		l = cur
		return tx.UpdateListing(ctx, cur, domain.ListingStateActive)
	})
	if err != nil {
		s.compensate(ctx, journal, "expire", id)
		return domain.Listing{}, fmt.Errorf("listing_service: expire: %w", err)
	}
	journal.Commit()
	l.Version++

	s.logger.InfoContext(ctx, "listing_service: listing expired",
		slog.String("listing_id", id),
		slog.String("asset_ref", l.AssetRef),
	)
	s.emit(ctx, domain.ListingEvent{
		Type: domain.EventListingExpired, ListingID: id, AssetRef: l.AssetRef,
		State: l.State, At: now,
	})
	s.notify(ctx, domain.EventListingExpired, "Listing expired",
		fmt.Sprintf("Listing %s for %s expired; asset returned to %s", id, l.AssetRef, l.Seller))
	return l, nil
}

// GetListing returns the listing with id.
func (s *ListingService) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", id, err)
	}
	return l, nil
}

// ListListings returns listings matching f, newest first.
func (s *ListingService) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.State != "" && !f.State.Valid() {
		return nil, fmt.Errorf("listing_service: unknown state %q: %w", f.State, domain.ErrInvalidListing)
	}
	out, err := s.store.ListListings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list: %w", err)
	}
	return out, nil
}

// GetSettlement returns the settlement recorded for a sold listing.
func (s *ListingService) GetSettlement(ctx context.Context, listingID string) (domain.SettlementResult, error) {
	res, err := s.store.GetSettlement(ctx, listingID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("listing_service: settlement %s: %w", listingID, err)
	}
	return res, nil
}

func validateNewListing(req domain.NewListing, now time.Time) error {
	var problem string
	switch {
	case req.Seller == "":
		problem = "seller is required"
	case req.AssetRef == "":
		problem = "asset_ref is required"
	case req.Price.Amount == 0:
		problem = "price must be positive"
	case req.Price.Currency == "":
		problem = "currency is required"
	case req.Expiry != nil && !req.Expiry.After(now):
		problem = "expiry must be in the future"
	default:
		return nil
	}
	return fmt.Errorf("listing_service: %s: %w", problem, domain.ErrInvalidListing)
}

// lookupMetadata returns empty metadata for assets the metadata program does
// not know; royalties then default to zero.
func (s *ListingService) lookupMetadata(ctx context.Context, assetRef string) (domain.AssetMetadata, error) {
	if s.metadata == nil {
		return domain.AssetMetadata{AssetRef: assetRef}, nil
	}
	meta, err := s.metadata.Metadata(ctx, assetRef)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AssetMetadata{AssetRef: assetRef}, nil
	}
	if err != nil {
		return domain.AssetMetadata{}, fmt.Errorf("listing_service: metadata %s: %w", assetRef, err)
	}
	return meta, nil
}

// acquire takes key, retrying with backoff while another holder has it. When
// LockWait elapses the operation fails with ErrInvalidState.
func (s *ListingService) acquire(ctx context.Context, op, key string) (func(), error) {
	start := time.Now()
	backoff := lockBackoffMin
	contended := false
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("listing_service: lock %s: %w", key, err)
		}
		if !contended && s.metrics != nil {
			s.metrics.ObserveLockContention(op)
		}
		contended = true
		if time.Since(start) >= s.cfg.LockWait {
			return nil, fmt.Errorf("listing_service: %s busy: %w", key, domain.ErrInvalidState)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, lockBackoffMax)
	}
}

func (s *ListingService) compensate(ctx context.Context, j *transfer.Journal, op, id string) {
	if j.Len() == 0 {
		return
	}
	legs := j.Len()
	if err := j.Compensate(ctx); err != nil {
		s.logger.ErrorContext(ctx, "listing_service: compensation failed",
			slog.String("op", op),
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "listing_service: transfers reversed",
		slog.String("op", op),
		slog.String("listing_id", id),
		slog.Int("legs", legs),
	)
}

func (s *ListingService) observe(op string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	code := "ok"
	if *errp != nil {
		code = domain.ErrorCode(*errp)
	}
	s.metrics.ObserveOperation(op, code, time.Since(start))
}

func (s *ListingService) vaultFor(id, assetRef string) string {
	if s.cfg.Custodian != "" {
		return s.cfg.Custodian
	}
	return derive.Vault(id, assetRef)
}
