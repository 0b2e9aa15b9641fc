package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/derive"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	storemem "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

const (
	usdc        = "USDC"
	feeReceiver = "market"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc    *ListingService
	store  *storemem.Store
	ledger *ledger.Ledger
	locks  *cachemem.LockManager
	bus    *cachemem.SignalBus
	audit  *storemem.AuditStore
	now    time.Time
}

func newHarness(t *testing.T, feeBps uint32) *harness {
	t.Helper()
	h := &harness{
		store:  storemem.NewStore(),
		ledger: ledger.New(),
		locks:  cachemem.NewLockManager(),
		bus:    cachemem.NewSignalBus(),
		audit:  storemem.NewAuditStore(),
		now:    t0,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h.svc = NewListingService(h.store, h.ledger, h.ledger, h.ledger, h.locks, h.bus, h.audit,
		ListingConfig{FeeBps: feeBps, FeeRecipient: feeReceiver, LockTTL: 5 * time.Second, LockWait: 5 * time.Second},
		logger)
	h.svc.SetNowFunc(func() time.Time { return h.now })
	return h
}

func (h *harness) list(t *testing.T, asset string, price uint64, mutate ...func(*domain.NewListing)) domain.Listing {
	t.Helper()
	req := domain.NewListing{
		Seller:   "alice",
		AssetRef: asset,
		Price:    domain.Price{Amount: price, Currency: usdc},
	}
	for _, m := range mutate {
		m(&req)
	}
	l, err := h.svc.CreateListing(context.Background(), req)
	require.NoError(t, err)
	return l
}

func royalty(bps uint32) func(*domain.NewListing) {
	return func(r *domain.NewListing) { r.RoyaltyBps = &bps }
}

func expiresAt(ts time.Time) func(*domain.NewListing) {
	return func(r *domain.NewListing) { r.Expiry = &ts }
}

func TestCreateListingLocksAssetInVault(t *testing.T) {
	h := newHarness(t, 250)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})

	l := h.list(t, "nft:1", 1000)

	assert.Equal(t, domain.ListingStateActive, l.State)
	assert.Equal(t, derive.Vault(l.ID, "nft:1"), l.Vault)
	assert.Equal(t, uint32(250), l.FeeBps)
	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, l.Vault, owner)

	stored, err := h.svc.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateActive, stored.State)

	rec, err := h.store.GetEscrow(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
}

func TestCreateListingRejectsDoubleListing(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.list(t, "nft:1", 100)

	_, err := h.svc.CreateListing(context.Background(), domain.NewListing{
		Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 50, Currency: usdc},
	})
	require.ErrorIs(t, err, domain.ErrAlreadyListed)

	all, err := h.svc.ListListings(context.Background(), domain.ListingFilter{AssetRef: "nft:1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateListingValidation(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	past := t0.Add(-time.Minute)

	cases := []struct {
		name string
		req  domain.NewListing
		want error
	}{
		{"zero price", domain.NewListing{Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Currency: usdc}}, domain.ErrInvalidListing},
		{"no currency", domain.NewListing{Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 1}}, domain.ErrInvalidListing},
		{"no seller", domain.NewListing{AssetRef: "nft:1", Price: domain.Price{Amount: 1, Currency: usdc}}, domain.ErrInvalidListing},
		{"past expiry", domain.NewListing{Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 1, Currency: usdc}, Expiry: &past}, domain.ErrInvalidListing},
		{"expiry now", domain.NewListing{Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 1, Currency: usdc}, Expiry: &t0}, domain.ErrInvalidListing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateListing(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, "alice", owner)
}

func TestCreateListingRejectsInvalidBps(t *testing.T) {
	h := newHarness(t, 9000)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})

	bps := uint32(2000)
	_, err := h.svc.CreateListing(context.Background(), domain.NewListing{
		Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 100, Currency: usdc}, RoyaltyBps: &bps,
	})
	require.ErrorIs(t, err, domain.ErrInvalidBps)
}

func TestCreateListingTransferFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "mallory", domain.AssetMetadata{})

	_, err := h.svc.CreateListing(context.Background(), domain.NewListing{
		Seller: "alice", AssetRef: "nft:1", Price: domain.Price{Amount: 100, Currency: usdc},
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	all, err := h.store.ListListings(context.Background(), domain.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateListingCollectionVerification(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:unverified", "alice", domain.AssetMetadata{Collection: "apes", CollectionVerified: false})
	h.ledger.MintAsset("nft:other", "alice", domain.AssetMetadata{Collection: "cats", CollectionVerified: true})
	h.ledger.MintAsset("nft:ok", "alice", domain.AssetMetadata{Collection: "apes", CollectionVerified: true})

	inApes := func(r *domain.NewListing) { r.Collection = "apes" }

	for _, asset := range []string{"nft:unverified", "nft:other"} {
		_, err := h.svc.CreateListing(context.Background(), domain.NewListing{
			Seller: "alice", AssetRef: asset, Price: domain.Price{Amount: 100, Currency: usdc}, Collection: "apes",
		})
		require.ErrorIs(t, err, domain.ErrCollectionVerificationFailed, asset)
		owner, _ := h.ledger.Owner(asset)
		assert.Equal(t, "alice", owner, "no transfer before verification")
	}

	l := h.list(t, "nft:ok", 100, inApes)
	assert.Equal(t, "apes", l.Collection)
}

func TestPurchaseSplitsProceeds(t *testing.T) {
	h := newHarness(t, 250)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{Creators: []string{"creator"}})
	h.ledger.Credit("bob", usdc, 1000)
	l := h.list(t, "nft:1", 1000, royalty(500))

	res, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 1000, Currency: usdc})
	require.NoError(t, err)

	assert.Equal(t, uint64(925), res.SellerProceeds)
	assert.Equal(t, uint64(25), res.FeeAmount)
	assert.Equal(t, uint64(50), res.RoyaltyAmount)
	assert.Equal(t, []domain.RoyaltyShare{{Recipient: "creator", Amount: 50}}, res.RoyaltyShares)
	assert.Equal(t, t0, res.SettledAt)

	assert.Equal(t, uint64(925), h.ledger.Balance("alice", usdc))
	assert.Equal(t, uint64(25), h.ledger.Balance(feeReceiver, usdc))
	assert.Equal(t, uint64(50), h.ledger.Balance("creator", usdc))
	assert.Zero(t, h.ledger.Balance("bob", usdc))
	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, "bob", owner)

	got, err := h.svc.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateSold, got.State)

	stored, err := h.svc.GetSettlement(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)

	_, err = h.store.GetEscrow(context.Background(), l.ID)
	require.ErrorIs(t, err, domain.ErrNoEscrow)
}

func TestPurchaseFeeRounding(t *testing.T) {
	h := newHarness(t, 333)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)
	l := h.list(t, "nft:1", 100)

	res, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.FeeAmount)
	assert.Equal(t, uint64(97), res.SellerProceeds)
	assert.Zero(t, res.RoyaltyAmount)
}

func TestPurchaseRoyaltyFromMetadataSharedByCreators(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{
		Creators:     []string{"c1", "c2", "c3"},
		SellerFeeBps: 1000,
	})
	h.ledger.Credit("bob", usdc, 500)
	l := h.list(t, "nft:1", 500)
	assert.Equal(t, uint32(1000), l.RoyaltyBps)

	res, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 500, Currency: usdc})
	require.NoError(t, err)

	require.Equal(t, uint64(50), res.RoyaltyAmount)
	var sum uint64
	for _, s := range res.RoyaltyShares {
		sum += s.Amount
	}
	assert.Equal(t, res.RoyaltyAmount, sum)
	assert.Equal(t, uint64(18), h.ledger.Balance("c1", usdc))
	assert.Equal(t, uint64(16), h.ledger.Balance("c2", usdc))
	assert.Equal(t, uint64(16), h.ledger.Balance("c3", usdc))
	assert.Equal(t, uint64(450), h.ledger.Balance("alice", usdc))
}

func TestPurchaseWithoutCreatorsPaysRoyaltyToSeller(t *testing.T) {
	h := newHarness(t, 100)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 1000)
	l := h.list(t, "nft:1", 1000, royalty(500))

	res, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 1000, Currency: usdc})
	require.NoError(t, err)
	assert.Equal(t, uint64(990), res.SellerProceeds)
	assert.Zero(t, res.RoyaltyAmount)
	assert.Equal(t, res.TotalPrice, res.SellerProceeds+res.FeeAmount+res.RoyaltyAmount)

	entries, err := h.audit.List(context.Background(), domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "listing.sold", entries[0].Event)
	assert.Equal(t, uint64(50), entries[0].Detail["royalty_redirected"])
}

func TestPurchaseChargesPriceOnOverpayment(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 500)
	l := h.list(t, "nft:1", 100)

	res, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 500, Currency: usdc})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.TotalPrice)
	assert.Equal(t, uint64(400), h.ledger.Balance("bob", usdc))
}

func TestPurchaseInsufficientPayment(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 1000)
	l := h.list(t, "nft:1", 100)

	_, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 99, Currency: usdc})
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	_, err = h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: "DAI"})
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	got, err := h.svc.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateActive, got.State)
}

func TestPurchasePaymentFailureRollsBack(t *testing.T) {
	h := newHarness(t, 250)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{Creators: []string{"creator"}})
	h.ledger.Credit("bob", usdc, 1000)
	l := h.list(t, "nft:1", 1000, royalty(500))

	h.ledger.FailWhen(func(op ledger.Op) bool {
		return op.Kind == ledger.OpFunds && op.To == "creator"
	})

	_, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 1000, Currency: usdc})
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	got, err := h.svc.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateActive, got.State)

	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, l.Vault, owner, "asset back in the vault")
	assert.Equal(t, uint64(1000), h.ledger.Balance("bob", usdc))
	assert.Zero(t, h.ledger.Balance("alice", usdc))
	assert.Zero(t, h.ledger.Balance(feeReceiver, usdc))

	_, err = h.store.GetEscrow(context.Background(), l.ID)
	require.NoError(t, err, "escrow record survives")
	_, err = h.svc.GetSettlement(context.Background(), l.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.ledger.FailWhen(nil)
	_, err = h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 1000, Currency: usdc})
	require.NoError(t, err)
}

func TestPurchaseAfterExpiryIsInvalidState(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)
	l := h.list(t, "nft:1", 100, expiresAt(t0.Add(time.Hour)))

	h.now = t0.Add(time.Hour)
	_, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConcurrentPurchasesExactlyOneWins(t *testing.T) {
	const buyers = 20
	h := newHarness(t, 250)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	l := h.list(t, "nft:1", 1000)
	for i := 0; i < buyers; i++ {
		h.ledger.Credit(buyerName(i), usdc, 1000)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    []string
		invalid int
		other   []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			_, err := h.svc.PurchaseListing(context.Background(), l.ID, buyer, domain.Payment{Amount: 1000, Currency: usdc})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, buyer)
			case errors.Is(err, domain.ErrInvalidState):
				invalid++
			default:
				other = append(other, err)
			}
		}(buyerName(i))
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, wins, 1)
	assert.Equal(t, buyers-1, invalid)

	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, wins[0], owner)
	assert.Equal(t, uint64(975), h.ledger.Balance("alice", usdc))
	for i := 0; i < buyers; i++ {
		if b := buyerName(i); b != wins[0] {
			assert.Equal(t, uint64(1000), h.ledger.Balance(b, usdc), b)
		}
	}
}

func buyerName(i int) string {
	return "buyer-" + string(rune('a'+i))
}

func TestCancelRoundTrip(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	l := h.list(t, "nft:1", 100)

	_, err := h.svc.CancelListing(context.Background(), l.ID, "mallory")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := h.svc.CancelListing(context.Background(), l.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateCancelled, cancelled.State)
	assert.Equal(t, int64(2), cancelled.Version)

	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, "alice", owner)

	_, err = h.svc.CancelListing(context.Background(), l.ID, "alice")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	// The asset can be listed again once the old listing is terminal.
	relisted := h.list(t, "nft:1", 200)
	assert.NotEqual(t, l.ID, relisted.ID)
}

func TestCancelUnknownListing(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.svc.CancelListing(context.Background(), "missing", "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpireBoundary(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	expiry := t0.Add(time.Hour)
	l := h.list(t, "nft:1", 100, expiresAt(expiry))

	_, err := h.svc.ExpireListing(context.Background(), l.ID, expiry.Add(-time.Nanosecond))
	require.ErrorIs(t, err, domain.ErrNotExpired)

	expired, err := h.svc.ExpireListing(context.Background(), l.ID, expiry)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateExpired, expired.State)
	owner, _ := h.ledger.Owner("nft:1")
	assert.Equal(t, "alice", owner)

	_, err = h.svc.ExpireListing(context.Background(), l.ID, expiry)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpireWithoutExpiryNeverExpires(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	l := h.list(t, "nft:1", 100)

	_, err := h.svc.ExpireListing(context.Background(), l.ID, t0.Add(100*365*24*time.Hour))
	require.ErrorIs(t, err, domain.ErrNotExpired)
}

func TestExpireUsesServiceClockWhenNowIsZero(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	l := h.list(t, "nft:1", 100, expiresAt(t0.Add(time.Minute)))

	_, err := h.svc.ExpireListing(context.Background(), l.ID, time.Time{})
	require.ErrorIs(t, err, domain.ErrNotExpired)

	h.now = t0.Add(time.Minute)
	_, err = h.svc.ExpireListing(context.Background(), l.ID, time.Time{})
	require.NoError(t, err)
}

func TestBusyListingTimesOut(t *testing.T) {
	h := newHarness(t, 0)
	h.svc.cfg.LockWait = 20 * time.Millisecond
	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	l := h.list(t, "nft:1", 100)

	unlock, err := h.locks.Acquire(context.Background(), "listing:"+l.ID, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.svc.CancelListing(context.Background(), l.ID, "alice")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestLifecycleEventsAndAudit(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.bus.Subscribe(ctx, domain.ListingsChannel)
	require.NoError(t, err)

	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)
	l := h.list(t, "nft:1", 100)
	_, err = h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.NoError(t, err)

	var types []string
	for i := 0; i < 2; i++ {
		var ev domain.ListingEvent
		require.NoError(t, json.Unmarshal(<-events, &ev))
		assert.Equal(t, l.ID, ev.ListingID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{domain.EventListingCreated, domain.EventListingSold}, types)

	stream, err := h.bus.StreamRead(context.Background(), EventStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, stream, 2)

	entries, err := h.audit.List(context.Background(), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "listing.sold", entries[0].Event)
	assert.Equal(t, "listing.created", entries[1].Event)
}

type stubSigner struct{ calls int }

func (s *stubSigner) SignSettlement(res domain.SettlementResult) (string, error) {
	s.calls++
	return "0xsig-" + res.ListingID, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func TestSignerAndNotifier(t *testing.T) {
	h := newHarness(t, 0)
	signer := &stubSigner{}
	notifier := &recordingNotifier{}
	h.svc.WithSigner(signer).WithNotifier(notifier)

	h.ledger.MintAsset("nft:1", "alice", domain.AssetMetadata{})
	h.ledger.MintAsset("nft:2", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)
	sold := h.list(t, "nft:1", 100)
	stale := h.list(t, "nft:2", 100, expiresAt(t0.Add(time.Minute)))

	res, err := h.svc.PurchaseListing(context.Background(), sold.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.NoError(t, err)
	assert.Equal(t, "0xsig-"+sold.ID, res.Signature)
	assert.Equal(t, 1, signer.calls)

	_, err = h.svc.ExpireListing(context.Background(), stale.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, []string{domain.EventListingSold, domain.EventListingExpired}, notifier.events)
}

func TestListListingsFilters(t *testing.T) {
	h := newHarness(t, 0)
	for _, a := range []string{"nft:1", "nft:2", "nft:3"} {
		h.ledger.MintAsset(a, "alice", domain.AssetMetadata{})
	}
	l1 := h.list(t, "nft:1", 100)
	h.list(t, "nft:2", 100)
	h.list(t, "nft:3", 100)
	_, err := h.svc.CancelListing(context.Background(), l1.ID, "alice")
	require.NoError(t, err)

	active, err := h.svc.ListListings(context.Background(), domain.ListingFilter{State: domain.ListingStateActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = h.svc.ListListings(context.Background(), domain.ListingFilter{State: "bogus"})
	require.ErrorIs(t, err, domain.ErrInvalidListing)
}

func TestCustodianHoldsEveryEscrow(t *testing.T) {
	h := newHarness(t, 0)
	h.svc.cfg.Custodian = "operator"
	h.ledger.MintAsset("nft:c", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)

	l := h.list(t, "nft:c", 100)
	assert.Equal(t, "operator", l.Vault)
	owner, _ := h.ledger.Owner("nft:c")
	assert.Equal(t, "operator", owner)

	_, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.NoError(t, err)
	owner, _ = h.ledger.Owner("nft:c")
	assert.Equal(t, "bob", owner)
}

func TestCreateListingKeepsAssetRoyaltyFloor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 250)
	h.ledger.MintAsset("nft:r", "alice", domain.AssetMetadata{Creators: []string{"creator"}, SellerFeeBps: 500})

	req := domain.NewListing{Seller: "alice", AssetRef: "nft:r", Price: domain.Price{Amount: 1000, Currency: usdc}}
	royalty(0)(&req)
	_, err := h.svc.CreateListing(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidBps)
	owner, _ := h.ledger.Owner("nft:r")
	assert.Equal(t, "alice", owner)

	l := h.list(t, "nft:r", 1000, royalty(700))
	assert.Equal(t, uint32(700), l.RoyaltyBps)
	_, err = h.svc.CancelListing(ctx, l.ID, "alice")
	require.NoError(t, err)

	l = h.list(t, "nft:r", 1000)
	assert.Equal(t, uint32(500), l.RoyaltyBps)
	h.ledger.Credit("bob", usdc, 1000)
	_, err = h.svc.PurchaseListing(ctx, l.ID, "bob", domain.Payment{Amount: 1000, Currency: usdc})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), h.ledger.Balance("creator", usdc))
	assert.Equal(t, uint64(925), h.ledger.Balance("alice", usdc))
}
