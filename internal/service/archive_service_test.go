package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type stubArchiver struct {
	source     domain.ArchiveSource
	failOn     string
	listings   []time.Time
	settlement []time.Time
}

func (a *stubArchiver) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	a.listings = append(a.listings, before)
	if a.failOn == "listings" {
		return 0, errors.New("upload failed")
	}
	ls, err := a.source.TerminalListingsBefore(ctx, before)
	return int64(len(ls)), err
}

func (a *stubArchiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	a.settlement = append(a.settlement, before)
	if a.failOn == "settlements" {
		return 0, errors.New("upload failed")
	}
	ss, err := a.source.SettlementsBefore(ctx, before)
	return int64(len(ss)), err
}

type countingPurger struct{ calls int }

func (p *countingPurger) DeleteExpired(context.Context) (int64, error) {
	p.calls++
	return 2, nil
}

func soldListing(t *testing.T, h *harness) domain.Listing {
	t.Helper()
	h.ledger.MintAsset("nft:archive", "alice", domain.AssetMetadata{})
	h.ledger.Credit("bob", usdc, 100)
	l := h.list(t, "nft:archive", 100)
	_, err := h.svc.PurchaseListing(context.Background(), l.ID, "bob", domain.Payment{Amount: 100, Currency: usdc})
	require.NoError(t, err)
	return l
}

func newArchiveService(h *harness, a domain.Archiver, p ExpiredRecordPurger, now time.Time) *ArchiveService {
	s := NewArchiveService(a, h.store, p, 30*24*time.Hour, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	return s
}

func TestArchiveRunPurgesAfterExport(t *testing.T) {
	h := newHarness(t, 0)
	l := soldListing(t, h)
	a := &stubArchiver{source: h.store}
	p := &countingPurger{}

	s := newArchiveService(h, a, p, t0.Add(40*24*time.Hour))
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, t0.Add(10*24*time.Hour), res.Cutoff)
	assert.Equal(t, int64(1), res.Listings)
	assert.Equal(t, int64(1), res.Settlements)
	assert.Equal(t, int64(1), res.Purged)
	assert.Equal(t, 1, p.calls)

	_, err = h.store.GetListing(context.Background(), l.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveKeepsRecordsInsideRetention(t *testing.T) {
	h := newHarness(t, 0)
	l := soldListing(t, h)
	s := newArchiveService(h, &stubArchiver{source: h.store}, nil, t0.Add(24*time.Hour))

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Listings)
	assert.Zero(t, res.Purged)

	got, err := h.store.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStateSold, got.State)
}

func TestArchiveFailureSkipsPurge(t *testing.T) {
	for _, stage := range []string{"listings", "settlements"} {
		t.Run(stage, func(t *testing.T) {
			h := newHarness(t, 0)
			l := soldListing(t, h)
			s := newArchiveService(h, &stubArchiver{source: h.store, failOn: stage}, nil, t0.Add(40*24*time.Hour))

			_, err := s.RunOnce(context.Background())
			require.Error(t, err)

			_, err = h.store.GetListing(context.Background(), l.ID)
			require.NoError(t, err)
			_, err = h.store.GetSettlement(context.Background(), l.ID)
			require.NoError(t, err)
		})
	}
}

func TestArchiveRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 0)
	a := &stubArchiver{source: h.store}
	s := newArchiveService(h, a, nil, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx, time.Hour))
	assert.Len(t, a.listings, 1)
}
