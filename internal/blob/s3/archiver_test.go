package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
)

type memWriter struct {
	objects   map[string][]byte
	multipart int
}

func newMemWriter() *memWriter { return &memWriter{objects: map[string][]byte{}} }

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	w.objects[path] = b
	return err
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

var cutoff = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func seedSold(t *testing.T, s *memory.Store, id string, at time.Time) {
	t.Helper()
	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
		l := domain.Listing{
			ID: id, AssetRef: "nft:" + id, Seller: "alice",
			Price: domain.Price{Amount: 100, Currency: "USDC"},
			State: domain.ListingStateSold, CreatedAt: at, UpdatedAt: at,
		}
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		return tx.InsertSettlement(ctx, domain.SettlementResult{
			ListingID: id, Buyer: "bob", Seller: "alice", TotalPrice: 100, SellerProceeds: 100, SettledAt: at,
		})
	})
	require.NoError(t, err)
}

func TestArchiverExportsJSONL(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedSold(t, store, "old1", cutoff.Add(-48*time.Hour))
	seedSold(t, store, "old2", cutoff.Add(-24*time.Hour))
	seedSold(t, store, "new", cutoff.Add(time.Hour))

	w := newMemWriter()
	audit := memory.NewAuditStore()
	a := NewArchiver(w, w, store, audit)
	runAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return runAt }

	n, err := a.ArchiveListings(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.ArchiveSettlements(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := "archive/listings/2026-02/20260301T120000Z.jsonl"
	require.Contains(t, w.objects, path)
	require.Contains(t, w.objects, "archive/settlements/2026-02/20260301T120000Z.jsonl")

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var l domain.Listing
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		ids = append(ids, l.ID)
	}
	assert.ElementsMatch(t, []string{"old1", "old2"}, ids)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.settlements", entries[0].Event)
}

func TestArchiverSkipsEmptyAndUsesMultipartForLargeFiles(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	w := newMemWriter()
	a := NewArchiver(w, nil, store, nil)

	n, err := a.ArchiveListings(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)

	seedSold(t, store, "old", cutoff.Add(-time.Hour))
	a.partSize = 10
	_, err = a.ArchiveListings(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, w.multipart)
}

type missingChecker struct{}

func (missingChecker) Exists(context.Context, string) (bool, error) { return false, nil }

func TestArchiverFailsWhenUploadNotVisible(t *testing.T) {
	store := memory.NewStore()
	seedSold(t, store, "old", cutoff.Add(-time.Hour))

	a := NewArchiver(newMemWriter(), missingChecker{}, store, nil)
	_, err := a.ArchiveListings(context.Background(), cutoff)
	require.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://s3.example.com", normaliseEndpoint("s3.example.com", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
