package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ObjectChecker reports whether an uploaded object is readable.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver implements domain.Archiver: it exports terminal listings and
// settlements older than a cutoff as JSONL objects. It never deletes; the
// caller purges only after every export succeeded.
type Archiver struct {
	writer   domain.BlobWriter
	checker  ObjectChecker
	source   domain.ArchiveSource
	audit    domain.AuditStore
	partSize int64
	now      func() time.Time
}

// NewArchiver creates an Archiver. checker may be nil to skip verification.
func NewArchiver(writer domain.BlobWriter, checker ObjectChecker, source domain.ArchiveSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:   writer,
		checker:  checker,
		source:   source,
		audit:    audit,
		partSize: MinPartSize,
		now:      time.Now,
	}
}

// ArchiveListings exports terminal listings last updated before the cutoff.
func (a *Archiver) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	listings, err := a.source.TerminalListingsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	return archive(ctx, a, "listings", before, listings)
}

// ArchiveSettlements exports settlements made before the cutoff.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	settlements, err := a.source.SettlementsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	return archive(ctx, a, "settlements", before, settlements)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before, a.now())
	if int64(len(buf)) > a.partSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if a.checker != nil {
		ok, err := a.checker.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
		}
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the cutoff month and names each file
// after the run time so repeated runs in one month never overwrite:
//
//	archive/listings/2026-01/20260131T120000Z.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
