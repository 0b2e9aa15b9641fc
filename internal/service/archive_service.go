package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ExpiredRecordPurger drops stale idempotency records.
type ExpiredRecordPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ArchiveResult summarises one archive run.
type ArchiveResult struct {
	Cutoff      time.Time
	Listings    int64
	Settlements int64
	Purged      int64
}

// ArchiveService moves terminal records older than the retention window to
// cold storage and then removes them from the primary store. It never
// changes a listing's state.
type ArchiveService struct {
	archiver  domain.Archiver
	source    domain.ArchiveSource
	purger    ExpiredRecordPurger
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService. purger may be nil.
func NewArchiveService(
	archiver domain.Archiver,
	source domain.ArchiveSource,
	purger ExpiredRecordPurger,
	retention time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		archiver:  archiver,
		source:    source,
		purger:    purger,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// RunOnce exports and purges everything older than now minus retention.
// Nothing is purged unless both exports succeeded.
func (s *ArchiveService) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: s.now().UTC().Add(-s.retention)}

	var err error
	if res.Listings, err = s.archiver.ArchiveListings(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive_service: listings: %w", err)
	}
	if res.Settlements, err = s.archiver.ArchiveSettlements(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive_service: settlements: %w", err)
	}
	if res.Listings > 0 || res.Settlements > 0 {
		if res.Purged, err = s.source.PurgeBefore(ctx, res.Cutoff); err != nil {
			return res, fmt.Errorf("archive_service: purge: %w", err)
		}
	}

	if s.purger != nil {
		if n, err := s.purger.DeleteExpired(ctx); err != nil {
			s.logger.WarnContext(ctx, "archive_service: idempotency cleanup failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			s.logger.InfoContext(ctx, "archive_service: idempotency records removed",
				slog.Int64("count", n),
			)
		}
	}

	s.logger.InfoContext(ctx, "archive_service: run complete",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("listings", res.Listings),
		slog.Int64("settlements", res.Settlements),
		slog.Int64("purged", res.Purged),
	)
	return res, nil
}

// Run calls RunOnce every interval until ctx is cancelled. Failed runs are
// logged and retried on the next tick.
func (s *ArchiveService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "archive_service: run failed",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
