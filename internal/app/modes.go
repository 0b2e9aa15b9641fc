package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

const shutdownTimeout = 15 * time.Second

// ServerMode serves the HTTP API and the WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the cold-storage loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("archive mode: no archiver configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode serves the API and, when archive.enabled is set, runs the
// archive loop alongside it.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "archive disabled")
	}
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := NewListingService(a.cfg, deps, a.logger)

	hub := ws.NewHub(deps.Bus, ws.Config{
		Stream:         service.EventStream,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, deps.Metrics, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var signer *crypto.RequestSigner
	if a.cfg.Server.HMACSecret != "" {
		signer = crypto.NewRequestSigner(a.cfg.Server.HMACSecret, a.cfg.Server.HMACMaxSkew.Duration)
	}
	if a.cfg.Server.APIKey == "" && signer == nil {
		a.logger.WarnContext(ctx, "HTTP server: authentication disabled (no api_key or hmac_secret)")
	}

	srv := server.NewServer(
		server.Config{
			Port:           a.cfg.Server.Port,
			CORSOrigins:    a.cfg.Server.CORSOrigins,
			APIKey:         a.cfg.Server.APIKey,
			RequestSigner:  signer,
			RateLimit:      a.cfg.Server.RateLimit,
			RateWindow:     a.cfg.Server.RateWindow.Duration,
			IdempotencyTTL: a.cfg.Server.IdempotencyTTL.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Health, a.logger),
			Listings: handler.NewListingHandler(svc, a.logger),
			Audit:    handler.NewAuditHandler(deps.Audit, a.logger),
			Metrics:  deps.Metrics.Handler(),
		},
		server.Deps{
			Limiter:     deps.Limiter,
			Idempotency: deps.Idempotency,
			Locks:       deps.Locks,
			Observer:    deps.Metrics,
		},
		hub,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	archive := service.NewArchiveService(
		deps.Archiver,
		deps.Store,
		deps.Purger,
		a.cfg.Archive.Retention.Duration,
		a.logger,
	)
	a.logger.InfoContext(ctx, "archive loop scheduled",
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
		slog.Duration("retention", a.cfg.Archive.Retention.Duration),
	)
	g.Go(func() error {
		return archive.Run(ctx, a.cfg.Archive.Interval.Duration)
	})
}
