package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/cache/redis"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
	"github.com/alanyoungcy/nftmarket/internal/notify"
	"github.com/alanyoungcy/nftmarket/internal/platform/evm"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/service"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/alanyoungcy/nftmarket/internal/store/postgres"
)

// Dependencies bundles the adapters the modes run on. It is built by Wire
// and torn down by the cleanup function Wire returns.
type Dependencies struct {
	// Storage
	Store       domain.MarketStore
	Audit       domain.AuditStore
	Idempotency domain.IdempotencyStore
	Purger      service.ExpiredRecordPurger

	// Coordination
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter

	// Ledger ports
	Assets    domain.AssetTransferPort
	Payments  domain.PaymentPort
	Metadata  domain.MetadataPort
	Custodian string

	// Cold storage; nil unless archiving is on.
	Archiver domain.Archiver

	Signer   *crypto.ReceiptSigner
	Notifier *notify.Notifier
	Metrics  *metrics.Registry
	Health   map[string]handler.HealthCheck
}

// Wire builds every adapter the configured backends call for and returns
// them with a cleanup function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.HealthCheck),
	}

	// --- Store ---
	if strings.EqualFold(cfg.Backends.Store, "postgres") {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		idem := postgres.NewIdempotencyStore(pool)
		deps.Store = postgres.NewMarketStore(pool, logger)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Idempotency = idem
		deps.Purger = idem
		deps.Health["postgres"] = pgClient.Ping
	} else {
		idem := memcache.NewIdempotencyStore()
		deps.Store = memstore.NewStore()
		deps.Audit = memstore.NewAuditStore()
		deps.Idempotency = idem
		deps.Purger = idem
	}

	// --- Redis: locks, events, rate limiting ---
	useRedisLocks := strings.EqualFold(cfg.Backends.Locks, "redis")
	useRedisEvents := strings.EqualFold(cfg.Backends.Events, "redis")
	if useRedisLocks || useRedisEvents {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient.Ping

		// Rate limits must be shared whenever instances share Redis.
		deps.Limiter = redis.NewRateLimiter(redisClient)
		if useRedisLocks {
			deps.Locks = redis.NewLockManager(redisClient)
		}
		if useRedisEvents {
			deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		}
	}
	if deps.Locks == nil {
		deps.Locks = memcache.NewLockManager()
	}
	if deps.Bus == nil {
		deps.Bus = memcache.NewSignalBus()
	}
	if deps.Limiter == nil {
		deps.Limiter = memcache.NewRateLimiter()
	}

	// --- Operator key ---
	keySrc := crypto.KeySource{
		PrivateKey:       cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		Password:         cfg.Chain.KeyPassword,
	}
	useEVM := strings.EqualFold(cfg.Backends.Ledger, "evm")
	if useEVM || cfg.Marketplace.SignReceipts {
		key, err := crypto.LoadKey(keySrc)
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		if cfg.Marketplace.SignReceipts {
			deps.Signer = crypto.NewReceiptSigner(key)
			logger.InfoContext(ctx, "receipt signing enabled",
				slog.String("signer", deps.Signer.Address()),
			)
		}

		// --- Ledger ---
		if useEVM {
			chain, closeChain, err := evm.Dial(ctx, evm.Config{
				RPCURL:          cfg.Chain.RPCURL,
				ChainID:         cfg.Chain.ChainID,
				NFTContract:     cfg.Chain.NFTContract,
				PaymentToken:    cfg.Chain.PaymentToken,
				PaymentCurrency: cfg.Chain.PaymentCurrency,
				ReceiptTimeout:  cfg.Chain.ReceiptTimeout.Duration,
			}, key, logger)
			if err != nil {
				return fail(fmt.Errorf("wire: evm ledger: %w", err))
			}
			closers = append(closers, closeChain)
			deps.Assets = chain
			deps.Payments = chain
			deps.Metadata = chain
			deps.Custodian = chain.Operator()
		}
	}
	if deps.Assets == nil {
		l := ledger.New()
		deps.Assets = l
		deps.Payments = l
		deps.Metadata = l
		logger.WarnContext(ctx, "using the in-memory ledger; balances are lost on restart")
	}

	// --- Cold storage ---
	if cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "archive") {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewChecker(s3Client),
			deps.Store,
			deps.Audit,
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if err := ping(ctx, deps.Health); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	return deps, cleanup, nil
}

// ping runs every health check once so a misconfigured backend fails at
// startup rather than on the first request.
func ping(ctx context.Context, checks map[string]handler.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for name, check := range checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// NewListingService builds the listing service over deps.
func NewListingService(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *service.ListingService {
	svc := service.NewListingService(
		deps.Store,
		deps.Assets,
		deps.Payments,
		deps.Metadata,
		deps.Locks,
		deps.Bus,
		deps.Audit,
		service.ListingConfig{
			FeeBps:       cfg.Marketplace.FeeBps,
			FeeRecipient: cfg.Marketplace.FeeRecipient,
			LockTTL:      cfg.Marketplace.LockTTL.Duration,
			LockWait:     cfg.Marketplace.LockWait.Duration,
			Custodian:    deps.Custodian,
		},
		logger,
	).WithMetrics(deps.Metrics)
	if deps.Signer != nil {
		svc.WithSigner(deps.Signer)
	}
	if deps.Notifier.Enabled() {
		svc.WithNotifier(deps.Notifier)
	}
	return svc
}
