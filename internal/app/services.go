package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/demo"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/observability"
	"github.com/velo-automation/velo/internal/platform/cache"
	"github.com/velo-automation/velo/internal/platform/db"
	"github.com/velo-automation/velo/internal/platform/lock"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/store/memory"
	"github.com/velo-automation/velo/internal/store/postgres"
	"github.com/velo-automation/velo/internal/store/webhook"
	"github.com/velo-automation/velo/internal/tenant"
)

// ServiceOptions carries the collaborators that differ between the API and the
// worker process.
type ServiceOptions struct {
	Registerer prometheus.Registerer
	Notifier   receivables.Notifier
}

// Services bundles the receivables runtime shared by the binaries.
type Services struct {
	Store   receivables.Store
	Service *receivables.Service
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Locker  *lock.Locker

	logger  *slog.Logger
	closers []func()
}

// BuildServices connects the configured store, Redis and collection partner
// and assembles the receivables service. Redis is optional: without it the
// dashboard is not cached and dunning passes are not locked.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, opts ServiceOptions) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{logger: logger}

	store, err := s.openStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, running without cache and dunning lock", slog.Any("error", err))
		} else {
			s.Redis = client
			s.Locker = lock.NewLocker(client)
			s.closers = append(s.closers, func() {
				if err := client.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			})
		}
	}

	var audit receivables.AuditSink
	if s.Pool != nil {
		audit = receivables.NewPGAuditSink(s.Pool)
	}
	var partner collection.Partner = collection.LocalPartner{}
	if cfg.CollectionPartnerURL != "" {
		partner = collection.NewHTTPPartner(cfg.CollectionPartnerURL, cfg.CollectionPartnerToken)
	}
	var metrics receivables.Recorder
	if opts.Registerer != nil {
		metrics = observability.NewDomain(opts.Registerer)
	}

	s.Service = receivables.NewService(store, receivables.Options{
		Engine:   dunning.NewEngine(cfg.Policy()),
		Partner:  partner,
		Cache:    receivables.NewCache(s.Redis, cfg.DashboardCacheTTL),
		Audit:    audit,
		Notifier: opts.Notifier,
		Metrics:  metrics,
		Logger:   logger,
	})

	if cfg.SeedDemo {
		seedCtx := tenant.WithID(ctx, cfg.DefaultTenant)
		if err := demo.Seed(seedCtx, store); err != nil {
			logger.Warn("demo seed skipped", slog.String("tenant", cfg.DefaultTenant), slog.Any("error", err))
		} else {
			logger.Info("demo data seeded", slog.String("tenant", cfg.DefaultTenant))
		}
	}
	return s, nil
}

func (s *Services) openStore(ctx context.Context, cfg *Config) (receivables.Store, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		s.closers = append(s.closers, pool.Close)
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case StoreWebhook:
		return webhook.New(cfg.WebhookBaseURL, cfg.WebhookToken), nil
	case StoreMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
