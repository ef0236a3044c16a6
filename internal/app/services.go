package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/export"
	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/gateway"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/orgs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/relationships"
	"github.com/odyssey-erp/odyssey-ledger/internal/reportcache"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/report"
)

// Services holds the wired domain services shared by the API server, the
// worker and the CLI.
type Services struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Orgs          *orgs.Service
	Ledger        *ledger.Service
	Entities      *entities.Service
	Relationships *relationships.Service
	Fiscal        *fiscal.Service
	Posting       *posting.Service
	Reports       *reports.Service
	Cache         *reportcache.Cache
	Export        *export.Service
	Rates         fx.RateStore
	PDF           *report.Client
	JobMetrics    *jobmetrics.Metrics
	// Files serves local exports; nil when exports go to MinIO.
	Files http.Handler

	closers []func()
}

// BuildServices connects the configured backends and wires every domain service.
// The background cache listener stops when ctx is done.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (_ *Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if cfg.StoreDriver == DriverPostgres {
		s.Pool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, s.Pool.Close)
	}
	if cfg.NeedsRedis() {
		s.Redis, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rdb := s.Redis
		s.closers = append(s.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.LockDriver == DriverRedis {
		locker = lock.NewRedisLocker(s.Redis, cfg.LockTTL)
	}

	var (
		orgRepo    orgs.Repository
		ledgerRepo ledger.Repository
		entityRepo entities.Repository
		relRepo    relationships.Repository
		fiscalRepo fiscal.Repository
		audit      shared.AuditRecorder
	)
	if s.Pool != nil {
		orgRepo = orgs.NewPGRepository(s.Pool)
		ledgerRepo = ledger.NewPGRepository(s.Pool)
		entityRepo = entities.NewPGRepository(s.Pool)
		relRepo = relationships.NewPGRepository(s.Pool)
		fiscalRepo = fiscal.NewPGRepository(s.Pool)
		s.Rates = fx.NewPGStore(s.Pool)
		audit = shared.NewAuditLogger(s.Pool)
	} else {
		orgRepo = orgs.NewMemoryRepository()
		ledgerRepo = ledger.NewMemoryRepository()
		entityRepo = entities.NewMemoryRepository()
		relRepo = relationships.NewMemoryRepository()
		fiscalRepo = fiscal.NewMemoryRepository()
		s.Rates = fx.NewMemoryStore()
		audit = shared.NewMemoryAuditLog()
	}

	var registerer prometheus.Registerer
	if metrics != nil {
		registerer = metrics.Registerer()
	}
	s.Cache = s.buildCache(ctx, cfg, logger, reportcache.NewMetrics(registerer))
	s.JobMetrics = jobmetrics.NewMetrics(registerer)

	s.Orgs = orgs.NewService(orgRepo)
	s.Ledger = ledger.NewService(ledgerRepo)
	s.Entities = entities.NewService(entityRepo, audit, logger)
	s.Relationships = relationships.NewService(relRepo, s.Entities, locker, audit, logger)
	s.Fiscal = fiscal.NewService(fiscalRepo, locker, audit, logger, fiscal.Options{RequireDefinedPeriod: cfg.FiscalRequirePeriod})
	s.Posting = posting.NewService(posting.Dependencies{
		Repo:        ledgerRepo,
		Guard:       s.Fiscal,
		Entities:    s.Entities,
		Locker:      locker,
		Invalidator: s.Cache,
		Audit:       audit,
		Metrics:     posting.NewMetrics(registerer),
		Logger:      logger,
	})
	s.Reports = reports.NewService(reports.Dependencies{
		Ledger:     s.Ledger,
		Accounts:   s.Entities,
		Hierarchy:  s.Relationships,
		Guard:      s.Fiscal,
		Rates:      s.Rates,
		Currencies: s.Orgs,
		Cache:      s.Cache,
		CacheTTL:   cfg.ReportCacheTTL,
		Logger:     logger,
	})

	store, err := s.buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var renderer export.Renderer
	if cfg.GotenbergURL != "" {
		s.PDF = report.NewClient(cfg.GotenbergURL)
		renderer = s.PDF
	}
	s.Export = export.NewService(store, renderer, s.Reports, logger)
	return s, nil
}

func (s *Services) buildCache(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *reportcache.Metrics) *reportcache.Cache {
	if cfg.ReportCacheDriver == DriverRedis {
		return reportcache.New(reportcache.NewRedisStore(s.Redis), cfg.ReportCacheTTL, metrics, logger)
	}
	mem := reportcache.NewMemoryStore()
	c := reportcache.New(mem, cfg.ReportCacheTTL, metrics, logger)
	if s.Redis != nil {
		// Keep per-instance memory caches coherent across replicas.
		rdb := s.Redis
		reportcache.Listen(ctx, rdb, mem, logger)
		c.WithAnnouncer(func(ctx context.Context, orgID uuid.UUID) error {
			return reportcache.Publish(ctx, rdb, orgID)
		})
	}
	return c
}

func (s *Services) buildStore(ctx context.Context, cfg *Config) (storage.BlobStore, error) {
	if cfg.ExportDriver == DriverMinio {
		store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.ExportURLTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		return store, nil
	}
	store, err := storage.NewLocalStore(cfg.ExportDir, cfg.ExportBaseURL)
	if err != nil {
		return nil, err
	}
	s.Files = store.Handler()
	return store, nil
}

// Gateway exposes the services as named operations.
func (s *Services) Gateway(logger *slog.Logger) *gateway.Gateway {
	return gateway.New(gateway.Services{
		Orgs:          s.Orgs,
		Entities:      s.Entities,
		Relationships: s.Relationships,
		Ledger:        s.Ledger,
		Posting:       s.Posting,
		Fiscal:        s.Fiscal,
		Reports:       s.Reports,
		Export:        s.Export,
		Cache:         s.Cache,
	}, logger)
}

// Close releases backend connections in reverse order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
