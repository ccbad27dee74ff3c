// Package app initializes and holds long-lived application services, acting as
// a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/cache"
	"github.com/JakeFAU/waybacker/internal/config"
	collyfetcher "github.com/JakeFAU/waybacker/internal/fetcher/colly"
	"github.com/JakeFAU/waybacker/internal/logging"
	"github.com/JakeFAU/waybacker/internal/metrics"
	"github.com/JakeFAU/waybacker/internal/policy/ratelimit"
	"github.com/JakeFAU/waybacker/internal/retry"
	"github.com/JakeFAU/waybacker/internal/store"
	"github.com/JakeFAU/waybacker/internal/store/postgres"
	"github.com/JakeFAU/waybacker/internal/wayback"
)

// App holds the shared, long-lived services. It is built once per process
// and closed when the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store
	cache  *cache.Cache
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	logger *zap.Logger
	getter archive.Getter
}

// WithLogger supplies a logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGetter replaces the HTTP transport used to reach the archive.
func WithGetter(g archive.Getter) Option {
	return func(o *options) { o.getter = g }
}

// NewApp wires configuration into the store, the archive client, and the
// cache. It fails fast if any of them cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			FilePath:    cfg.Logging.FilePath,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxBackups:  cfg.Logging.MaxBackups,
			Compress:    cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	metrics.Init()

	logger.Info("opening store",
		zap.String("dir", cfg.Store.Dir),
		zap.String("backend", cfg.Store.Backend),
	)
	st, err := store.Open(ctx, storeConfig(cfg), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	getter := o.getter
	if getter == nil {
		getter = collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Wayback.UserAgent,
			Timeout:      cfg.Wayback.Timeout(),
			MaxBodyBytes: cfg.Wayback.MaxBodyBytes,
		})
	}
	getter = ratelimit.Wrap(ratelimit.New(ratelimit.Config{
		RPS:   cfg.Wayback.RequestsPerSecond,
		Burst: cfg.Wayback.Burst,
	}), getter)
	runner := retry.NewRunner(retry.Policy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay(),
	}, logger.Named("retry"))
	logger.Info("archive client configured",
		zap.String("availability_url", cfg.Wayback.AvailabilityURL),
		zap.Int("attempts", runner.Policy().Attempts),
		zap.Duration("delay", runner.Policy().Delay),
		zap.Float64("requests_per_second", cfg.Wayback.RequestsPerSecond),
	)
	client := wayback.NewClient(wayback.Config{AvailabilityURL: cfg.Wayback.AvailabilityURL}, getter, runner, logger.Named("wayback"))

	c, err := cache.New(st, client, logger.Named("cache"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		cache:  c,
	}, nil
}

func storeConfig(cfg config.Config) store.Config {
	return store.Config{
		Dir:     cfg.Store.Dir,
		Backend: cfg.Store.Backend,
		Postgres: postgres.Config{
			DSN:      cfg.Store.Postgres.DSN,
			Table:    cfg.Store.Postgres.Table,
			MaxConns: cfg.Store.Postgres.MaxConns,
		},
	}
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the app was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetCache exposes the orchestrator.
func (a *App) GetCache() *cache.Cache {
	return a.cache
}

// ForeignStore locates a store other than the configured one. Its Postgres
// settings are independent of the local store's.
type ForeignStore struct {
	Dir     string
	Backend string
	DSN     string
	Table   string
}

// OpenForeignStore opens an existing store, for example as an absorb source.
// An empty backend selects leveldb. A missing store is reported as
// archive.ErrStoreNotFound rather than created. The caller closes the store.
func (a *App) OpenForeignStore(ctx context.Context, foreign ForeignStore) (*store.Store, error) {
	cfg, err := a.foreignConfig(foreign)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg, a.logger.Named("foreign"))
	if err != nil {
		return nil, fmt.Errorf("open foreign store %s: %w", foreign.Dir, err)
	}
	return st, nil
}

func (a *App) foreignConfig(foreign ForeignStore) (store.Config, error) {
	if foreign.Dir == "" {
		return store.Config{}, errors.New("foreign store directory is required")
	}
	backend := foreign.Backend
	if backend == "" {
		backend = store.BackendLevelDB
	}
	table := foreign.Table
	if table == "" {
		table = postgres.DefaultTable
	}
	if backend == store.BackendPostgres {
		if foreign.DSN == "" {
			return store.Config{}, errors.New("foreign postgres store needs its own dsn")
		}
		local := a.cfg.Store
		if local.Backend == store.BackendPostgres && local.Postgres.DSN == foreign.DSN && localTable(local) == table {
			return store.Config{}, fmt.Errorf("foreign store is the configured store (table %s)", table)
		}
	}
	if backend == store.BackendLevelDB && a.cfg.Store.Backend == store.BackendLevelDB && sameDir(a.cfg.Store.Dir, foreign.Dir) {
		return store.Config{}, fmt.Errorf("foreign store is the configured store (%s)", foreign.Dir)
	}
	return store.Config{
		Dir:     foreign.Dir,
		Backend: backend,
		Postgres: postgres.Config{
			DSN:   foreign.DSN,
			Table: table,
		},
		MustExist: true,
	}, nil
}

func localTable(cfg config.StoreConfig) string {
	if cfg.Postgres.Table == "" {
		return postgres.DefaultTable
	}
	return cfg.Postgres.Table
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Close releases the store and flushes the logger.
func (a *App) Close() {
	if a == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
