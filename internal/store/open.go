package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/storage/local"
	leveldbstore "github.com/JakeFAU/waybacker/internal/store/leveldb"
	"github.com/JakeFAU/waybacker/internal/store/postgres"
)

// Backend names accepted by Open.
const (
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// Layout inside the store directory.
const (
	PagesDir   = "pages"
	LevelDBDir = "wayback.ldb"
)

// Config selects and configures a store.
type Config struct {
	// Dir is the store root. Blobs always live in Dir/pages.
	Dir string
	// Backend names the metadata backend; empty selects leveldb.
	Backend  string
	Postgres postgres.Config
	// MustExist makes Open fail with archive.ErrStoreNotFound instead of
	// creating a missing store.
	MustExist bool
}

type opener func(ctx context.Context, cfg Config) (Backend, error)

var backends = map[string]opener{
	BackendLevelDB: func(_ context.Context, cfg Config) (Backend, error) {
		path := filepath.Join(cfg.Dir, LevelDBDir)
		if cfg.MustExist {
			if err := requireDir(path); err != nil {
				return nil, err
			}
			return leveldbstore.OpenExisting(path)
		}
		return leveldbstore.Open(path)
	},
	BackendPostgres: func(ctx context.Context, cfg Config) (Backend, error) {
		return postgres.Open(ctx, cfg.Postgres)
	},
}

// Backends lists the accepted backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open creates or reopens the store rooted at cfg.Dir. Opening an existing
// store keeps its entries and blobs.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	name := cfg.Backend
	if name == "" {
		name = BackendLevelDB
	}
	open, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q: \"store.backend\" must be one of: %s",
			archive.ErrUnknownBackend, name, strings.Join(Backends(), ", "))
	}

	if cfg.MustExist {
		if err := requireDir(filepath.Join(cfg.Dir, PagesDir)); err != nil {
			return nil, err
		}
	}
	blobs, err := local.New(local.Config{BaseDir: filepath.Join(cfg.Dir, PagesDir)})
	if err != nil {
		return nil, fmt.Errorf("open blob directory: %w", err)
	}
	backend, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := New(backend, blobs, logger.With(zap.String("backend", name)), opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", archive.ErrStoreNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", archive.ErrStoreNotFound, path)
	}
	return nil
}
