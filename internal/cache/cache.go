// Package cache implements the cache-first retrieval policy in front of the
// Wayback Machine and the merge of one store into another.
package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/metrics"
)

// GetOptions controls when a cached entry is replaced.
type GetOptions struct {
	// RetryUnsuccessful re-fetches URLs whose stored entry is a soft failure.
	RetryUnsuccessful bool
	// OverwriteEntry always re-fetches. The stored artifact for a URL can
	// change between calls when this is set.
	OverwriteEntry bool
}

// AbsorbStats counts the entries considered by Absorb.
type AbsorbStats struct {
	Copied  int `json:"copied" yaml:"copied"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Cache is the orchestrator. It is not safe for concurrent use.
type Cache struct {
	store     archive.Store
	retriever archive.Retriever
	logger    *zap.Logger
}

// New builds a Cache.
func New(store archive.Store, retriever archive.Retriever, logger *zap.Logger) (*Cache, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, retriever: retriever, logger: logger}, nil
}

// Get returns the entry for rawURL, fetching it from the archive only when
// there is no entry yet or opts ask for a refresh. A retrieval failure leaves
// any existing entry untouched.
func (c *Cache) Get(ctx context.Context, rawURL string, opts GetOptions) (archive.CacheEntry, error) {
	url := archive.Normalize(rawURL)
	if url == "" {
		return archive.CacheEntry{}, archive.ErrEmptyURL
	}

	existing, err := c.store.Get(ctx, url)
	if err != nil {
		return archive.CacheEntry{}, err
	}
	if !needsFetch(existing, opts) {
		metrics.ObserveLookup("hit")
		c.logger.Debug("cache hit", zap.String("url", url))
		return *existing, nil
	}
	if existing == nil {
		metrics.ObserveLookup("miss")
	} else {
		metrics.ObserveLookup("refresh")
	}

	c.logger.Info("retrieving from wayback",
		zap.String("url", url),
		zap.Bool("cached", existing != nil),
		zap.Bool("overwrite", opts.OverwriteEntry),
		zap.Bool("retry_unsuccessful", opts.RetryUnsuccessful),
	)
	outcome, err := c.retriever.Retrieve(ctx, url)
	if err != nil {
		metrics.ObserveOutcome(url, "error", 0)
		return archive.CacheEntry{}, fmt.Errorf("retrieve %s: %w", url, err)
	}

	entry, err := c.store.Add(ctx, url, outcome)
	if err != nil {
		return archive.CacheEntry{}, err
	}
	metrics.ObserveOutcome(url, outcome.Kind.String(), len(outcome.Content))
	c.logger.Info("entry saved",
		zap.String("url", url),
		zap.Bool("success", entry.Success),
		zap.String("error_kind", string(entry.ErrorKind)),
		zap.String("blob", entry.BlobPath(c.store.BlobDir())),
	)
	return entry, nil
}

func needsFetch(existing *archive.CacheEntry, opts GetOptions) bool {
	switch {
	case existing == nil:
		return true
	case opts.OverwriteEntry:
		return true
	default:
		return existing.HasError() && opts.RetryUnsuccessful
	}
}

// Lookup returns the cached entry for rawURL without any network activity,
// or nil when none exists.
func (c *Cache) Lookup(ctx context.Context, rawURL string) (*archive.CacheEntry, error) {
	url := archive.Normalize(rawURL)
	if url == "" {
		return nil, archive.ErrEmptyURL
	}
	return c.store.Get(ctx, url)
}

// ReadBlob returns the stored artifact for rawURL. The entry must exist and
// be successful.
func (c *Cache) ReadBlob(ctx context.Context, rawURL string) (archive.CacheEntry, []byte, error) {
	entry, err := c.Lookup(ctx, rawURL)
	if err != nil {
		return archive.CacheEntry{}, nil, err
	}
	if entry == nil {
		return archive.CacheEntry{}, nil, fmt.Errorf("%w: no entry for %s", archive.ErrBlobMissing, archive.Normalize(rawURL))
	}
	data, err := c.store.ReadBlob(ctx, *entry)
	if err != nil {
		return *entry, nil, err
	}
	return *entry, data, nil
}

// Entries enumerates every cached entry.
func (c *Cache) Entries(ctx context.Context) iter.Seq2[archive.CacheEntry, error] {
	return c.store.Entries(ctx)
}

// BlobDir is the directory holding the cache's blobs.
func (c *Cache) BlobDir() string {
	return c.store.BlobDir()
}

// Absorb copies every entry of foreign whose URL is not yet cached. Entries
// already present locally are never replaced, so absorbing the same store
// again changes nothing.
func (c *Cache) Absorb(ctx context.Context, foreign archive.Store) (AbsorbStats, error) {
	var stats AbsorbStats
	if foreign == nil {
		return stats, errors.New("foreign store is required")
	}
	foreignBlobDir := foreign.BlobDir()
	for entry, err := range foreign.Entries(ctx) {
		if err != nil {
			return stats, fmt.Errorf("read foreign entries: %w", err)
		}
		existing, err := c.store.Get(ctx, entry.URL)
		if err != nil {
			return stats, err
		}
		if existing != nil {
			stats.Skipped++
			metrics.ObserveAbsorb("skipped")
			continue
		}
		if err := c.store.CopyEntry(ctx, entry, foreignBlobDir); err != nil {
			return stats, err
		}
		stats.Copied++
		metrics.ObserveAbsorb("copied")
		c.logger.Debug("entry absorbed", zap.String("url", entry.URL))
	}
	c.logger.Info("absorb finished",
		zap.String("foreign_blob_dir", foreignBlobDir),
		zap.Int("copied", stats.Copied),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
