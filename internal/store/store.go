// Package store implements the persistence store: entry metadata lives in a
// pluggable Backend and successful artifacts live as blobs in a local
// directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/clock/system"
	"github.com/JakeFAU/waybacker/internal/hash/sha256"
	"github.com/JakeFAU/waybacker/internal/storage/local"
)

// Backend persists entry rows keyed by normalized URL.
type Backend interface {
	// Lookup returns every row stored for url. More than one row is an
	// inconsistency the caller reports.
	Lookup(ctx context.Context, url string) ([]archive.CacheEntry, error)
	// Upsert inserts or replaces the row keyed by entry.URL.
	Upsert(ctx context.Context, entry archive.CacheEntry) error
	// Scan enumerates all rows; each call starts over.
	Scan(ctx context.Context) iter.Seq2[archive.CacheEntry, error]
	Close() error
}

// Store implements archive.Store.
type Store struct {
	backend Backend
	blobs   *local.BlobStore
	clock   archive.Clock
	hasher  archive.Hasher
	logger  *zap.Logger
}

var _ archive.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp new entries.
func WithClock(c archive.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithHasher overrides the content digest.
func WithHasher(h archive.Hasher) Option {
	return func(s *Store) {
		if h != nil {
			s.hasher = h
		}
	}
}

// New assembles a Store from an opened backend and blob directory.
func New(backend Backend, blobs *local.BlobStore, logger *zap.Logger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		blobs:   blobs,
		clock:   system.New(),
		hasher:  sha256.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the entry for url, or nil when none exists.
func (s *Store) Get(ctx context.Context, url string) (*archive.CacheEntry, error) {
	rows, err := s.backend.Lookup(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", url, err)
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		entry := rows[0]
		return &entry, nil
	default:
		return nil, fmt.Errorf("%w: %d entries for %s", archive.ErrStoreInconsistency, len(rows), url)
	}
}

// Add records outcome for url. For a success the blob is written before the
// row, so a committed row never points at a missing blob. Any previous row is
// replaced; its blob stays on disk.
func (s *Store) Add(ctx context.Context, url string, outcome archive.FetchOutcome) (archive.CacheEntry, error) {
	collectedAt := s.clock.Now().UTC().Truncate(time.Microsecond)
	entry := archive.CacheEntry{
		URL:         url,
		Success:     outcome.Kind == archive.OutcomeSuccess,
		CollectedAt: collectedAt,
		ErrorKind:   outcome.ErrorKind(),
		Error:       outcome.ErrorText(),
	}
	if outcome.Snapshot != nil {
		snap := *outcome.Snapshot
		entry.Snapshot = &snap
	}

	if entry.Success {
		entry.MimeKind = outcome.Mime
		entry.BlobFileName = archive.BlobFileName(url, collectedAt, outcome.Mime)
		if err := s.blobs.Put(entry.BlobFileName, outcome.Content); err != nil {
			return archive.CacheEntry{}, fmt.Errorf("write blob for %s: %w", url, err)
		}
		digest, err := s.hasher.Hash(outcome.Content)
		if err != nil {
			return archive.CacheEntry{}, fmt.Errorf("hash blob for %s: %w", url, err)
		}
		entry.ContentHash = digest
	}

	if err := s.backend.Upsert(ctx, entry); err != nil {
		return archive.CacheEntry{}, fmt.Errorf("store entry for %s: %w", url, err)
	}
	s.logger.Debug("entry stored",
		zap.String("url", url),
		zap.Bool("success", entry.Success),
		zap.String("blob", entry.BlobFileName),
		zap.String("error_kind", string(entry.ErrorKind)),
	)

	committed, err := s.Get(ctx, url)
	if err != nil {
		return archive.CacheEntry{}, err
	}
	if committed == nil {
		return archive.CacheEntry{}, fmt.Errorf("%w: entry for %s missing after write", archive.ErrStoreInconsistency, url)
	}
	return *committed, nil
}

// Entries enumerates every stored entry.
func (s *Store) Entries(ctx context.Context) iter.Seq2[archive.CacheEntry, error] {
	return s.backend.Scan(ctx)
}

// CopyEntry imports an entry from another store whose blobs live in
// foreignBlobDir. The entry keeps its collection time and blob name.
func (s *Store) CopyEntry(ctx context.Context, entry archive.CacheEntry, foreignBlobDir string) error {
	if entry.Success {
		if err := s.blobs.CopyFrom(foreignBlobDir, entry.BlobFileName); err != nil {
			return fmt.Errorf("copy blob for %s: %w", entry.URL, err)
		}
		if entry.ContentHash == "" {
			data, err := s.blobs.Read(entry.BlobFileName)
			if err != nil {
				return fmt.Errorf("read copied blob for %s: %w", entry.URL, err)
			}
			if entry.ContentHash, err = s.hasher.Hash(data); err != nil {
				return fmt.Errorf("hash copied blob for %s: %w", entry.URL, err)
			}
		}
	}
	if err := s.backend.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("store copied entry for %s: %w", entry.URL, err)
	}
	return nil
}

// ReadBlob returns the artifact of a successful entry.
func (s *Store) ReadBlob(_ context.Context, entry archive.CacheEntry) ([]byte, error) {
	if !entry.Success || entry.BlobFileName == "" {
		return nil, fmt.Errorf("%w: entry for %s has no blob", archive.ErrBlobMissing, entry.URL)
	}
	return s.blobs.Read(entry.BlobFileName)
}

// BlobDir is the directory holding this store's blobs.
func (s *Store) BlobDir() string {
	return s.blobs.Dir()
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
