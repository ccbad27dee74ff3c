// Package leveldbstore keeps cache entry metadata in a goleveldb database.
package leveldbstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/JakeFAU/waybacker/internal/archive"
)

const (
	entryPrefix   = "entry:"
	schemaKey     = "schema:version"
	schemaVersion = "1"
)

// Backend stores one JSON document per normalized URL under "entry:<url>".
type Backend struct {
	db *leveldb.DB
}

// Open opens or creates the database at path. Opening an existing database
// keeps its contents.
func Open(path string) (*Backend, error) {
	return open(path, nil)
}

// OpenExisting opens the database at path and fails if it does not exist.
func OpenExisting(path string) (*Backend, error) {
	return open(path, &opt.Options{ErrorIfMissing: true})
}

func open(path string, o *opt.Options) (*Backend, error) {
	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	b := &Backend{db: db}
	if err := b.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureSchema() error {
	version, err := b.db.Get([]byte(schemaKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		if err := b.db.Put([]byte(schemaKey), []byte(schemaVersion), &opt.WriteOptions{Sync: true}); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case string(version) != schemaVersion:
		return fmt.Errorf("unsupported schema version %q", version)
	default:
		return nil
	}
}

// Lookup returns the entries stored for url. Keys are unique, so the result
// holds at most one entry.
func (b *Backend) Lookup(ctx context.Context, url string) ([]archive.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := b.db.Get(entryKey(url), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	return []archive.CacheEntry{entry}, nil
}

// Upsert inserts or replaces the entry keyed by entry.URL.
func (b *Backend) Upsert(ctx context.Context, entry archive.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := b.db.Put(entryKey(entry.URL), raw, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// Scan enumerates every entry. Each call opens a new iterator.
func (b *Backend) Scan(ctx context.Context) iter.Seq2[archive.CacheEntry, error] {
	return func(yield func(archive.CacheEntry, error) bool) {
		it := b.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
		defer it.Release()

		for it.Next() {
			if err := ctx.Err(); err != nil {
				yield(archive.CacheEntry{}, err)
				return
			}
			entry, err := decodeEntry(it.Value())
			if err != nil {
				yield(archive.CacheEntry{}, fmt.Errorf("key %q: %w", it.Key(), err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(archive.CacheEntry{}, fmt.Errorf("iterate entries: %w", err))
		}
	}
}

// Close closes the database.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func entryKey(url string) []byte {
	return []byte(entryPrefix + url)
}

func decodeEntry(raw []byte) (archive.CacheEntry, error) {
	var entry archive.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return archive.CacheEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}
