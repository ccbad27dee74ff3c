package archive

import (
	"context"
	"iter"
	"net/http"
	"time"
)

// Store persists cache entries keyed by normalized URL together with their blobs.
type Store interface {
	// Get returns the entry stored for url, or nil when none exists.
	Get(ctx context.Context, url string) (*CacheEntry, error)
	// Add writes the outcome for url, replacing any previous entry, and returns
	// the committed entry.
	Add(ctx context.Context, url string, outcome FetchOutcome) (CacheEntry, error)
	// Entries enumerates every stored entry. Each call starts a fresh pass.
	Entries(ctx context.Context) iter.Seq2[CacheEntry, error]
	// CopyEntry imports an entry produced by another store whose blobs live in
	// foreignBlobDir.
	CopyEntry(ctx context.Context, entry CacheEntry, foreignBlobDir string) error
	// ReadBlob returns the artifact of a successful entry.
	ReadBlob(ctx context.Context, entry CacheEntry) ([]byte, error)
	// BlobDir is the directory holding this store's blobs.
	BlobDir() string
}

// Retriever resolves and downloads the archived copy of a URL.
type Retriever interface {
	Retrieve(ctx context.Context, url string) (FetchOutcome, error)
}

// Getter issues a single HTTP GET.
type Getter interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Response is the result returned by a Getter implementation.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Hasher computes digests for blob integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
