package cache_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/cache"
	collyfetcher "github.com/JakeFAU/waybacker/internal/fetcher/colly"
	"github.com/JakeFAU/waybacker/internal/retry"
	"github.com/JakeFAU/waybacker/internal/store"
	"github.com/JakeFAU/waybacker/internal/wayback"
)

type tickingClock struct{ now time.Time }

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Dir: t.TempDir()}, nil,
		store.WithClock(&tickingClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeArchive serves both the availability endpoint and snapshot content and
// counts every request it receives.
type fakeArchive struct {
	availability *httptest.Server
	content      *httptest.Server

	availabilityCalls atomic.Int32
	contentCalls      atomic.Int32

	mu          sync.Mutex
	snapshots   map[string]string
	contentType string
	body        string
}

func (fa *fakeArchive) addSnapshot(url, path string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.snapshots[url] = path
}

func (fa *fakeArchive) serve(contentType, body string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.contentType = contentType
	fa.body = body
}

func newFakeArchive(t *testing.T) *fakeArchive {
	t.Helper()
	fa := &fakeArchive{snapshots: map[string]string{}, contentType: "text/html", body: "<html></html>"}
	fa.content = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fa.contentCalls.Add(1)
		fa.mu.Lock()
		contentType, body := fa.contentType, fa.body
		fa.mu.Unlock()
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	fa.availability = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fa.availabilityCalls.Add(1)
		fa.mu.Lock()
		path, ok := fa.snapshots[r.URL.Query().Get("url")]
		fa.mu.Unlock()
		if !ok {
			_, _ = w.Write([]byte(`{"archived_snapshots":{}}`))
			return
		}
		_, _ = w.Write([]byte(`{"archived_snapshots":{"closest":{"available":true,"status":"200","timestamp":"20240101000000","url":"` +
			fa.content.URL + path + `"}}}`))
	}))
	t.Cleanup(fa.availability.Close)
	t.Cleanup(fa.content.Close)
	return fa
}

func (fa *fakeArchive) calls() int {
	return int(fa.availabilityCalls.Load() + fa.contentCalls.Load())
}

func newCache(t *testing.T, s archive.Store, fa *fakeArchive) *cache.Cache {
	t.Helper()
	runner := retry.NewRunner(retry.Policy{Attempts: 3, Delay: time.Minute}, zap.NewNop(),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	client := wayback.NewClient(wayback.Config{AvailabilityURL: fa.availability.URL},
		collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), runner, nil)
	c, err := cache.New(s, client, nil)
	require.NoError(t, err)
	return c
}

func TestGetUnavailableIsCachedWithoutFurtherCalls(t *testing.T) {
	t.Parallel()
	fa := newFakeArchive(t)
	c := newCache(t, openStore(t), fa)
	ctx := context.Background()

	first, err := c.Get(ctx, "https://example.com/", cache.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", first.URL)
	assert.False(t, first.Success)
	assert.Equal(t, archive.ErrorUnavailable, first.ErrorKind)
	assert.Equal(t, int32(1), fa.availabilityCalls.Load())
	assert.Zero(t, fa.contentCalls.Load())

	second, err := c.Get(ctx, "https://example.com/", cache.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fa.calls(), "cache hit issues no network calls")
}

func TestGetHTMLSnapshotStoresExactBlob(t *testing.T) {
	t.Parallel()
	fa := newFakeArchive(t)
	fa.addSnapshot("https://example.com/page", "/web/20240101000000/https://example.com/page")
	s := openStore(t)
	c := newCache(t, s, fa)
	ctx := context.Background()

	entry, err := c.Get(ctx, "https://example.com/page", cache.GetOptions{})
	require.NoError(t, err)
	assert.True(t, entry.Success)
	assert.Equal(t, archive.MimeHTML, entry.MimeKind)
	require.NotNil(t, entry.Snapshot)
	assert.Equal(t, 200, entry.Snapshot.Status)
	assert.Equal(t, int32(1), fa.availabilityCalls.Load())
	assert.Equal(t, int32(1), fa.contentCalls.Load())

	// #nosec G304 -- test reads from the controlled temp directory.
	blob, err := os.ReadFile(entry.BlobPath(c.BlobDir()))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(blob))

	again, err := c.Get(ctx, "https://example.com/page#section", cache.GetOptions{RetryUnsuccessful: true})
	require.NoError(t, err)
	assert.Equal(t, entry, again)
	assert.Equal(t, 2, fa.calls(), "successful entries are not retried")

	got, data, err := c.ReadBlob(ctx, "https://example.com/page/")
	require.NoError(t, err)
	assert.Equal(t, entry.URL, got.URL)
	assert.Equal(t, "<html></html>", string(data))
}

func TestGetOverwriteAlwaysRefetches(t *testing.T) {
	t.Parallel()
	fa := newFakeArchive(t)
	fa.addSnapshot("https://example.com/doc", "/doc")
	c := newCache(t, openStore(t), fa)
	ctx := context.Background()

	first, err := c.Get(ctx, "https://example.com/doc", cache.GetOptions{})
	require.NoError(t, err)

	fa.serve("application/pdf", "%PDF-1.7")
	second, err := c.Get(ctx, "https://example.com/doc", cache.GetOptions{OverwriteEntry: true})
	require.NoError(t, err)
	assert.Equal(t, 4, fa.calls())
	assert.Equal(t, archive.MimePDF, second.MimeKind)
	assert.NotEqual(t, first.BlobFileName, second.BlobFileName)
	assert.FileExists(t, first.BlobPath(c.BlobDir()), "superseded blob is kept")

	looked, err := c.Lookup(ctx, "https://example.com/doc")
	require.NoError(t, err)
	assert.Equal(t, second, *looked)
}

func TestGetRetryUnsuccessfulRefetchesFailures(t *testing.T) {
	t.Parallel()
	fa := newFakeArchive(t)
	c := newCache(t, openStore(t), fa)
	ctx := context.Background()

	failed, err := c.Get(ctx, "https://late.example", cache.GetOptions{})
	require.NoError(t, err)
	require.False(t, failed.Success)

	fa.addSnapshot("https://late.example", "/late")

	cached, err := c.Get(ctx, "https://late.example", cache.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, failed, cached)
	assert.Equal(t, 1, fa.calls())

	refreshed, err := c.Get(ctx, "https://late.example", cache.GetOptions{RetryUnsuccessful: true})
	require.NoError(t, err)
	assert.True(t, refreshed.Success)
	assert.Empty(t, refreshed.ErrorKind)
	assert.Equal(t, 3, fa.calls())
}

func TestGetUnknownMimeTypeIsCached(t *testing.T) {
	t.Parallel()
	fa := newFakeArchive(t)
	fa.addSnapshot("https://example.com/logo", "/logo")
	fa.serve("image/png", "")
	c := newCache(t, openStore(t), fa)

	entry, err := c.Get(context.Background(), "https://example.com/logo", cache.GetOptions{})
	require.NoError(t, err)
	assert.False(t, entry.Success)
	assert.Equal(t, archive.ErrorMimeType, entry.ErrorKind)
	assert.Equal(t, `Unknown mime-type: "image/png"`, entry.Error)
	assert.Equal(t, int32(1), fa.contentCalls.Load(), "unknown mime types are not retried")
}

type stubRetriever struct {
	outcome archive.FetchOutcome
	err     error
	calls   int
}

func (r *stubRetriever) Retrieve(context.Context, string) (archive.FetchOutcome, error) {
	r.calls++
	return r.outcome, r.err
}

func TestGetRetrievalFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	retriever := &stubRetriever{outcome: archive.Unavailable()}
	c, err := cache.New(s, retriever, nil)
	require.NoError(t, err)
	ctx := context.Background()

	prior, err := c.Get(ctx, "https://example.com", cache.GetOptions{})
	require.NoError(t, err)

	retriever.err = retry.ErrExhausted
	_, err = c.Get(ctx, "https://example.com", cache.GetOptions{OverwriteEntry: true})
	require.ErrorIs(t, err, retry.ErrExhausted)

	_, err = c.Get(ctx, "https://fresh.example", cache.GetOptions{})
	require.Error(t, err)

	got, err := c.Lookup(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, prior, *got)

	missing, err := c.Lookup(ctx, "https://fresh.example")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetNormalizesKeys(t *testing.T) {
	t.Parallel()
	retriever := &stubRetriever{outcome: archive.Unavailable()}
	c, err := cache.New(openStore(t), retriever, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, raw := range []string{" https://example.com/a/ ", "https://example.com/a#top", "https://example.com/a"} {
		entry, err := c.Get(ctx, raw, cache.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", entry.URL)
	}
	assert.Equal(t, 1, retriever.calls)

	_, err = c.Get(ctx, " /#", cache.GetOptions{})
	require.ErrorIs(t, err, archive.ErrEmptyURL)
	_, err = c.Lookup(ctx, "")
	require.ErrorIs(t, err, archive.ErrEmptyURL)
}

func TestReadBlobForMissingOrFailedEntry(t *testing.T) {
	t.Parallel()
	c, err := cache.New(openStore(t), &stubRetriever{outcome: archive.Unavailable()}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = c.ReadBlob(ctx, "https://example.com")
	require.ErrorIs(t, err, archive.ErrBlobMissing)

	_, err = c.Get(ctx, "https://example.com", cache.GetOptions{})
	require.NoError(t, err)
	_, _, err = c.ReadBlob(ctx, "https://example.com")
	require.ErrorIs(t, err, archive.ErrBlobMissing)
}

func entryURLs(t *testing.T, c *cache.Cache) []string {
	t.Helper()
	var urls []string
	for entry, err := range c.Entries(context.Background()) {
		require.NoError(t, err)
		urls = append(urls, entry.URL)
	}
	sort.Strings(urls)
	return urls
}

func TestAbsorbIsIdempotentUnion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	foreignStore := openStore(t)
	snap := archive.SnapshotReference{Available: true, Status: 200, SnapshotURL: "http://web.archive.org/x"}
	_, err := foreignStore.Add(ctx, "https://a.example", archive.Success(snap, archive.MimeHTML, []byte("<p>a</p>")))
	require.NoError(t, err)
	_, err = foreignStore.Add(ctx, "https://b.example", archive.Unavailable())
	require.NoError(t, err)
	_, err = foreignStore.Add(ctx, "https://shared.example", archive.Success(snap, archive.MimePDF, []byte("foreign")))
	require.NoError(t, err)

	localStore := openStore(t)
	_, err = localStore.Add(ctx, "https://shared.example", archive.Unavailable())
	require.NoError(t, err)

	c, err := cache.New(localStore, &stubRetriever{}, nil)
	require.NoError(t, err)

	stats, err := c.Absorb(ctx, foreignStore)
	require.NoError(t, err)
	assert.Equal(t, cache.AbsorbStats{Copied: 2, Skipped: 1}, stats)
	afterFirst := entryURLs(t, c)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://shared.example"}, afterFirst)

	shared, err := c.Lookup(ctx, "https://shared.example")
	require.NoError(t, err)
	assert.False(t, shared.Success, "local entries are never overwritten")

	_, data, err := c.ReadBlob(ctx, "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p>", string(data))

	stats, err = c.Absorb(ctx, foreignStore)
	require.NoError(t, err)
	assert.Equal(t, cache.AbsorbStats{Copied: 0, Skipped: 3}, stats)
	assert.Equal(t, afterFirst, entryURLs(t, c))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	_, err := cache.New(nil, &stubRetriever{}, nil)
	require.Error(t, err)
	_, err = cache.New(openStore(t), nil, nil)
	require.Error(t, err)

	c, err := cache.New(openStore(t), &stubRetriever{}, nil)
	require.NoError(t, err)
	_, err = c.Absorb(context.Background(), nil)
	require.Error(t, err)
}
