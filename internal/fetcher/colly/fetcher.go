// Package collyfetcher implements archive.Getter using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/waybacker/internal/archive"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior. A zero MaxBodyBytes reads bodies in
// full; a body that reaches a positive limit is rejected with
// archive.ErrBodyTruncated.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements archive.Getter using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	return NewWithTransport(cfg, newHTTPTransport())
}

// NewWithTransport builds a Fetcher on top of an existing round tripper.
func NewWithTransport(cfg Config, transport http.RoundTripper) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes < 0 {
		cfg.MaxBodyBytes = 0
	}
	if transport == nil {
		transport = newHTTPTransport()
	}

	return &Fetcher{
		cfg:       cfg,
		transport: transport,
	}
}

// Get executes a single HTTP GET. Responses with any status code are
// returned; only transport failures produce an error.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (archive.Response, error) {
	var (
		result   archive.Response
		fetchErr error
	)
	start := time.Now()
	collector, capture := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return archive.Response{}, err
	}
	capture.apply(&result)
	if err := f.checkComplete(result); err != nil {
		return archive.Response{}, err
	}
	return result, nil
}

// readLimit reads one byte past MaxBodyBytes so an oversized body can be told
// apart from one that is exactly at the limit.
func (f *Fetcher) readLimit() int {
	if f.cfg.MaxBodyBytes <= 0 {
		return 0
	}
	return f.cfg.MaxBodyBytes + 1
}

// checkComplete rejects bodies over MaxBodyBytes and bodies shorter than the
// declared Content-Length. Colly truncates silently in both cases.
func (f *Fetcher) checkComplete(resp archive.Response) error {
	if f.cfg.MaxBodyBytes > 0 && len(resp.Body) > f.cfg.MaxBodyBytes {
		return fmt.Errorf("%w: %s exceeds the %d byte limit", archive.ErrBodyTruncated, resp.URL, f.cfg.MaxBodyBytes)
	}
	if resp.Headers == nil || resp.Headers.Get("Content-Encoding") != "" {
		return nil
	}
	declared, err := strconv.Atoi(resp.Headers.Get("Content-Length"))
	if err != nil || declared <= len(resp.Body) {
		return nil
	}
	return fmt.Errorf("%w: %s declared %d bytes, read %d", archive.ErrBodyTruncated, resp.URL, declared, len(resp.Body))
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *archive.Response,
	fetchErr *error,
) (*colly.Collector, *bodyCapture) {
	// Clones share their backend client, so each request gets its own
	// collector. The pooled transport underneath is still shared.
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(f.readLimit()),
	)
	collector.ParseHTTPErrorResponse = true
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	capture := newBodyCapture()
	collector.WithTransport(&rawBodyTransport{
		base:    f.transport,
		capture: capture,
	})

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector, capture
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *archive.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = archive.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, colly only reports transport
		// failures here.
		if r != nil && r.StatusCode != 0 {
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
