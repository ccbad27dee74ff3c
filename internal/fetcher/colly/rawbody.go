package collyfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/JakeFAU/waybacker/internal/archive"
)

// rawBodyTransport records the bytes of the final response exactly as they
// came off the wire. Colly re-encodes bodies that declare a non-UTF-8
// charset, and snapshots must be stored byte-for-byte.
type rawBodyTransport struct {
	base    http.RoundTripper
	capture *bodyCapture
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("raw body transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("raw body transport base roundtrip: %w", err)
	}
	if t.capture == nil {
		return resp, nil
	}
	// Each redirect hop starts a new capture; the last response wins.
	t.capture.reset(resp.Header.Get("Content-Encoding") == "" || resp.Uncompressed)
	resp.Body = &teeReadCloser{
		Reader: io.TeeReader(resp.Body, t.capture),
		closer: resp.Body,
	}
	return resp, nil
}

type teeReadCloser struct {
	io.Reader
	closer io.Closer
}

func (t *teeReadCloser) Close() error {
	return t.closer.Close()
}

type bodyCapture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	enabled bool
	used    bool
}

func newBodyCapture() *bodyCapture {
	return &bodyCapture{}
}

func (c *bodyCapture) reset(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	c.enabled = enabled
	c.used = true
}

func (c *bodyCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.buf.Write(p)
	}
	return len(p), nil
}

// apply swaps the collector's decoded body for the captured bytes when the
// capture covers the final response.
func (c *bodyCapture) apply(resp *archive.Response) {
	if c == nil || resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.used || !c.enabled {
		return
	}
	if c.buf.Len() == 0 && len(resp.Body) > 0 {
		return
	}
	resp.Body = append([]byte(nil), c.buf.Bytes()...)
}
