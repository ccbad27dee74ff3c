package collyfetcher

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/waybacker/internal/archive"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubResponse(header http.Header, body string) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	}
}

func TestRawBodyTransportCapturesLastResponse(t *testing.T) {
	t.Parallel()

	capture := newBodyCapture()
	transport := &rawBodyTransport{base: stubResponse(http.Header{}, "raw bytes"), capture: capture}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	out := archive.Response{Body: []byte("decoded")}
	capture.apply(&out)
	assert.Equal(t, "raw bytes", string(out.Body))
}

func TestRawBodyTransportSkipsEncodedBodies(t *testing.T) {
	t.Parallel()

	capture := newBodyCapture()
	transport := &rawBodyTransport{
		base:    stubResponse(http.Header{"Content-Encoding": {"gzip"}}, "compressed"),
		capture: capture,
	}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := archive.Response{Body: []byte("decompressed")}
	capture.apply(&out)
	assert.Equal(t, "decompressed", string(out.Body))
}

func TestRawBodyTransportRejectsNilRequest(t *testing.T) {
	t.Parallel()

	transport := &rawBodyTransport{base: stubResponse(nil, ""), capture: newBodyCapture()}
	_, err := transport.RoundTrip(nil)
	require.Error(t, err)
}

func TestBodyCaptureUnusedLeavesResponse(t *testing.T) {
	t.Parallel()

	out := archive.Response{Body: []byte("kept")}
	newBodyCapture().apply(&out)
	assert.Equal(t, "kept", string(out.Body))
}
