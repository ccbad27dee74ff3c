package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if cacheLookupsTotal == nil || fetchOutcomesTotal == nil || retryAttemptsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveLookup("hit")
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")); got != before+1 {
		t.Errorf("expected hit lookups %v, got %v", before+1, got)
	}

	ObserveOutcome("https://metrics-test.example/page", "success", 42)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")); got != 42 {
		t.Errorf("expected 42 bytes recorded, got %v", got)
	}

	ObserveAttempt("metrics test", "retryable")
	if got := testutil.ToFloat64(retryAttemptsTotal.WithLabelValues("metrics test", "retryable")); got != 1 {
		t.Errorf("expected one attempt recorded, got %v", got)
	}

	ObserveHTTPRequest("GET", "/metrics-test", 200, 10*time.Millisecond)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); got < 1 {
		t.Errorf("expected http request counter to be incremented, got %v", got)
	}
}
