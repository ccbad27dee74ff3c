// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowPrecision checks timestamps carry no sub-microsecond digits.
func TestClockNowPrecision(t *testing.T) {
	t.Parallel()

	got := New().Now()
	if got.Nanosecond()%1000 != 0 {
		t.Fatalf("expected microsecond precision, got %d ns", got.Nanosecond())
	}
	if !got.Equal(got.Round(0)) || got != got.Round(0) {
		t.Fatalf("expected no monotonic clock reading in %v", got)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}
