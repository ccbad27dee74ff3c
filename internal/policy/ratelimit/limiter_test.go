package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/waybacker/internal/archive"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	// Consume initial token.
	if err := l.Wait(ctx, "https://archive.org/wayback/available"); err != nil {
		t.Fatal(err)
	}

	// 10 RPS leaves ~100ms until the next token for the same host.
	start := time.Now()
	if err := l.Wait(ctx, "https://archive.org/wayback/available?url=x"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}

	// Other hosts have their own bucket.
	start = time.Now()
	if err := l.Wait(ctx, "https://web.archive.org/web/2024/x"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected no wait for a fresh host, got %v", dur)
	}
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "https://archive.org"); err != nil {
			t.Fatal(err)
		}
	}
	if dur := time.Since(start); dur > 100*time.Millisecond {
		t.Errorf("unlimited limiter blocked for %v", dur)
	}
}

func TestLimiter_WaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	if err := l.Wait(context.Background(), "https://archive.org"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://archive.org"); err == nil {
		t.Fatal("expected wait to fail once the context is done")
	}
}

type recordingGetter struct {
	urls []string
}

func (g *recordingGetter) Get(_ context.Context, rawURL string) (archive.Response, error) {
	g.urls = append(g.urls, rawURL)
	return archive.Response{URL: rawURL, StatusCode: 200}, nil
}

func TestGetterDelegatesAfterWaiting(t *testing.T) {
	t.Parallel()

	next := &recordingGetter{}
	g := Wrap(New(Config{RPS: 0.01, Burst: 1}), next)

	resp, err := g.Get(context.Background(), "https://archive.org/a")
	if err != nil {
		t.Fatal(err)
	}
	if resp.URL != "https://archive.org/a" {
		t.Errorf("unexpected response url %q", resp.URL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Get(ctx, "https://archive.org/b"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(next.urls) != 1 {
		t.Errorf("expected one delegated request, got %d", len(next.urls))
	}
}
