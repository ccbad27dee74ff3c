package wayback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/retry"
)

const fetchOperation = "fetch snapshot"

// Classify maps a Content-Type header to a mime kind. The boolean is false
// for content types without a blob representation.
func Classify(contentType string) (archive.MimeKind, bool) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/pdf"):
		return archive.MimePDF, true
	case strings.Contains(ct, "text/html"):
		return archive.MimeHTML, true
	default:
		return "", false
	}
}

// ContentFetcher downloads snapshot content.
type ContentFetcher struct {
	getter archive.Getter
	runner *retry.Runner
	logger *zap.Logger
}

// NewContentFetcher builds a ContentFetcher.
func NewContentFetcher(getter archive.Getter, runner *retry.Runner, logger *zap.Logger) *ContentFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFetcher{getter: getter, runner: runner, logger: logger}
}

// Fetch downloads the snapshot and classifies it. An unrecognized content type
// is a soft failure and is returned as an UnknownMimeType outcome.
func (f *ContentFetcher) Fetch(ctx context.Context, snap archive.SnapshotReference) (archive.FetchOutcome, error) {
	resp, err := retry.Do(ctx, f.runner, fetchOperation, func(ctx context.Context) retry.Result[archive.Response] {
		return f.attempt(ctx, snap.SnapshotURL)
	})
	if err != nil {
		return archive.FetchOutcome{}, fmt.Errorf("fetch %s: %w", snap.SnapshotURL, err)
	}

	header := resp.Headers.Get("Content-Type")
	kind, ok := Classify(header)
	if !ok {
		f.logger.Info("unknown mime type",
			zap.String("snapshot_url", snap.SnapshotURL),
			zap.String("content_type", header),
		)
		return archive.UnknownMimeType(snap, header), nil
	}
	f.logger.Debug("fetched snapshot",
		zap.String("snapshot_url", snap.SnapshotURL),
		zap.String("mime_kind", string(kind)),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return archive.Success(snap, kind, resp.Body), nil
}

func (f *ContentFetcher) attempt(ctx context.Context, snapshotURL string) retry.Result[archive.Response] {
	if err := ctx.Err(); err != nil {
		return retry.Terminal[archive.Response](err)
	}
	resp, err := f.getter.Get(ctx, snapshotURL)
	if errors.Is(err, archive.ErrBodyTruncated) {
		return retry.Terminal[archive.Response](err)
	}
	if err != nil {
		return retry.Retryable[archive.Response](fmt.Errorf("get snapshot: %w", err))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return retry.Retryable[archive.Response](fmt.Errorf("snapshot returned status %d", resp.StatusCode))
	}
	return retry.Succeed(resp)
}
