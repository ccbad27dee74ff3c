// Package wayback talks to the Wayback Machine: it resolves the closest
// snapshot of a URL and downloads and classifies the snapshot content.
package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/retry"
)

// DefaultAvailabilityURL is the public availability endpoint.
const DefaultAvailabilityURL = "https://archive.org/wayback/available"

const resolveOperation = "resolve snapshot"

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *closestSnapshot `json:"closest"`
	} `json:"archived_snapshots"`
}

type closestSnapshot struct {
	Available bool            `json:"available"`
	URL       *string         `json:"url"`
	Status    json.RawMessage `json:"status"`
	Timestamp string          `json:"timestamp"`
}

// Resolver asks the availability endpoint for the snapshot closest to a URL.
type Resolver struct {
	endpoint string
	getter   archive.Getter
	runner   *retry.Runner
	logger   *zap.Logger
}

// NewResolver builds a Resolver. An empty endpoint uses DefaultAvailabilityURL.
func NewResolver(endpoint string, getter archive.Getter, runner *retry.Runner, logger *zap.Logger) *Resolver {
	if endpoint == "" {
		endpoint = DefaultAvailabilityURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		endpoint: endpoint,
		getter:   getter,
		runner:   runner,
		logger:   logger,
	}
}

// Resolve returns the closest snapshot of rawURL, or nil when the archive
// holds none. Transport failures and malformed responses are retried under
// the runner's policy.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*archive.SnapshotReference, error) {
	requestURL := r.requestURL(rawURL)
	snap, err := retry.Do(ctx, r.runner, resolveOperation, func(ctx context.Context) retry.Result[*archive.SnapshotReference] {
		return r.attempt(ctx, requestURL)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}
	if snap == nil {
		r.logger.Info("no snapshot found", zap.String("url", rawURL))
	}
	return snap, nil
}

func (r *Resolver) requestURL(rawURL string) string {
	sep := "?"
	if strings.Contains(r.endpoint, "?") {
		sep = "&"
	}
	return r.endpoint + sep + url.Values{"url": {rawURL}}.Encode()
}

func (r *Resolver) attempt(ctx context.Context, requestURL string) retry.Result[*archive.SnapshotReference] {
	if err := ctx.Err(); err != nil {
		return retry.Terminal[*archive.SnapshotReference](err)
	}
	resp, err := r.getter.Get(ctx, requestURL)
	if errors.Is(err, archive.ErrBodyTruncated) {
		return retry.Terminal[*archive.SnapshotReference](err)
	}
	if err != nil {
		return retry.Retryable[*archive.SnapshotReference](fmt.Errorf("get availability: %w", err))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return retry.Retryable[*archive.SnapshotReference](
			fmt.Errorf("availability endpoint returned status %d", resp.StatusCode))
	}
	snap, err := parseAvailability(resp.Body)
	if err != nil {
		return retry.Retryable[*archive.SnapshotReference](err)
	}
	return retry.Succeed(snap)
}

func parseAvailability(body []byte) (*archive.SnapshotReference, error) {
	var payload availabilityResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode availability: %w", archive.ErrMalformedSnapshot, err)
	}
	closest := payload.ArchivedSnapshots.Closest
	if closest == nil {
		return nil, nil
	}
	if !closest.Available {
		return nil, fmt.Errorf("%w: snapshot not available", archive.ErrMalformedSnapshot)
	}
	if closest.URL == nil || *closest.URL == "" {
		return nil, fmt.Errorf("%w: snapshot url is null", archive.ErrMalformedSnapshot)
	}
	status, err := parseStatus(closest.Status)
	if err != nil {
		return nil, err
	}
	return &archive.SnapshotReference{
		Available:   closest.Available,
		Status:      status,
		Timestamp:   closest.Timestamp,
		SnapshotURL: *closest.URL,
	}, nil
}

// parseStatus accepts the archive's quoted status ("200") as well as a bare
// number. A missing status is zero.
func parseStatus(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return 0, nil
		}
		status, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return 0, fmt.Errorf("%w: snapshot status %q: %w", archive.ErrMalformedSnapshot, text, err)
		}
		return status, nil
	}
	var number int
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("%w: snapshot status %s: %w", archive.ErrMalformedSnapshot, raw, err)
	}
	return number, nil
}
