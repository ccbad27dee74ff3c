package wayback

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/archive"
	"github.com/JakeFAU/waybacker/internal/retry"
)

// Config holds the inputs needed to reach the archive.
type Config struct {
	AvailabilityURL string
}

// Client implements archive.Retriever by resolving and then fetching.
type Client struct {
	resolver *Resolver
	fetcher  *ContentFetcher
}

// NewClient builds a Client whose resolver and fetcher share one transport and
// one retry runner.
func NewClient(cfg Config, getter archive.Getter, runner *retry.Runner, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		resolver: NewResolver(cfg.AvailabilityURL, getter, runner, logger.Named("resolver")),
		fetcher:  NewContentFetcher(getter, runner, logger.Named("fetcher")),
	}
}

// Retrieve produces the FetchOutcome for an already normalized URL.
func (c *Client) Retrieve(ctx context.Context, url string) (archive.FetchOutcome, error) {
	snap, err := c.resolver.Resolve(ctx, url)
	if err != nil {
		return archive.FetchOutcome{}, err
	}
	if snap == nil {
		return archive.Unavailable(), nil
	}
	return c.fetcher.Fetch(ctx, *snap)
}
