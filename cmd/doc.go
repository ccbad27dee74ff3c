// Package cmd defines and implements the CLI commands for the waybacker executable.
//
// Architecture overview:
//   - Cache: internal/cache.Cache answers every request from the store first and only reaches the
//     Wayback Machine when no entry exists or the caller asks for a refresh.
//   - Archive client: internal/wayback resolves the closest snapshot through the availability API and downloads
//     it with the Colly-based fetcher. Both calls share one retry runner so transient failures wait
//     retry.delay_seconds between attempts.
//   - Persistence: entries live in goleveldb (default) or Postgres; artifacts are written to <store.dir>/pages
//     before their entry is committed.
//   - Serving: the serve subcommand exposes the same operations over HTTP with chi, zap request logs, and
//     Prometheus metrics at /metrics.
//
// Quick checklist:
//   - Configure env vars: WAYBACKER_STORE_DIR (or WAYBACKER_DIR), WAYBACKER_STORE_BACKEND (or WAYBACKER_DB),
//     WAYBACKER_RETRY_DELAY_SECONDS (or WAYBACKER_SLEEP), WAYBACKER_STORE_POSTGRES_DSN when using Postgres.
//   - Run locally: go run . get https://example.com
package cmd
