package market

import (
	"context"
	"log/slog"
	"time"

	"rltrader/internal/domain"
	"rltrader/internal/store"
)

// Compile-time interface check.
var _ Fetcher = (*CachedFetcher)(nil)

// CachedFetcher serves bars from a BarStore and falls back to an upstream
// Fetcher when the cache does not cover the requested range. Upstream
// results are written back to the store.
type CachedFetcher struct {
	upstream Fetcher
	store    store.BarStore
	log      *slog.Logger
}

// NewCachedFetcher wraps upstream with a read-through cache.
func NewCachedFetcher(upstream Fetcher, s store.BarStore) *CachedFetcher {
	return &CachedFetcher{
		upstream: upstream,
		store:    s,
		log:      slog.Default().With("fetcher", "cache"),
	}
}

// Fetch returns cached bars when they span [start, end] to within the
// staleness tolerance for the interval; otherwise it fetches upstream.
func (c *CachedFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	cached, err := c.store.ReadBars(ctx, symbol, interval, start, end)
	if err != nil {
		c.log.Warn("cache read failed", "symbol", symbol, "err", err)
	} else if covers(cached, start, end, interval) {
		c.log.Debug("cache hit", "symbol", symbol, "count", len(cached))
		return cached, nil
	}

	bars, err := c.upstream.Fetch(ctx, symbol, start, end, interval)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.store.WriteBars(ctx, interval, bars); err != nil {
			c.log.Warn("cache write failed", "symbol", symbol, "err", err)
		}
	}
	return bars, nil
}

// covers reports whether bars plausibly span [start, end]. Weekends and
// holidays mean daily data may begin or end a few days inside the window.
func covers(bars []domain.Bar, start, end time.Time, interval domain.Interval) bool {
	if len(bars) == 0 {
		return false
	}
	slack := 4 * 24 * time.Hour
	if interval == domain.IntervalMinute {
		slack = 3 * 24 * time.Hour
	}
	first := bars[0].Timestamp
	last := bars[len(bars)-1].Timestamp
	return first.Sub(start) <= slack && end.Sub(last) <= slack
}
