// Package market is the historical-data boundary of the simulator. Fetchers
// return raw OHLCV bars; Load turns every failure into an empty result so
// callers only ever see "bars" or "no bars".
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"rltrader/internal/domain"
	"rltrader/internal/util"
)

// Fetcher retrieves historical bars for a symbol in [start, end].
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	return f(ctx, symbol, start, end, interval)
}

// Window returns the lookback range ending at now. A month is 30 days.
func Window(now time.Time, months int) (time.Time, time.Time) {
	return now.AddDate(0, 0, -months*30), now
}

// LoadOptions controls the retry behaviour of Load.
type LoadOptions struct {
	Retries    int
	RetryDelay time.Duration
	Log        *slog.Logger
}

// Load fetches bars for symbol over the lookback window ending at now. It
// retries transient failures and never returns an error: a failed or empty
// fetch yields a nil slice. Returned bars are sorted by timestamp with
// duplicate timestamps removed.
func Load(ctx context.Context, f Fetcher, symbol string, months int, now time.Time, interval domain.Interval, opts LoadOptions) []domain.Bar {
	log := util.OrDiscard(opts.Log).With("symbol", symbol, "interval", string(interval))
	retries := max(opts.Retries, 1)
	start, end := Window(now, months)

	log.Info("fetching historical data", "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))

	policy := util.RetryPolicy{
		Attempts: retries,
		Delay:    opts.RetryDelay,
		Backoff:  util.BackoffFixed,
		OnFailure: func(attempt int, err error) {
			progress := fmt.Sprintf("%d/%d", attempt, retries)
			if errors.Is(err, util.ErrEmpty) {
				log.Warn("no data returned", "attempt", progress)
				return
			}
			log.Warn("fetch failed", "attempt", progress, "err", err)
		},
	}
	bars, err := util.RetryNonEmpty(ctx, policy, func() ([]domain.Bar, error) {
		return f.Fetch(ctx, symbol, start, end, interval)
	})
	if err != nil {
		log.Error("giving up on historical data", "attempts", retries, "err", err)
		return nil
	}

	bars = normalize(symbol, bars)
	log.Info("downloaded historical data", "records", len(bars))
	return bars
}

// normalize sorts bars by time, drops duplicate timestamps (keeping the
// last occurrence) and stamps the symbol.
func normalize(symbol string, bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for _, b := range out {
		if b.Symbol == "" {
			b.Symbol = strings.ToUpper(symbol)
		}
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(b.Timestamp) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}
