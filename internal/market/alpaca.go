package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"rltrader/internal/domain"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher retrieves historical bars from the Alpaca market-data API.
type AlpacaFetcher struct {
	client *marketdata.Client
	feed   string
	pacer  *pacer
	log    *slog.Logger
}

// NewAlpacaFetcher creates an AlpacaFetcher with the given credentials. An
// empty dataURL uses the SDK default endpoint; an empty feed uses "iex".
func NewAlpacaFetcher(apiKey, apiSecret, dataURL, feed string, rateLimitPerMin int) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &AlpacaFetcher{
		client: marketdata.NewClient(opts),
		feed:   feed,
		pacer:  newPacer(rateLimitPerMin),
		log:    slog.Default().With("fetcher", "alpaca"),
	}
}

// Fetch returns bars for symbol between start and end at the given interval.
func (f *AlpacaFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	tf, err := timeFrame(interval)
	if err != nil {
		return nil, err
	}
	if err := f.pacer.wait(ctx); err != nil {
		return nil, err
	}

	alpacaBars, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(f.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	f.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}

func timeFrame(interval domain.Interval) (marketdata.TimeFrame, error) {
	switch interval {
	case domain.IntervalDaily, "":
		return marketdata.OneDay, nil
	case domain.IntervalMinute:
		return marketdata.OneMin, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
	}
}

// pacer spaces market-data requests evenly so a burst of loads stays under
// Alpaca's per-minute request quota. Each caller reserves the next free
// slot, then sleeps until it arrives.
type pacer struct {
	gap time.Duration
	now func() time.Time

	mu   sync.Mutex
	next time.Time
}

func newPacer(perMinute int) *pacer {
	return &pacer{gap: time.Minute / time.Duration(max(perMinute, 1)), now: time.Now}
}

// wait blocks until the caller's slot. A cancelled caller gives its slot
// back only if no later caller has reserved one.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.gap)
	p.mu.Unlock()

	d := slot.Sub(now)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if p.next.Equal(slot.Add(p.gap)) {
			p.next = slot
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}
