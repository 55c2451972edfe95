package market

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"rltrader/internal/domain"
)

// Compile-time interface check.
var _ Fetcher = (*StaticFetcher)(nil)

// StaticFetcher serves fixed, in-memory series keyed by symbol. It ignores
// the requested window and interval. Safe for concurrent use.
type StaticFetcher struct {
	mu     sync.RWMutex
	series map[string][]domain.Bar
	calls  int
}

// NewStaticFetcher creates an empty StaticFetcher.
func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{series: make(map[string][]domain.Bar)}
}

// Set registers bars for symbol.
func (s *StaticFetcher) Set(symbol string, bars []domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]domain.Bar, len(bars))
	copy(cp, bars)
	s.series[strings.ToUpper(symbol)] = cp
}

// Calls returns how many times Fetch has been invoked.
func (s *StaticFetcher) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Fetch returns a copy of the bars registered for symbol, or nil.
func (s *StaticFetcher) Fetch(_ context.Context, symbol string, _, _ time.Time, _ domain.Interval) ([]domain.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	bars := s.series[strings.ToUpper(symbol)]
	if bars == nil {
		return nil, nil
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// ---------------------------------------------------------------------------
// Synthetic series
// ---------------------------------------------------------------------------

// SeriesStart is the first timestamp of generated series.
var SeriesStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// Generate builds n daily bars whose close at index i is price(i).
func Generate(symbol string, n int, price func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := price(i)
		bars[i] = domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: SeriesStart.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

// FlatSeries returns n bars with a constant close.
func FlatSeries(symbol string, n int, price float64) []domain.Bar {
	return Generate(symbol, n, func(int) float64 { return price })
}

// TrendSeries returns n bars starting at start and moving by step per bar.
func TrendSeries(symbol string, n int, start, step float64) []domain.Bar {
	return Generate(symbol, n, func(i int) float64 { return start + step*float64(i) })
}

// WaveSeries returns n bars oscillating around mid with the given amplitude
// and period, which exercises both RSI thresholds.
func WaveSeries(symbol string, n int, mid, amplitude float64, period int) []domain.Bar {
	return Generate(symbol, n, func(i int) float64 {
		return mid + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
	})
}
