package builtins

import (
	"math"

	"rltrader/internal/domain"
	"rltrader/internal/indicators"
	"rltrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIThreshold)(nil)

const (
	DefaultRSILow  = 30.0
	DefaultRSIHigh = 70.0
)

// RSIThreshold buys when the 14-period RSI is below low and sells when it is
// above high. It is stateless: the decision depends only on the visible
// history.
type RSIThreshold struct {
	low  float64
	high float64
}

// NewRSIThreshold creates an RSIThreshold with the given bounds.
func NewRSIThreshold(low, high float64) *RSIThreshold {
	return &RSIThreshold{low: low, high: high}
}

// Name returns "rsi-threshold".
func (s *RSIThreshold) Name() string {
	return "rsi-threshold"
}

// Decide reads the RSI attached to the last visible bar, or computes it from
// the visible closes when none is attached. An undefined RSI holds.
func (s *RSIThreshold) Decide(history []domain.Bar) domain.Side {
	if len(history) == 0 {
		return domain.SideHold
	}
	rsi := math.NaN()
	if in := history[len(history)-1].Indicators; in != nil {
		rsi = in.RSI
	}
	if math.IsNaN(rsi) {
		values := indicators.RSI(domain.Closes(history), indicators.RSIWindow)
		rsi = values[len(values)-1]
	}

	switch {
	case rsi < s.low:
		return domain.SideBuy
	case rsi > s.high:
		return domain.SideSell
	default:
		return domain.SideHold
	}
}
