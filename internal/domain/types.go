// Package domain defines the core market and portfolio types shared across
// the rltrader packages.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Bar is a single OHLCV bar. Indicators is nil until technical indicators
// have been attached; individual indicator values are NaN while a rolling
// or EMA window is still warming up.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
	Indicators *Indicators
}

// Indicators holds the technical indicator columns attached to a bar.
type Indicators struct {
	MA20       float64
	MA50       float64
	RSI        float64
	MACD       float64
	MACDSignal float64
}

// Finite reports whether every indicator value is defined.
func (in *Indicators) Finite() bool {
	if in == nil {
		return false
	}
	for _, v := range [...]float64{in.MA20, in.MA50, in.RSI, in.MACD, in.MACDSignal} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Side is a discrete trading decision. The numeric values match the
// action indices exposed to discrete policies.
type Side int

const (
	SideHold Side = 0
	SideBuy  Side = 1
	SideSell Side = 2
)

// NumSides is the size of the discrete action space.
const NumSides = 3

// Valid reports whether s is one of Hold, Buy or Sell.
func (s Side) Valid() bool {
	return s >= SideHold && s <= SideSell
}

func (s Side) String() string {
	switch s {
	case SideHold:
		return "hold"
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "invalid"
	}
}

// MarshalText encodes the side by name so JSON payloads stay readable.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name written by MarshalText.
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hold":
		*s = SideHold
	case "buy":
		*s = SideBuy
	case "sell":
		*s = SideSell
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// Interval is a bar timeframe understood by the data layer.
type Interval string

const (
	IntervalDaily  Interval = "1d"
	IntervalMinute Interval = "1m"
)

// Closes returns the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}
