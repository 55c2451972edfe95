package sim

import (
	"math"

	"rltrader/internal/domain"
)

// ObservationSize is the length of an Observation.
const ObservationSize = 8

// Observation is the normalized feature vector handed to a policy:
// close, MA20, MA50, cash, shares, RSI, MACD and MACD signal.
type Observation [ObservationSize]float64

// Finite reports whether every component is finite.
func (o Observation) Finite() bool {
	for _, v := range o {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// normalizer holds the per-series denominators. They are computed once at
// construction so that replaying an episode yields identical observations.
type normalizer struct {
	priceMax   float64
	ma20Max    float64
	ma50Max    float64
	balanceMax float64
	sharesMax  float64
	macdScale  float64
}

func newNormalizer(bars []domain.Bar, initialBalance float64) normalizer {
	n := normalizer{balanceMax: initialBalance * 2}
	minClose := math.Inf(1)
	for i := range bars {
		b := &bars[i]
		n.priceMax = maxOf(n.priceMax, b.Close)
		n.ma20Max = maxOf(n.ma20Max, b.Indicators.MA20)
		n.ma50Max = maxOf(n.ma50Max, b.Indicators.MA50)
		n.macdScale = maxOf(n.macdScale, math.Abs(b.Indicators.MACD))
		n.macdScale = maxOf(n.macdScale, math.Abs(b.Indicators.MACDSignal))
		if b.Close < minClose {
			minClose = b.Close
		}
	}
	n.sharesMax = initialBalance / minClose
	if n.macdScale == 0 {
		n.macdScale = 1
	}
	return n
}

// maxOf skips NaN so one corrupt bar only poisons its own observation.
func maxOf(cur, v float64) float64 {
	if v > cur {
		return v
	}
	return cur
}

func (n *normalizer) observe(b *domain.Bar, l Ledger) Observation {
	in := b.Indicators
	return Observation{
		b.Close / n.priceMax,
		in.MA20 / n.ma20Max,
		in.MA50 / n.ma50Max,
		l.Cash / n.balanceMax,
		l.Shares / n.sharesMax,
		in.RSI / 100,
		in.MACD / n.macdScale,
		in.MACDSignal / n.macdScale,
	}
}
