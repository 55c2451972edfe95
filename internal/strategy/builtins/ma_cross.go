package builtins

import (
	"rltrader/internal/domain"
	"rltrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACross)(nil)

// MACross implements a moving average crossover on the attached MA20 and
// MA50 columns. It buys on the bar where MA20 crosses above MA50 and sells
// on the bar where it crosses below.
type MACross struct{}

// NewMACross creates a new MACross strategy.
func NewMACross() *MACross {
	return &MACross{}
}

// Name returns "ma-cross".
func (s *MACross) Name() string {
	return "ma-cross"
}

// Decide compares the last two visible bars.
func (s *MACross) Decide(history []domain.Bar) domain.Side {
	n := len(history)
	if n < 2 {
		return domain.SideHold
	}
	prev, cur := history[n-2].Indicators, history[n-1].Indicators
	if !prev.Finite() || !cur.Finite() {
		return domain.SideHold
	}

	prevSpread := prev.MA20 - prev.MA50
	spread := cur.MA20 - cur.MA50
	switch {
	case prevSpread <= 0 && spread > 0:
		return domain.SideBuy
	case prevSpread >= 0 && spread < 0:
		return domain.SideSell
	default:
		return domain.SideHold
	}
}
