package builtins

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/strategy"
)

func backtester() *strategy.Backtester {
	return strategy.NewBacktester(nil, Registry(), strategy.Options{
		InitialBalance: 10000,
		Now:            func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"ma-cross", "rsi-threshold"}, Registry().List())
}

func TestRSIThresholdDecide(t *testing.T) {
	s := NewRSIThreshold(DefaultRSILow, DefaultRSIHigh)
	bar := func(rsi float64) []domain.Bar {
		return []domain.Bar{{Close: 1, Indicators: &domain.Indicators{RSI: rsi}}}
	}
	assert.Equal(t, domain.SideBuy, s.Decide(bar(29.9)))
	assert.Equal(t, domain.SideHold, s.Decide(bar(30)))
	assert.Equal(t, domain.SideHold, s.Decide(bar(70)))
	assert.Equal(t, domain.SideSell, s.Decide(bar(70.1)))
	assert.Equal(t, domain.SideHold, s.Decide(nil))
}

func TestRSIThresholdComputesFromCloses(t *testing.T) {
	s := NewRSIThreshold(DefaultRSILow, DefaultRSIHigh)
	falling := market.TrendSeries("DOWN", 20, 100, -1)

	assert.Equal(t, domain.SideHold, s.Decide(falling[:5]), "RSI undefined before 14 bars")
	assert.Equal(t, domain.SideBuy, s.Decide(falling))

	rising := market.TrendSeries("UP", 20, 100, 1)
	rising[19].Indicators = &domain.Indicators{RSI: math.NaN()}
	assert.Equal(t, domain.SideSell, s.Decide(rising))
}

func TestRSIThresholdOnRisingSeries(t *testing.T) {
	bars := market.TrendSeries("UP", 40, 100, 1)
	for i := range bars {
		bars[i].Indicators = &domain.Indicators{MA20: 100, MA50: 100, RSI: 85}
	}

	res, err := backtester().RunSeries(context.Background(),
		strategy.Request{Ticker: "UP", Strategy: "rsi-threshold"}, bars)
	require.NoError(t, err)
	require.True(t, res.OK())
	for i, side := range res.Actions {
		assert.NotEqual(t, domain.SideBuy, side, "step %d", i)
		assert.Equal(t, domain.SideSell, side, "step %d", i)
	}
	assert.Equal(t, 10000.0, res.FinalNetWorth)
}

func TestRSIThresholdSellsHeldShares(t *testing.T) {
	// Falling then rising: buys on the way down and exits on the way up.
	bars := market.Generate("VEE", 140, func(i int) float64 {
		if i < 90 {
			return 200 - float64(i)
		}
		return 110 + 2*float64(i-90)
	})

	res, err := backtester().RunSeries(context.Background(),
		strategy.Request{Ticker: "VEE", Strategy: "rsi-threshold"}, bars)
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Contains(t, res.Actions, domain.SideBuy)
	n := len(res.NetWorths)
	assert.Equal(t, domain.SideSell, res.Actions[n-1])
	assert.Equal(t, res.NetWorths[n-2], res.NetWorths[n-1], "position closed while price keeps rising")
}

func TestMACrossDecide(t *testing.T) {
	s := NewMACross()
	pair := func(a20, a50, b20, b50 float64) []domain.Bar {
		return []domain.Bar{
			{Indicators: &domain.Indicators{MA20: a20, MA50: a50}},
			{Indicators: &domain.Indicators{MA20: b20, MA50: b50}},
		}
	}
	assert.Equal(t, domain.SideBuy, s.Decide(pair(9, 10, 11, 10)))
	assert.Equal(t, domain.SideSell, s.Decide(pair(11, 10, 9, 10)))
	assert.Equal(t, domain.SideHold, s.Decide(pair(11, 10, 12, 10)))
	assert.Equal(t, domain.SideHold, s.Decide(pair(9, 10, 8, 10)))
	assert.Equal(t, domain.SideHold, s.Decide(pair(9, 10, 11, 10)[1:]))

	missing := pair(9, 10, 11, 10)
	missing[0].Indicators = nil
	assert.Equal(t, domain.SideHold, s.Decide(missing))
}
