// Package metrics computes performance statistics over a net-worth series.
package metrics

import "math"

// TradingDays annualizes per-period Sharpe ratios.
const TradingDays = 252

// Result holds the summary metrics for a run.
type Result struct {
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Compute returns the Sharpe ratio and maximum drawdown of netWorths.
func Compute(netWorths []float64) Result {
	return Result{
		SharpeRatio: Sharpe(netWorths),
		MaxDrawdown: MaxDrawdown(netWorths),
	}
}

// Returns computes period-over-period percentage changes, dropping any
// non-finite entries (for example a change measured from a zero balance).
func Returns(netWorths []float64) []float64 {
	if len(netWorths) < 2 {
		return nil
	}
	out := make([]float64, 0, len(netWorths)-1)
	for i := 1; i < len(netWorths); i++ {
		r := netWorths[i]/netWorths[i-1] - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Sharpe returns mean(returns)/std(returns)*sqrt(252) using the population
// standard deviation. It is 0 for fewer than two samples, zero variance, or
// when no finite return remains.
func Sharpe(netWorths []float64) float64 {
	returns := Returns(netWorths)
	if len(returns) == 0 {
		return 0
	}
	mean, std := meanStd(returns)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDays)
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the
// running peak. The peak is clamped to at least 1 so a zero balance never
// divides by zero.
func MaxDrawdown(netWorths []float64) float64 {
	var (
		peak  = math.Inf(-1)
		maxDD float64
	)
	for _, v := range netWorths {
		if v > peak {
			peak = v
		}
		p := math.Max(peak, 1)
		if dd := (p - v) / p; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func meanStd(x []float64) (float64, float64) {
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))

	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(x)))
}
