// Package indicators computes the technical indicator columns the simulator
// observes (MA20, MA50, RSI(14), MACD(12,26,9)) and trims warm-up rows.
//
// Every series function returns a slice aligned to its input with NaN for
// positions where the indicator is not yet defined.
package indicators

import (
	"math"

	"rltrader/internal/domain"
)

// Standard windows used by Attach.
const (
	MAShort      = 20
	MALong       = 50
	RSIWindow    = 14
	MACDFast     = 12
	MACDSlow     = 26
	MACDSignalNs = 9
)

// SMA returns the simple moving average over the last p points. A window
// holding a NaN is NaN; the average recovers once the NaN leaves the window.
func SMA(x []float64, p int) []float64 {
	out := make([]float64, len(x))
	if p <= 0 {
		fillNaN(out)
		return out
	}
	var (
		sum  float64
		nans int
	)
	for i := range x {
		if math.IsNaN(x[i]) {
			nans++
		} else {
			sum += x[i]
		}
		if i >= p {
			if old := x[i-p]; math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}
		if i < p-1 || nans > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EWM returns an exponentially weighted mean with smoothing factor alpha,
// seeded with the first defined value (no bias adjustment). Leading NaN
// inputs are skipped; the output stays NaN until minPeriods defined values
// have been observed.
func EWM(x []float64, alpha float64, minPeriods int) []float64 {
	out := make([]float64, len(x))
	var (
		mean   float64
		seen   int
		seeded bool
	)
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		if !seeded {
			mean = v
			seeded = true
		} else {
			mean = (1-alpha)*mean + alpha*v
		}
		seen++
		if seen < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = mean
	}
	return out
}

// EMA is EWM with span-based smoothing 2/(span+1) and minPeriods = span.
func EMA(x []float64, span int) []float64 {
	return EWM(x, 2.0/float64(span+1), span)
}

// RSI returns the relative strength index using Wilder smoothing
// (alpha = 1/window). The first price change is taken as zero, so the
// series is defined from index window-1 onward.
func RSI(closes []float64, window int) []float64 {
	n := len(closes)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			up[i] = d
		} else if d < 0 {
			down[i] = -d
		}
	}
	alpha := 1.0 / float64(window)
	emaUp := EWM(up, alpha, window)
	emaDown := EWM(down, alpha, window)

	out := make([]float64, n)
	for i := range out {
		switch {
		case math.IsNaN(emaUp[i]) || math.IsNaN(emaDown[i]):
			out[i] = math.NaN()
		case emaDown[i] == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+emaUp[i]/emaDown[i])
		}
	}
	return out
}

// MACD returns the MACD line (fast EMA minus slow EMA) and its signal line.
func MACD(closes []float64, fast, slow, signal int) ([]float64, []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range line {
		line[i] = emaFast[i] - emaSlow[i]
	}
	return line, EMA(line, signal)
}

// Attach returns a copy of bars with indicators attached. Series where every
// bar already carries indicators are copied unchanged; otherwise all columns
// are recomputed from the close prices.
func Attach(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)

	complete := true
	for i := range out {
		if out[i].Indicators == nil {
			complete = false
			break
		}
	}
	if complete {
		for i := range out {
			in := *out[i].Indicators
			out[i].Indicators = &in
		}
		return out
	}

	closes := domain.Closes(out)
	ma20 := SMA(closes, MAShort)
	ma50 := SMA(closes, MALong)
	rsi := RSI(closes, RSIWindow)
	macd, sig := MACD(closes, MACDFast, MACDSlow, MACDSignalNs)
	for i := range out {
		out[i].Indicators = &domain.Indicators{
			MA20:       ma20[i],
			MA50:       ma50[i],
			RSI:        rsi[i],
			MACD:       macd[i],
			MACDSignal: sig[i],
		}
	}
	return out
}

// TrimWarmup drops the leading bars whose indicators are missing or not
// yet finite. Bars after the first fully defined one are kept as they are,
// so a bad value later in the series still reaches the simulator.
func TrimWarmup(bars []domain.Bar) []domain.Bar {
	for i := range bars {
		if bars[i].Indicators.Finite() {
			out := make([]domain.Bar, len(bars)-i)
			copy(out, bars[i:])
			return out
		}
	}
	return []domain.Bar{}
}

// WarmupRows is the number of leading rows Attach leaves undefined.
func WarmupRows() int {
	rows := MALong - 1
	if m := MACDSlow + MACDSignalNs - 2; m > rows {
		rows = m
	}
	return rows
}

func fillNaN(x []float64) {
	for i := range x {
		x[i] = math.NaN()
	}
}
