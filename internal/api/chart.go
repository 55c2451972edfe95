package api

import (
	"strings"
	"time"

	"rltrader/internal/domain"
)

// ChartOptions selects the indicator overlays included in a ChartSeries.
type ChartOptions struct {
	MA   bool
	RSI  bool
	MACD bool
}

// ParseChartOptions reads a comma separated list such as "ma,rsi,macd".
// An empty list selects every overlay.
func ParseChartOptions(s string) ChartOptions {
	if strings.TrimSpace(s) == "" {
		return ChartOptions{MA: true, RSI: true, MACD: true}
	}
	var o ChartOptions
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "ma":
			o.MA = true
		case "rsi":
			o.RSI = true
		case "macd":
			o.MACD = true
		}
	}
	return o
}

// ChartSeries is the chart-ready form of an episode: the price series with
// optional indicator overlays, the decisions taken and the net worth after
// each step. NetWorths and Actions are one shorter than the price series
// because no decision is taken on the last bar.
type ChartSeries struct {
	Ticker     string        `json:"ticker"`
	Timestamps []time.Time   `json:"timestamps"`
	Close      []float64     `json:"close"`
	NetWorths  []float64     `json:"net_worths"`
	Actions    []domain.Side `json:"actions"`
	MA20       []float64     `json:"ma20,omitempty"`
	MA50       []float64     `json:"ma50,omitempty"`
	RSI        []float64     `json:"rsi,omitempty"`
	MACD       []float64     `json:"macd,omitempty"`
	MACDSignal []float64     `json:"macd_signal,omitempty"`
}

// NewChartSeries builds a ChartSeries from an evaluated or backtested
// episode.
func NewChartSeries(ticker string, bars []domain.Bar, netWorths []float64, actions []domain.Side, opts ChartOptions) ChartSeries {
	c := ChartSeries{
		Ticker:     ticker,
		Timestamps: make([]time.Time, len(bars)),
		Close:      make([]float64, len(bars)),
		NetWorths:  netWorths,
		Actions:    actions,
	}
	for i := range bars {
		c.Timestamps[i] = bars[i].Timestamp
		c.Close[i] = bars[i].Close
		in := bars[i].Indicators
		if in == nil {
			in = &domain.Indicators{}
		}
		if opts.MA {
			c.MA20 = append(c.MA20, in.MA20)
			c.MA50 = append(c.MA50, in.MA50)
		}
		if opts.RSI {
			c.RSI = append(c.RSI, in.RSI)
		}
		if opts.MACD {
			c.MACD = append(c.MACD, in.MACD)
			c.MACDSignal = append(c.MACDSignal, in.MACDSignal)
		}
	}
	return c
}
