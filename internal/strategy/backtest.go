package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/metrics"
	"rltrader/internal/sim"
	"rltrader/internal/util"
)

// ErrUnknownStrategy is returned when a request names a strategy that is not
// registered.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Request describes one backtest.
type Request struct {
	Ticker         string  `json:"ticker"`
	Months         int     `json:"months"`
	Strategy       string  `json:"strategy"`
	InitialBalance float64 `json:"initial_balance,omitempty"`
}

// Result is the outcome of a backtest. When the market data could not be
// used, Error is set and the numeric fields are zero.
type Result struct {
	Ticker        string        `json:"ticker"`
	Strategy      string        `json:"strategy"`
	Months        int           `json:"months"`
	FinalNetWorth float64       `json:"final_net_worth"`
	SharpeRatio   float64       `json:"sharpe_ratio"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	NetWorths     []float64     `json:"net_worths,omitempty"`
	Actions       []domain.Side `json:"actions,omitempty"`
	Error         string        `json:"error,omitempty"`

	// Bars is the simulated series; Bars[i] is the bar Actions[i] was
	// decided on.
	Bars []domain.Bar `json:"-"`
}

// OK reports whether the backtest ran.
func (r *Result) OK() bool { return r.Error == "" }

// Report flattens the result into a BacktestReport stamped with now.
func (r *Result) Report(now time.Time) domain.BacktestReport {
	return domain.BacktestReport{
		Ticker:        r.Ticker,
		StrategyName:  r.Strategy,
		SharpeRatio:   r.SharpeRatio,
		MaxDrawdown:   r.MaxDrawdown,
		FinalNetWorth: r.FinalNetWorth,
		PeriodMonths:  r.Months,
		Timestamp:     now.UTC(),
	}
}

// Equity pairs each step's net worth with the bar it was valued at.
func (r *Result) Equity() []domain.EquityPoint {
	n := min(len(r.NetWorths), len(r.Bars), len(r.Actions))
	out := make([]domain.EquityPoint, n)
	for i := 0; i < n; i++ {
		out[i] = domain.EquityPoint{
			Timestamp: r.Bars[i].Timestamp,
			Close:     r.Bars[i].Close,
			NetWorth:  r.NetWorths[i],
			Side:      r.Actions[i],
		}
	}
	return out
}

// Options configures a Backtester.
type Options struct {
	InitialBalance float64
	MinBars        int
	Interval       domain.Interval
	Load           market.LoadOptions
	Log            *slog.Logger
	// Now anchors the lookback window. Nil means time.Now.
	Now func() time.Time
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics. Backtests share no state and may run concurrently.
type Backtester struct {
	fetcher  market.Fetcher
	registry *Registry
	opts     Options
	log      *slog.Logger
}

// NewBacktester creates a Backtester that fetches bars through f and looks
// up strategies in the provided registry.
func NewBacktester(f market.Fetcher, registry *Registry, opts Options) *Backtester {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Backtester{
		fetcher:  f,
		registry: registry,
		opts:     opts,
		log:      util.OrDiscard(opts.Log).With("component", "backtest"),
	}
}

// Run fetches req.Months of history for req.Ticker and backtests the named
// strategy over it. Missing or insufficient data is reported through
// Result.Error rather than as an error.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Result, error) {
	s, ok := bt.registry.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	env, err := sim.New(ctx, bt.fetcher, bt.simConfig(req))
	if err != nil {
		if res, ok := dataFailure(req, err); ok {
			bt.log.Warn("backtest skipped", "ticker", res.Ticker, "strategy", res.Strategy, "err", err)
			return res, nil
		}
		return nil, err
	}
	return bt.drive(ctx, env, s, req.Months)
}

// RunSeries backtests the named strategy over an already fetched series.
func (bt *Backtester) RunSeries(ctx context.Context, req Request, bars []domain.Bar) (*Result, error) {
	s, ok := bt.registry.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	env, err := sim.NewFromBars(req.Ticker, bars, bt.simConfig(req))
	if err != nil {
		if res, ok := dataFailure(req, err); ok {
			return res, nil
		}
		return nil, err
	}
	return bt.drive(ctx, env, s, req.Months)
}

func (bt *Backtester) simConfig(req Request) sim.Config {
	balance := req.InitialBalance
	if balance <= 0 {
		balance = bt.opts.InitialBalance
	}
	return sim.Config{
		Ticker:         req.Ticker,
		Months:         req.Months,
		InitialBalance: balance,
		Mode:           sim.ModeDiscrete,
		MinBars:        bt.opts.MinBars,
		Interval:       bt.opts.Interval,
		Now:            bt.opts.Now(),
		Load:           bt.opts.Load,
		Log:            bt.opts.Log,
	}
}

func dataFailure(req Request, err error) (*Result, bool) {
	if !errors.Is(err, domain.ErrEmptySeries) && !errors.Is(err, domain.ErrInsufficientData) {
		return nil, false
	}
	return &Result{
		Ticker:   strings.ToUpper(req.Ticker),
		Strategy: req.Strategy,
		Months:   req.Months,
		Error:    err.Error(),
	}, true
}

// drive steps env from reset to done, asking s for a decision on the
// visible prefix at every step.
func (bt *Backtester) drive(ctx context.Context, env *sim.Environment, s Strategy, months int) (*Result, error) {
	if _, err := env.Reset(); err != nil {
		return nil, err
	}

	res := &Result{
		Ticker:    env.Ticker(),
		Strategy:  s.Name(),
		Months:    months,
		Bars:      env.Bars(),
		Actions:   make([]domain.Side, 0, env.Len()),
		NetWorths: make([]float64, 0, env.Len()),
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		side := s.Decide(env.History(env.StepIndex()))
		step, err := env.Step(sim.Discrete(side))
		if err != nil {
			return nil, fmt.Errorf("strategy %s at step %d: %w", s.Name(), env.StepIndex(), err)
		}
		res.Actions = append(res.Actions, side)
		res.NetWorths = append(res.NetWorths, step.Ledger.NetWorth)
		if step.Done {
			break
		}
	}

	m := metrics.Compute(res.NetWorths)
	res.SharpeRatio = m.SharpeRatio
	res.MaxDrawdown = m.MaxDrawdown
	res.FinalNetWorth = res.NetWorths[len(res.NetWorths)-1]

	bt.log.Info("backtest complete",
		"ticker", res.Ticker,
		"strategy", res.Strategy,
		"steps", len(res.Actions),
		"final_net_worth", res.FinalNetWorth,
		"sharpe", res.SharpeRatio,
		"max_drawdown", res.MaxDrawdown,
	)
	return res, nil
}
