// Package sim implements the single-instrument trading simulation that both
// learners and rule-based strategies drive: a fixed price series, a cash and
// shares ledger, and reset/step semantics with a normalized observation and a
// reward signal.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"rltrader/internal/domain"
	"rltrader/internal/indicators"
	"rltrader/internal/market"
	"rltrader/internal/metrics"
	"rltrader/internal/util"
)

const (
	// DefaultMinBars is the smallest usable series, after warm-up trimming,
	// that forms an episode.
	DefaultMinBars = 20
	// DefaultInitialBalance is the starting cash when none is configured.
	DefaultInitialBalance = 10000.0
	// DefaultMonths is the lookback window when none is configured.
	DefaultMonths = 12

	// RewardWindow is the number of trailing net-worth samples the
	// risk-adjusted reward is computed over.
	RewardWindow = 20
)

// Config describes an Environment.
type Config struct {
	Ticker         string
	Months         int
	InitialBalance float64
	Mode           Mode
	MinBars        int
	Interval       domain.Interval
	// Now anchors the lookback window. Zero means time.Now.
	Now  time.Time
	Load market.LoadOptions
	Log  *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Months <= 0 {
		c.Months = DefaultMonths
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = DefaultInitialBalance
	}
	if c.MinBars <= 0 {
		c.MinBars = DefaultMinBars
	}
	if c.Interval == "" {
		c.Interval = domain.IntervalDaily
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
}

// Ledger is the portfolio state. NetWorth always equals
// Cash + Shares*close at the bar the ledger was last valued at.
type Ledger struct {
	Cash     float64 `json:"cash"`
	Shares   float64 `json:"shares"`
	NetWorth float64 `json:"net_worth"`
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	// Truncated is always false; episodes end only at the last bar.
	Truncated bool
	Ledger    Ledger
	// Side is the trade direction actually executed at this step.
	Side domain.Side
}

// Environment is one simulated market over a fixed series. It is not safe
// for concurrent use; independent environments share nothing.
type Environment struct {
	ticker  string
	mode    Mode
	initial float64
	bars    []domain.Bar
	norm    normalizer

	// view is the copy handed out by History; it is restored on reset so
	// writes by a caller never reach bars or a later episode.
	view     []domain.Bar
	viewInds []domain.Indicators

	ledger    Ledger
	step      int
	netWorths []float64
	lastSide  domain.Side
	finished  bool
}

// New fetches the configured lookback window through f and builds an
// Environment over it. A fetch that yields nothing is ErrEmptySeries.
func New(ctx context.Context, f market.Fetcher, cfg Config) (*Environment, error) {
	cfg.applyDefaults()
	loadOpts := cfg.Load
	if loadOpts.Log == nil {
		loadOpts.Log = cfg.Log
	}
	bars := market.Load(ctx, f, cfg.Ticker, cfg.Months, cfg.Now, cfg.Interval, loadOpts)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", strings.ToUpper(cfg.Ticker), domain.ErrEmptySeries)
	}
	return NewFromBars(cfg.Ticker, bars, cfg)
}

// NewFromBars builds an Environment over an already fetched series. The
// series is copied; indicators are attached when missing and warm-up rows
// are dropped before the minimum length is enforced.
func NewFromBars(ticker string, bars []domain.Bar, cfg Config) (*Environment, error) {
	cfg.applyDefaults()
	ticker = strings.ToUpper(ticker)
	log := util.OrDiscard(cfg.Log).With("component", "sim", "ticker", ticker)

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrEmptySeries)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%s: bar %d at %s: %w", ticker, i,
				bars[i].Timestamp.Format(time.RFC3339), domain.ErrUnorderedSeries)
		}
	}
	if cfg.Mode != ModeDiscrete && cfg.Mode != ModeContinuous {
		return nil, fmt.Errorf("unknown action mode %s", cfg.Mode)
	}

	usable := indicators.TrimWarmup(indicators.Attach(bars))
	if len(usable) < cfg.MinBars {
		return nil, fmt.Errorf("%s: %d usable bars after cleaning, need %d: %w",
			ticker, len(usable), cfg.MinBars, domain.ErrInsufficientData)
	}

	e := &Environment{
		ticker:  ticker,
		mode:    cfg.Mode,
		initial: cfg.InitialBalance,
		bars:    usable,
		norm:    newNormalizer(usable, cfg.InitialBalance),
	}
	e.resetState()

	log.Debug("environment ready", "bars", len(usable), "dropped", len(bars)-len(usable),
		"mode", cfg.Mode.String(), "initial_balance", cfg.InitialBalance)
	return e, nil
}

// Reset restarts the episode from the first usable bar with the initial
// ledger and returns the first observation. It may be called at any time.
func (e *Environment) Reset() (Observation, error) {
	e.resetState()
	obs := e.observe()
	if !obs.Finite() {
		e.finished = true
		return obs, e.corrupt(obs)
	}
	return obs, nil
}

func (e *Environment) resetState() {
	e.ledger = Ledger{Cash: e.initial, NetWorth: e.initial}
	e.step = 0
	e.netWorths = e.netWorths[:0]
	e.lastSide = domain.SideHold
	e.finished = false
	e.refreshView()
}

func (e *Environment) refreshView() {
	if e.view == nil {
		e.view = make([]domain.Bar, len(e.bars))
		e.viewInds = make([]domain.Indicators, len(e.bars))
	}
	for i := range e.bars {
		e.view[i] = e.bars[i]
		e.viewInds[i] = *e.bars[i].Indicators
		e.view[i].Indicators = &e.viewInds[i]
	}
}

// Step executes action at the current bar's close, values the ledger,
// advances to the next bar and returns its observation. Done is set when
// the last bar is reached. A zero net worth does not end the episode.
//
// After Done, or after an error other than ErrInvalidAction, the episode
// must be Reset before stepping again.
func (e *Environment) Step(action Action) (StepResult, error) {
	if e.finished {
		return StepResult{}, domain.ErrEpisodeFinished
	}
	if err := action.validate(e.mode); err != nil {
		return StepResult{}, err
	}

	price := e.bars[e.step].Close
	before := e.ledger.Shares
	switch e.mode {
	case ModeDiscrete:
		e.ledger = tradeDiscrete(e.ledger, action.Side, price)
	case ModeContinuous:
		e.ledger = tradeContinuous(e.ledger, action.Position, price)
	}
	e.ledger.NetWorth = e.ledger.Cash + e.ledger.Shares*price
	e.netWorths = append(e.netWorths, e.ledger.NetWorth)

	switch {
	case e.ledger.Shares > before:
		e.lastSide = domain.SideBuy
	case e.ledger.Shares < before:
		e.lastSide = domain.SideSell
	default:
		e.lastSide = domain.SideHold
	}

	e.step++
	done := e.step >= len(e.bars)-1
	if done {
		e.finished = true
	}

	res := StepResult{
		Observation: e.observe(),
		Reward:      e.reward(),
		Done:        done,
		Ledger:      e.ledger,
		Side:        e.lastSide,
	}
	if !res.Observation.Finite() {
		e.finished = true
		return res, e.corrupt(res.Observation)
	}
	return res, nil
}

// tradeDiscrete buys as many whole shares as cash affords, liquidates the
// whole position, or does nothing.
func tradeDiscrete(l Ledger, side domain.Side, price float64) Ledger {
	switch side {
	case domain.SideBuy:
		if price <= 0 {
			return l
		}
		qty := math.Floor(l.Cash / price)
		if qty <= 0 {
			return l
		}
		l.Cash = clipZero(l.Cash - qty*price)
		l.Shares += qty
	case domain.SideSell:
		l.Cash += l.Shares * price
		l.Shares = 0
	}
	return l
}

// tradeContinuous moves the holding toward netWorth*position/price shares.
// Negative positions are treated as flat. Buys are capped by cash and sells
// by the shares held; cash is clipped before it is committed.
func tradeContinuous(l Ledger, position, price float64) Ledger {
	if price <= 0 {
		return l
	}
	worth := l.Cash + l.Shares*price
	target := math.Max(worth*position/price, 0)
	diff := target - l.Shares
	switch {
	case diff > 0:
		qty := math.Min(diff, l.Cash/price)
		l.Cash = clipZero(l.Cash - qty*price)
		l.Shares += qty
	case diff < 0:
		qty := math.Min(-diff, l.Shares)
		l.Cash += qty * price
		l.Shares = clipZero(l.Shares - qty)
	}
	return l
}

func clipZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// reward is the annualized Sharpe ratio of the trailing RewardWindow
// samples once more than RewardWindow samples exist, and the latest change
// in net worth as a percentage of the initial balance before that.
func (e *Environment) reward() float64 {
	n := len(e.netWorths)
	if n > RewardWindow {
		return metrics.Sharpe(e.netWorths[n-RewardWindow:])
	}
	prev := e.initial
	if n > 1 {
		prev = e.netWorths[n-2]
	}
	return (e.netWorths[n-1] - prev) / e.initial * 100
}

func (e *Environment) observe() Observation {
	return e.norm.observe(&e.bars[e.step], e.ledger)
}

func (e *Environment) corrupt(obs Observation) error {
	return fmt.Errorf("%s step %d at %s: %v: %w", e.ticker, e.step,
		e.bars[e.step].Timestamp.Format(time.DateOnly), obs, domain.ErrCorruptObservation)
}

// Ticker returns the upper-cased instrument symbol.
func (e *Environment) Ticker() string { return e.ticker }

// Mode returns the action space.
func (e *Environment) Mode() Mode { return e.mode }

// InitialBalance returns the starting cash.
func (e *Environment) InitialBalance() float64 { return e.initial }

// Ledger returns the current portfolio state.
func (e *Environment) Ledger() Ledger { return e.ledger }

// StepIndex returns the index of the current bar.
func (e *Environment) StepIndex() int { return e.step }

// Done reports whether the episode has ended or was aborted.
func (e *Environment) Done() bool { return e.finished }

// LastSide returns the trade direction executed by the latest Step.
func (e *Environment) LastSide() domain.Side { return e.lastSide }

// Len returns the number of usable bars.
func (e *Environment) Len() int { return len(e.bars) }

// ObservationSize returns the observation length.
func (e *Environment) ObservationSize() int { return ObservationSize }

// NetWorths returns a copy of the net worth recorded after each step of
// the current episode.
func (e *Environment) NetWorths() []float64 {
	out := make([]float64, len(e.netWorths))
	copy(out, e.netWorths)
	return out
}

// Bars returns a deep copy of the usable series.
func (e *Environment) Bars() []domain.Bar {
	out := make([]domain.Bar, len(e.bars))
	inds := make([]domain.Indicators, len(e.bars))
	for i := range e.bars {
		out[i] = e.bars[i]
		inds[i] = *e.bars[i].Indicators
		out[i].Indicators = &inds[i]
	}
	return out
}

// History returns the bars up to and including index i. The result is a
// view separate from the series the environment simulates on: writes to it,
// including through Indicators, last until the next Reset and never change
// observations or rewards. Appending to it never reaches bars beyond i.
func (e *Environment) History(i int) []domain.Bar {
	i = min(max(i, 0), len(e.view)-1)
	return e.view[: i+1 : i+1]
}
