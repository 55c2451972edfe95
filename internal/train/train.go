// Package train runs a learning algorithm against a market simulation,
// reports progress while it learns, and evaluates the trained policy.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rltrader/internal/agent"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/metrics"
	"rltrader/internal/progress"
	"rltrader/internal/sim"
	"rltrader/internal/util"
)

// Options describes one training run.
type Options struct {
	Ticker         string          `json:"ticker"`
	Months         int             `json:"months"`
	Algorithm      string          `json:"algorithm"`
	Timesteps      int             `json:"timesteps"`
	InitialBalance float64         `json:"initial_balance,omitempty"`
	MinBars        int             `json:"-"`
	ModelPath      string          `json:"model_path,omitempty"`
	Interval       domain.Interval `json:"interval,omitempty"`
	Hyper          agent.Hyper     `json:"-"`
	// RunID overrides the generated run identifier.
	RunID string `json:"-"`
	// Now anchors the lookback window. Zero means time.Now.
	Now  time.Time          `json:"-"`
	Load market.LoadOptions `json:"-"`
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	// Fetcher supplies market data unless Bars is set.
	Fetcher market.Fetcher
	// Bars, when non-empty, is used instead of fetching.
	Bars []domain.Bar
	// Sink receives progress. Nil uses a private Tracker.
	Sink progress.Sink
	Log  *slog.Logger
	// Clock drives ETA estimates. Nil means time.Now.
	Clock func() time.Time
	// NewAlgorithm overrides agent.New.
	NewAlgorithm func(agent.Kind, agent.Hyper) (agent.Algorithm, error)
}

// Result is the outcome of training followed by a deterministic
// evaluation episode.
type Result struct {
	RunID         string        `json:"run_id"`
	Ticker        string        `json:"ticker"`
	Algorithm     agent.Kind    `json:"algorithm"`
	Timesteps     int           `json:"timesteps"`
	Actions       []sim.Action  `json:"actions"`
	Sides         []domain.Side `json:"sides"`
	NetWorths     []float64     `json:"net_worths"`
	TotalReward   float64       `json:"total_reward"`
	SharpeRatio   float64       `json:"sharpe_ratio"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	FinalNetWorth float64       `json:"final_net_worth"`
	ModelPath     string        `json:"model_path,omitempty"`

	// Bars is the evaluated series; Bars[i] is the bar Actions[i] was
	// taken on.
	Bars []domain.Bar `json:"-"`
}

// Equity pairs each evaluation step's net worth with its bar.
func (r *Result) Equity() []domain.EquityPoint {
	n := min(len(r.NetWorths), len(r.Bars), len(r.Sides))
	out := make([]domain.EquityPoint, n)
	for i := 0; i < n; i++ {
		out[i] = domain.EquityPoint{
			Timestamp: r.Bars[i].Timestamp,
			Close:     r.Bars[i].Close,
			NetWorth:  r.NetWorths[i],
			Side:      r.Sides[i],
		}
	}
	return out
}

// Orchestrator binds a learning algorithm to a freshly built environment
// and runs training once.
type Orchestrator struct {
	id    string
	kind  agent.Kind
	opts  Options
	deps  Deps
	sink  progress.Sink
	log   *slog.Logger
	clock func() time.Time
}

// New validates opts and returns an Orchestrator. An unknown algorithm is
// rejected here, before any data is fetched.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	kind, err := agent.ParseKind(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if opts.Timesteps <= 0 {
		return nil, fmt.Errorf("timesteps must be positive, got %d", opts.Timesteps)
	}
	if strings.TrimSpace(opts.Ticker) == "" && len(deps.Bars) == 0 {
		return nil, errors.New("ticker is required")
	}
	opts.Ticker = strings.ToUpper(opts.Ticker)

	if deps.NewAlgorithm == nil {
		deps.NewAlgorithm = agent.New
	}
	sink := deps.Sink
	if sink == nil {
		sink = progress.NewTracker()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return &Orchestrator{
		id:    id,
		kind:  kind,
		opts:  opts,
		deps:  deps,
		sink:  sink,
		log:   util.OrDiscard(deps.Log).With("component", "train", "run_id", id, "ticker", opts.Ticker, "algorithm", string(kind)),
		clock: clock,
	}, nil
}

// ID returns the run identifier.
func (o *Orchestrator) ID() string { return o.id }

// Kind returns the resolved algorithm.
func (o *Orchestrator) Kind() agent.Kind { return o.kind }

// Sink returns the progress sink the run publishes into.
func (o *Orchestrator) Sink() progress.Sink { return o.sink }

// Run builds the environment, trains for the configured number of
// timesteps, saves the policy when a model path is set and evaluates it.
//
// Environment construction errors return before the sink is touched. Once
// training starts the sink is reset to (0, unknown), and it reads (100, 0)
// by the time Run returns, panics included.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	env, err := buildEnv(ctx, o.opts, o.deps, o.kind)
	if err != nil {
		return nil, err
	}
	alg, err := o.deps.NewAlgorithm(o.kind, o.opts.Hyper)
	if err != nil {
		return nil, err
	}

	o.sink.Reset()
	defer o.sink.Finish()

	o.log.Info("training started", "timesteps", o.opts.Timesteps, "bars", env.Len())
	start := o.clock()
	if err := alg.Learn(ctx, env, o.opts.Timesteps, o.publisher(start)); err != nil {
		o.log.Error("training failed", "err", err)
		return nil, fmt.Errorf("training %s on %s: %w", o.kind, env.Ticker(), err)
	}
	o.log.Info("training finished", "elapsed", o.clock().Sub(start).Round(time.Millisecond).String())

	if o.opts.ModelPath != "" {
		if err := alg.Save(o.opts.ModelPath); err != nil {
			return nil, err
		}
		o.log.Info("model saved", "path", o.opts.ModelPath)
	}

	res, err := evaluate(ctx, env, alg)
	if err != nil {
		return nil, err
	}
	res.RunID = o.id
	res.Algorithm = o.kind
	res.Timesteps = o.opts.Timesteps
	res.ModelPath = o.opts.ModelPath

	o.log.Info("evaluation complete",
		"steps", len(res.Actions),
		"total_reward", res.TotalReward,
		"final_net_worth", res.FinalNetWorth,
		"sharpe", res.SharpeRatio,
		"max_drawdown", res.MaxDrawdown,
	)
	return res, nil
}

// publisher returns the per-step callback that feeds the sink and logs
// every tenth of the budget.
func (o *Orchestrator) publisher(start time.Time) agent.Callback {
	total := o.opts.Timesteps
	logged := 0
	return func(steps int) error {
		fraction := progress.Fraction(steps, total)
		ratio := float64(steps) / float64(total)
		o.sink.Publish(fraction, progress.ETA(o.clock().Sub(start), ratio))

		if decile := fraction / 10; decile > logged {
			logged = decile
			f, eta := o.sink.Read()
			o.log.Info("training progress", "percent", f, "eta_seconds", eta)
		}
		return nil
	}
}

// Evaluate loads the policy saved at modelPath and runs one deterministic
// episode over the market described by opts. The progress sink is not
// used.
func Evaluate(ctx context.Context, opts Options, deps Deps, modelPath string) (*Result, error) {
	kind, err := agent.ParseKind(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	env, err := buildEnv(ctx, opts, deps, kind)
	if err != nil {
		return nil, err
	}
	newAlg := deps.NewAlgorithm
	if newAlg == nil {
		newAlg = agent.New
	}
	alg, err := newAlg(kind, opts.Hyper)
	if err != nil {
		return nil, err
	}
	if err := alg.Load(modelPath); err != nil {
		return nil, err
	}

	res, err := evaluate(ctx, env, alg)
	if err != nil {
		return nil, err
	}
	res.Algorithm = kind
	res.ModelPath = modelPath
	util.OrDiscard(deps.Log).Info("evaluated saved model",
		"ticker", res.Ticker, "path", modelPath, "final_net_worth", res.FinalNetWorth, "sharpe", res.SharpeRatio)
	return res, nil
}

func buildEnv(ctx context.Context, opts Options, deps Deps, kind agent.Kind) (*sim.Environment, error) {
	cfg := sim.Config{
		Ticker:         opts.Ticker,
		Months:         opts.Months,
		InitialBalance: opts.InitialBalance,
		Mode:           kind.Mode(),
		MinBars:        opts.MinBars,
		Interval:       opts.Interval,
		Now:            opts.Now,
		Load:           opts.Load,
		Log:            deps.Log,
	}
	if len(deps.Bars) > 0 {
		return sim.NewFromBars(opts.Ticker, deps.Bars, cfg)
	}
	if deps.Fetcher == nil {
		return nil, errors.New("no market data source configured")
	}
	return sim.New(ctx, deps.Fetcher, cfg)
}

// evaluate resets env and follows the greedy policy to the end of the
// episode.
func evaluate(ctx context.Context, env *sim.Environment, alg agent.Algorithm) (*Result, error) {
	obs, err := env.Reset()
	if err != nil {
		return nil, err
	}
	res := &Result{
		Ticker: env.Ticker(),
		Bars:   env.Bars(),
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		act := alg.Predict(obs, true)
		step, err := env.Step(act)
		if err != nil {
			return nil, fmt.Errorf("evaluation step %d: %w", len(res.Actions), err)
		}
		side := act.Side
		if env.Mode() == sim.ModeContinuous {
			side = step.Side
		}
		res.Actions = append(res.Actions, act)
		res.Sides = append(res.Sides, side)
		res.NetWorths = append(res.NetWorths, step.Ledger.NetWorth)
		res.TotalReward += step.Reward
		obs = step.Observation
		if step.Done {
			break
		}
	}

	m := metrics.Compute(res.NetWorths)
	res.SharpeRatio = m.SharpeRatio
	res.MaxDrawdown = m.MaxDrawdown
	res.FinalNetWorth = res.NetWorths[len(res.NetWorths)-1]
	return res, nil
}
