package train

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rltrader/internal/agent"
	"rltrader/internal/domain"
	"rltrader/internal/market"
	"rltrader/internal/progress"
	"rltrader/internal/sim"
)

// recordingSink wraps a Tracker and records every call made to it.
type recordingSink struct {
	*progress.Tracker
	mu     sync.Mutex
	events []string
	fracs  []int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{Tracker: progress.NewTracker()}
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	s.events = append(s.events, "reset")
	s.mu.Unlock()
	s.Tracker.Reset()
}

func (s *recordingSink) Publish(fraction int, eta float64) {
	s.mu.Lock()
	s.events = append(s.events, "publish")
	s.mu.Unlock()
	s.Tracker.Publish(fraction, eta)
	f, _ := s.Tracker.Read()
	s.mu.Lock()
	s.fracs = append(s.fracs, f)
	s.mu.Unlock()
}

func (s *recordingSink) Finish() {
	s.mu.Lock()
	s.events = append(s.events, "finish")
	s.mu.Unlock()
	s.Tracker.Finish()
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waveBars(n int) []domain.Bar {
	return market.WaveSeries("WAVE", n, 100, 8, 12)
}

// fakeClock advances one second per reading.
func fakeClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestNewRejectsUnsupportedAlgorithm(t *testing.T) {
	sink := newRecordingSink()
	_, err := New(Options{Ticker: "SPY", Algorithm: "ppo2", Timesteps: 10}, Deps{Sink: sink})
	assert.ErrorIs(t, err, domain.ErrUnsupportedAlgorithm)
	assert.Zero(t, sink.calls())

	_, err = New(Options{Ticker: "SPY", Algorithm: "qlearn"}, Deps{Sink: sink})
	assert.Error(t, err, "zero timesteps")
}

func TestRunInsufficientDataLeavesSinkUntouched(t *testing.T) {
	f := market.NewStaticFetcher()
	f.Set("TINY", market.FlatSeries("TINY", 5, 100))
	sink := newRecordingSink()

	o, err := New(Options{Ticker: "tiny", Algorithm: "qlearn", Timesteps: 100, Load: market.LoadOptions{Retries: 1}},
		Deps{Fetcher: f, Sink: sink})
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Zero(t, sink.calls())
}

func TestRunEmptyDataLeavesSinkUntouched(t *testing.T) {
	sink := newRecordingSink()
	o, err := New(Options{Ticker: "none", Algorithm: "ars", Timesteps: 100, Load: market.LoadOptions{Retries: 1}},
		Deps{Fetcher: market.NewStaticFetcher(), Sink: sink})
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrEmptySeries)
	assert.Zero(t, sink.calls())
}

func TestRunPublishesMonotonicProgress(t *testing.T) {
	for _, algo := range []string{"qlearn", "ars"} {
		t.Run(algo, func(t *testing.T) {
			f := market.NewStaticFetcher()
			f.Set("WAVE", waveBars(90))
			sink := newRecordingSink()
			modelPath := filepath.Join(t.TempDir(), "models", algo+".model")

			o, err := New(Options{
				Ticker:    "wave",
				Algorithm: algo,
				Timesteps: 300,
				ModelPath: modelPath,
				Hyper:     agent.Hyper{Seed: 5, RolloutSteps: 15},
			}, Deps{Fetcher: f, Sink: sink, Clock: fakeClock()})
			require.NoError(t, err)

			res, err := o.Run(context.Background())
			require.NoError(t, err)

			require.NotEmpty(t, sink.events)
			assert.Equal(t, "reset", sink.events[0])
			assert.Equal(t, "finish", sink.events[len(sink.events)-1])
			assert.Len(t, sink.fracs, 300, "one publish per step")
			for i := 1; i < len(sink.fracs); i++ {
				assert.GreaterOrEqual(t, sink.fracs[i], sink.fracs[i-1])
			}
			assert.Equal(t, 100, sink.fracs[len(sink.fracs)-1])
			assert.Equal(t, progress.Snapshot{Fraction: 100, ETASeconds: 0}, progress.Read(sink))

			assert.Equal(t, o.ID(), res.RunID)
			assert.Equal(t, "WAVE", res.Ticker)
			assert.Equal(t, 300, res.Timesteps)
			usable := 90 - 49
			assert.Len(t, res.NetWorths, usable-1)
			assert.Len(t, res.Actions, usable-1)
			assert.Len(t, res.Sides, usable-1)
			assert.Len(t, res.Equity(), usable-1)
			assert.Equal(t, res.NetWorths[len(res.NetWorths)-1], res.FinalNetWorth)
			assert.GreaterOrEqual(t, res.MaxDrawdown, 0.0)
			assert.LessOrEqual(t, res.MaxDrawdown, 1.0)

			_, err = os.Stat(modelPath)
			require.NoError(t, err)

			again, err := Evaluate(context.Background(), Options{Ticker: "wave", Algorithm: algo}, Deps{Fetcher: f}, modelPath)
			require.NoError(t, err)
			assert.Equal(t, res.NetWorths, again.NetWorths, "deterministic evaluation of the saved policy")
			assert.Equal(t, res.TotalReward, again.TotalReward)
		})
	}
}

func TestRunEstimatesETA(t *testing.T) {
	sink := newRecordingSink()
	var etas []float64
	rec := &etaSink{Sink: sink, onPublish: func(_ int, eta float64) { etas = append(etas, eta) }}

	o, err := New(Options{Ticker: "wave", Algorithm: "qlearn", Timesteps: 10},
		Deps{Bars: waveBars(80), Sink: rec, Clock: fakeClock()})
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, etas, 10)
	// One second per clock reading: k seconds for k/10 of the budget.
	assert.InDelta(t, 9.0, etas[0], 1e-9)
	assert.InDelta(t, 0.0, etas[9], 1e-9)
	for i := 1; i < len(etas); i++ {
		assert.Less(t, etas[i], etas[i-1])
	}
}

type etaSink struct {
	progress.Sink
	onPublish func(int, float64)
}

func (p *etaSink) Publish(fraction int, eta float64) {
	p.onPublish(fraction, eta)
	p.Sink.Publish(fraction, eta)
}

// failingAlgorithm reports a few steps and then fails or panics.
type failingAlgorithm struct {
	agent.Algorithm
	after int
	panic bool
}

var errLearn = errors.New("learner exploded")

func (f *failingAlgorithm) Learn(_ context.Context, _ agent.Env, _ int, cb agent.Callback) error {
	for i := 1; i <= f.after; i++ {
		if err := cb(i); err != nil {
			return err
		}
	}
	if f.panic {
		panic("learner panicked")
	}
	return errLearn
}

func TestRunFailureFinishesSink(t *testing.T) {
	sink := newRecordingSink()
	o, err := New(Options{Ticker: "wave", Algorithm: "qlearn", Timesteps: 20}, Deps{
		Bars: waveBars(80),
		Sink: sink,
		NewAlgorithm: func(agent.Kind, agent.Hyper) (agent.Algorithm, error) {
			return &failingAlgorithm{after: 7}, nil
		},
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, errLearn)
	assert.Equal(t, []int{5, 10, 15, 20, 25, 30, 35}, sink.fracs)
	assert.Equal(t, progress.Snapshot{Fraction: 100, ETASeconds: 0}, progress.Read(sink))
}

func TestRunPanicFinishesSink(t *testing.T) {
	sink := newRecordingSink()
	o, err := New(Options{Ticker: "wave", Algorithm: "qlearn", Timesteps: 20}, Deps{
		Bars: waveBars(80),
		Sink: sink,
		NewAlgorithm: func(agent.Kind, agent.Hyper) (agent.Algorithm, error) {
			return &failingAlgorithm{after: 3, panic: true}, nil
		},
	})
	require.NoError(t, err)

	assert.Panics(t, func() { _, _ = o.Run(context.Background()) })
	assert.Equal(t, progress.Snapshot{Fraction: 100, ETASeconds: 0}, progress.Read(sink))

	task := o.Start(context.Background())
	_, err = task.Wait()
	assert.ErrorContains(t, err, "panicked")
}

func TestTaskWaitAndCancel(t *testing.T) {
	tracker := progress.NewTracker()
	o, err := New(Options{Ticker: "wave", Algorithm: "qlearn", Timesteps: 200},
		Deps{Bars: waveBars(80), Sink: tracker})
	require.NoError(t, err)

	task := o.Start(context.Background())
	assert.Equal(t, o.ID(), task.ID())
	res, err := task.Wait()
	require.NoError(t, err)
	assert.NotEmpty(t, res.NetWorths)
	select {
	case <-task.Done():
	default:
		t.Fatal("Done not closed after Wait")
	}

	block := make(chan struct{})
	slow, err := New(Options{Ticker: "wave", Algorithm: "qlearn", Timesteps: 1_000_000}, Deps{
		Bars: waveBars(80),
		Sink: tracker,
		NewAlgorithm: func(k agent.Kind, h agent.Hyper) (agent.Algorithm, error) {
			a, err := agent.New(k, h)
			return &blockingAlgorithm{Algorithm: a, started: block}, err
		},
	})
	require.NoError(t, err)
	task = slow.Start(context.Background())
	<-block
	task.Cancel()
	_, err = task.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	f, eta := tracker.Read()
	assert.Equal(t, 100, f)
	assert.Equal(t, 0.0, eta)
}

// blockingAlgorithm signals once learning has started.
type blockingAlgorithm struct {
	agent.Algorithm
	started chan struct{}
}

func (b *blockingAlgorithm) Learn(ctx context.Context, env agent.Env, total int, cb agent.Callback) error {
	once := sync.Once{}
	return b.Algorithm.Learn(ctx, env, total, func(steps int) error {
		once.Do(func() { close(b.started) })
		return cb(steps)
	})
}

func TestEvaluateUnknownModel(t *testing.T) {
	_, err := Evaluate(context.Background(), Options{Ticker: "wave", Algorithm: "ars"},
		Deps{Bars: waveBars(80)}, filepath.Join(t.TempDir(), "missing.model"))
	assert.Error(t, err)

	_, err = Evaluate(context.Background(), Options{Ticker: "wave", Algorithm: "td3"},
		Deps{Bars: waveBars(80)}, "x")
	assert.ErrorIs(t, err, domain.ErrUnsupportedAlgorithm)
}

func TestResultSidesFollowMode(t *testing.T) {
	o, err := New(Options{Ticker: "wave", Algorithm: "ars", Timesteps: 50, Hyper: agent.Hyper{RolloutSteps: 5}},
		Deps{Bars: waveBars(80)})
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	for i, a := range res.Actions {
		assert.GreaterOrEqual(t, a.Position, -1.0)
		assert.LessOrEqual(t, a.Position, 1.0)
		assert.True(t, res.Sides[i].Valid())
	}
	assert.Equal(t, sim.ModeContinuous, agent.KindARS.Mode())
}
