package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"rltrader/internal/domain"
	"rltrader/internal/sim"
)

// Compile-time interface check.
var _ Algorithm = (*QLearner)(nil)

// QLearner approximates Q(s, a) with one linear model per discrete action
// and learns it by one-step TD updates under epsilon-greedy exploration.
type QLearner struct {
	hyper   Hyper
	weights [domain.NumSides][]float64
	epsilon float64
	steps   int
	rng     *rand.Rand
}

// NewQLearner creates an untrained QLearner. All weights start at zero, so
// the greedy policy holds until it has learned otherwise.
func NewQLearner(h Hyper) *QLearner {
	h = h.WithDefaults()
	q := &QLearner{
		hyper:   h,
		epsilon: h.Epsilon,
		rng:     rand.New(rand.NewSource(h.Seed)),
	}
	for a := range q.weights {
		q.weights[a] = make([]float64, numFeatures)
	}
	return q
}

// Kind returns KindQLearn.
func (q *QLearner) Kind() Kind { return KindQLearn }

// Epsilon returns the current exploration rate.
func (q *QLearner) Epsilon() float64 { return q.epsilon }

// Q returns the action values for obs.
func (q *QLearner) Q(obs sim.Observation) [domain.NumSides]float64 {
	f := features(obs)
	var out [domain.NumSides]float64
	for a := range q.weights {
		out[a] = dot(q.weights[a], f)
	}
	return out
}

func (q *QLearner) greedy(obs sim.Observation) domain.Side {
	values := q.Q(obs)
	best := 0
	for a := 1; a < len(values); a++ {
		if values[a] > values[best] {
			best = a
		}
	}
	return domain.Side(best)
}

func (q *QLearner) explore(obs sim.Observation) domain.Side {
	if q.rng.Float64() < q.epsilon {
		return domain.Side(q.rng.Intn(domain.NumSides))
	}
	return q.greedy(obs)
}

// Predict returns the greedy action, or an epsilon-greedy one when
// deterministic is false.
func (q *QLearner) Predict(obs sim.Observation, deterministic bool) sim.Action {
	if deterministic {
		return sim.Discrete(q.greedy(obs))
	}
	return sim.Discrete(q.explore(obs))
}

// Learn runs totalSteps TD(0) updates against env.
func (q *QLearner) Learn(ctx context.Context, env Env, totalSteps int, cb Callback) error {
	if err := checkEnv(KindQLearn, env); err != nil {
		return err
	}
	obs, err := env.Reset()
	if err != nil {
		return err
	}

	for step := 0; step < totalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		side := q.explore(obs)
		res, err := env.Step(sim.Discrete(side))
		if err != nil {
			return fmt.Errorf("qlearn step %d: %w", step, err)
		}

		target := res.Reward
		if !res.Done {
			next := q.Q(res.Observation)
			target += q.hyper.Gamma * math.Max(next[0], math.Max(next[1], next[2]))
		}
		f := features(obs)
		w := q.weights[side]
		td := target - dot(w, f)
		td = math.Max(-q.hyper.TDClip, math.Min(q.hyper.TDClip, td))
		for i := range w {
			w[i] += q.hyper.LearningRate * td * f[i]
		}
		if !finite(w) {
			return fmt.Errorf("qlearn step %d: weights diverged", step)
		}

		q.epsilon = math.Max(q.hyper.EpsilonMin, q.epsilon*q.hyper.EpsilonDecay)
		q.steps++

		obs = res.Observation
		if res.Done {
			if obs, err = env.Reset(); err != nil {
				return err
			}
		}
		if cb != nil {
			if err := cb(step + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save writes the weights and exploration state to path.
func (q *QLearner) Save(path string) error {
	m := &model{
		Kind:    KindQLearn,
		Hyper:   q.hyper,
		Epsilon: q.epsilon,
		Steps:   q.steps,
	}
	for _, w := range q.weights {
		m.Weights = append(m.Weights, append([]float64(nil), w...))
	}
	return saveModel(path, m)
}

// Load replaces the learner's state with the model at path.
func (q *QLearner) Load(path string) error {
	m, err := loadModel(path, KindQLearn, domain.NumSides)
	if err != nil {
		return err
	}
	q.hyper = m.Hyper.WithDefaults()
	q.epsilon = m.Epsilon
	q.steps = m.Steps
	q.rng = rand.New(rand.NewSource(q.hyper.Seed))
	for a := range q.weights {
		q.weights[a] = m.Weights[a]
	}
	return nil
}
