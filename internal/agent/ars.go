package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"rltrader/internal/sim"
)

// Compile-time interface check.
var _ Algorithm = (*ARS)(nil)

// errBudget stops a rollout when the step budget is spent.
var errBudget = errors.New("step budget exhausted")

// ARS learns a position policy tanh(theta . features) by augmented random
// search: each iteration perturbs theta along random directions, scores
// both signs of each perturbation by the reward of a rollout, and moves
// theta along the best directions scaled by the reward spread.
type ARS struct {
	hyper Hyper
	theta []float64
	steps int
	rng   *rand.Rand
}

// NewARS creates an untrained ARS learner with a flat policy.
func NewARS(h Hyper) *ARS {
	h = h.WithDefaults()
	return &ARS{
		hyper: h,
		theta: make([]float64, numFeatures),
		rng:   rand.New(rand.NewSource(h.Seed)),
	}
}

// Kind returns KindARS.
func (a *ARS) Kind() Kind { return KindARS }

// Theta returns a copy of the policy parameters.
func (a *ARS) Theta() []float64 { return append([]float64(nil), a.theta...) }

func position(theta []float64, obs sim.Observation) float64 {
	return math.Tanh(dot(theta, features(obs)))
}

// Predict returns the policy position, with Gaussian noise when
// deterministic is false.
func (a *ARS) Predict(obs sim.Observation, deterministic bool) sim.Action {
	p := position(a.theta, obs)
	if !deterministic {
		p += a.rng.NormFloat64() * a.hyper.NoiseStd
	}
	return sim.Continuous(math.Max(-1, math.Min(1, p)))
}

type direction struct {
	delta       []float64
	plus, minus float64
}

// Learn spends totalSteps environment steps on rollouts. A final iteration
// cut short by the budget is discarded.
func (a *ARS) Learn(ctx context.Context, env Env, totalSteps int, cb Callback) error {
	if err := checkEnv(KindARS, env); err != nil {
		return err
	}

	done := 0
	rollout := func(theta []float64) (float64, error) {
		obs, err := env.Reset()
		if err != nil {
			return 0, err
		}
		var total float64
		for n := 0; a.hyper.RolloutSteps == 0 || n < a.hyper.RolloutSteps; n++ {
			if done >= totalSteps {
				return total, errBudget
			}
			if err := ctx.Err(); err != nil {
				return total, err
			}
			res, err := env.Step(sim.Continuous(position(theta, obs)))
			if err != nil {
				return total, fmt.Errorf("ars step %d: %w", done, err)
			}
			done++
			a.steps++
			total += res.Reward
			if cb != nil {
				if err := cb(done); err != nil {
					return total, err
				}
			}
			if res.Done {
				break
			}
			obs = res.Observation
		}
		return total, nil
	}

	dirs := make([]direction, a.hyper.Directions)
	for done < totalSteps {
		for i := range dirs {
			delta := make([]float64, numFeatures)
			for j := range delta {
				delta[j] = a.rng.NormFloat64()
			}
			dirs[i] = direction{delta: delta}

			var err error
			if dirs[i].plus, err = rollout(perturb(a.theta, delta, a.hyper.NoiseStd)); err != nil {
				return budgetOK(err)
			}
			if dirs[i].minus, err = rollout(perturb(a.theta, delta, -a.hyper.NoiseStd)); err != nil {
				return budgetOK(err)
			}
		}
		a.update(dirs)
		if !finite(a.theta) {
			return fmt.Errorf("ars step %d: policy diverged", done)
		}
	}
	return nil
}

func budgetOK(err error) error {
	if errors.Is(err, errBudget) {
		return nil
	}
	return err
}

func perturb(theta, delta []float64, scale float64) []float64 {
	out := make([]float64, len(theta))
	for i := range theta {
		out[i] = theta[i] + scale*delta[i]
	}
	return out
}

// update moves theta along the TopK directions ranked by max(plus, minus),
// normalized by the standard deviation of their rewards.
func (a *ARS) update(dirs []direction) {
	sort.SliceStable(dirs, func(i, j int) bool {
		return math.Max(dirs[i].plus, dirs[i].minus) > math.Max(dirs[j].plus, dirs[j].minus)
	})
	top := dirs[:a.hyper.TopK]

	rewards := make([]float64, 0, 2*len(top))
	for _, d := range top {
		rewards = append(rewards, d.plus, d.minus)
	}
	var mean, ss float64
	for _, r := range rewards {
		mean += r
	}
	mean /= float64(len(rewards))
	for _, r := range rewards {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(rewards)))
	if std == 0 {
		return
	}

	scale := a.hyper.StepSize / (float64(len(top)) * std)
	for _, d := range top {
		diff := d.plus - d.minus
		for i := range a.theta {
			a.theta[i] += scale * diff * d.delta[i]
		}
	}
}

// Save writes the policy parameters to path.
func (a *ARS) Save(path string) error {
	return saveModel(path, &model{
		Kind:    KindARS,
		Hyper:   a.hyper,
		Weights: [][]float64{a.Theta()},
		Steps:   a.steps,
	})
}

// Load replaces the policy with the model at path.
func (a *ARS) Load(path string) error {
	m, err := loadModel(path, KindARS, 1)
	if err != nil {
		return err
	}
	a.hyper = m.Hyper.WithDefaults()
	a.theta = m.Weights[0]
	a.steps = m.Steps
	a.rng = rand.New(rand.NewSource(a.hyper.Seed))
	return nil
}
