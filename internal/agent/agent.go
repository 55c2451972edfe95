// Package agent holds the learning algorithms that drive the simulation:
// a linear Q-learner for the discrete action space and augmented random
// search for the continuous one. Both are deterministic given a seed and
// persist as opaque msgpack files.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"rltrader/internal/config"
	"rltrader/internal/domain"
	"rltrader/internal/sim"
)

// Kind names a learning algorithm.
type Kind string

const (
	// KindQLearn is the discrete-action learner.
	KindQLearn Kind = "qlearn"
	// KindARS is the continuous-action learner.
	KindARS Kind = "ars"
)

// Kinds lists the supported algorithms.
var Kinds = []Kind{KindQLearn, KindARS}

// ParseKind resolves an algorithm name. "discrete" and "ppo" select the
// discrete learner, "continuous" and "sac" the continuous one.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qlearn", "discrete", "ppo":
		return KindQLearn, nil
	case "ars", "continuous", "sac":
		return KindARS, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedAlgorithm, s)
	}
}

// Mode returns the action space the algorithm acts in.
func (k Kind) Mode() sim.Mode {
	if k == KindARS {
		return sim.ModeContinuous
	}
	return sim.ModeDiscrete
}

// Env is the environment contract a learner drives. *sim.Environment
// satisfies it.
type Env interface {
	Reset() (sim.Observation, error)
	Step(sim.Action) (sim.StepResult, error)
	Mode() sim.Mode
}

// Callback is invoked after every environment step with the number of steps
// taken so far. A non-nil error stops learning and is returned by Learn.
type Callback func(steps int) error

// Algorithm is a policy learner.
type Algorithm interface {
	Kind() Kind
	// Learn takes exactly totalSteps environment steps unless ctx is done or
	// cb fails. Episodes that finish are reset and learning continues.
	Learn(ctx context.Context, env Env, totalSteps int, cb Callback) error
	// Predict returns the policy's action for obs. Deterministic disables
	// exploration.
	Predict(obs sim.Observation, deterministic bool) sim.Action
	Save(path string) error
	Load(path string) error
}

// Hyper holds the tunables of both learners. Zero fields take the values
// from DefaultHyper.
type Hyper struct {
	Seed int64 `yaml:"seed" msgpack:"seed"`

	// Q-learning.
	LearningRate float64 `yaml:"learning_rate" msgpack:"learning_rate"`
	Gamma        float64 `yaml:"gamma" msgpack:"gamma"`
	Epsilon      float64 `yaml:"epsilon" msgpack:"epsilon"`
	EpsilonMin   float64 `yaml:"epsilon_min" msgpack:"epsilon_min"`
	EpsilonDecay float64 `yaml:"epsilon_decay" msgpack:"epsilon_decay"`
	TDClip       float64 `yaml:"td_clip" msgpack:"td_clip"`

	// Augmented random search.
	StepSize   float64 `yaml:"step_size" msgpack:"step_size"`
	NoiseStd   float64 `yaml:"noise_std" msgpack:"noise_std"`
	Directions int     `yaml:"directions" msgpack:"directions"`
	TopK       int     `yaml:"top_k" msgpack:"top_k"`
	// RolloutSteps caps each rollout; 0 runs to the end of the episode.
	RolloutSteps int `yaml:"rollout_steps" msgpack:"rollout_steps"`
}

// DefaultHyper returns the default tunables.
func DefaultHyper() Hyper {
	return Hyper{
		Seed:         1,
		LearningRate: 0.01,
		Gamma:        0.95,
		Epsilon:      1.0,
		EpsilonMin:   0.05,
		EpsilonDecay: 0.999,
		TDClip:       1.0,
		StepSize:     0.02,
		NoiseStd:     0.03,
		Directions:   8,
		TopK:         4,
	}
}

// HyperFromConfig maps the training section of the configuration onto Hyper.
func HyperFromConfig(t config.Training) Hyper {
	return Hyper{
		Seed:         t.Seed,
		LearningRate: t.LearningRate,
		Gamma:        t.Gamma,
		Epsilon:      t.Epsilon,
		EpsilonMin:   t.EpsilonMin,
		EpsilonDecay: t.EpsilonDecay,
		TDClip:       t.TDClip,
		StepSize:     t.StepSize,
		NoiseStd:     t.NoiseStd,
		Directions:   t.Directions,
		TopK:         t.TopK,
		RolloutSteps: t.RolloutSteps,
	}
}

// WithDefaults fills zero fields from DefaultHyper.
func (h Hyper) WithDefaults() Hyper {
	d := DefaultHyper()
	if h.Seed == 0 {
		h.Seed = d.Seed
	}
	if h.LearningRate <= 0 {
		h.LearningRate = d.LearningRate
	}
	if h.Gamma <= 0 {
		h.Gamma = d.Gamma
	}
	if h.Epsilon <= 0 {
		h.Epsilon = d.Epsilon
	}
	if h.EpsilonMin <= 0 {
		h.EpsilonMin = d.EpsilonMin
	}
	if h.EpsilonDecay <= 0 {
		h.EpsilonDecay = d.EpsilonDecay
	}
	if h.TDClip <= 0 {
		h.TDClip = d.TDClip
	}
	if h.StepSize <= 0 {
		h.StepSize = d.StepSize
	}
	if h.NoiseStd <= 0 {
		h.NoiseStd = d.NoiseStd
	}
	if h.Directions <= 0 {
		h.Directions = d.Directions
	}
	if h.TopK <= 0 || h.TopK > h.Directions {
		h.TopK = min(d.TopK, h.Directions)
	}
	return h
}

// New constructs an untrained learner of the given kind.
func New(kind Kind, h Hyper) (Algorithm, error) {
	h = h.WithDefaults()
	switch kind {
	case KindQLearn:
		return NewQLearner(h), nil
	case KindARS:
		return NewARS(h), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedAlgorithm, kind)
	}
}

// ErrModelMismatch is returned when a saved model does not fit the learner
// loading it.
var ErrModelMismatch = errors.New("model file does not match algorithm")

// numFeatures is the observation plus a bias term.
const numFeatures = sim.ObservationSize + 1

func features(obs sim.Observation) [numFeatures]float64 {
	var f [numFeatures]float64
	copy(f[:], obs[:])
	f[sim.ObservationSize] = 1
	return f
}

func dot(w []float64, f [numFeatures]float64) float64 {
	var s float64
	for i := range f {
		s += w[i] * f[i]
	}
	return s
}

func finite(ws ...[]float64) bool {
	for _, w := range ws {
		for _, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// model is the persisted form of a learner.
type model struct {
	Kind    Kind        `msgpack:"kind"`
	Version int         `msgpack:"version"`
	Hyper   Hyper       `msgpack:"hyper"`
	Weights [][]float64 `msgpack:"weights"`
	Epsilon float64     `msgpack:"epsilon,omitempty"`
	Steps   int         `msgpack:"steps"`
}

const modelVersion = 1

func saveModel(path string, m *model) error {
	m.Version = modelVersion
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding %s model: %w", m.Kind, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating model directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing model %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func loadModel(path string, kind Kind, rows int) (*model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", path, err)
	}
	var m model
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}
	if m.Kind != kind {
		return nil, fmt.Errorf("%w: %s holds %q, want %q", ErrModelMismatch, path, m.Kind, kind)
	}
	if m.Version != modelVersion || len(m.Weights) != rows {
		return nil, fmt.Errorf("%w: %s version %d with %d weight rows", ErrModelMismatch, path, m.Version, len(m.Weights))
	}
	for _, w := range m.Weights {
		if len(w) != numFeatures {
			return nil, fmt.Errorf("%w: %s has %d features, want %d", ErrModelMismatch, path, len(w), numFeatures)
		}
	}
	return &m, nil
}

func checkEnv(kind Kind, env Env) error {
	if env.Mode() != kind.Mode() {
		return fmt.Errorf("%s needs a %s environment, got %s", kind, kind.Mode(), env.Mode())
	}
	return nil
}
