// Package strategy defines rule-based trading strategies and a Registry for
// looking them up by name, plus a Backtester that drives a strategy through
// the market simulation.
package strategy

import (
	"sort"

	"rltrader/internal/domain"
)

// Strategy is a fixed decision rule. Decide sees only the bars up to and
// including the current one and must not retain or modify them.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Decide returns the action to take at the last bar of history.
	Decide(history []domain.Bar) domain.Side
}

// Func adapts a plain function to the decision part of Strategy.
type Func func(history []domain.Bar) domain.Side

// New wraps fn as a Strategy called name.
func New(name string, fn Func) Strategy {
	return &funcStrategy{name: name, fn: fn}
}

type funcStrategy struct {
	name string
	fn   Func
}

func (s *funcStrategy) Name() string                            { return s.name }
func (s *funcStrategy) Decide(history []domain.Bar) domain.Side { return s.fn(history) }

// Registry holds a named collection of strategies for lookup and
// enumeration. It is not safe for concurrent registration; register
// everything before serving lookups.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
