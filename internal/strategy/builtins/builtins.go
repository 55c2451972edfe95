// Package builtins provides the strategies that ship with rltrader.
package builtins

import "rltrader/internal/strategy"

// Register adds every built-in strategy with its default parameters.
func Register(r *strategy.Registry) {
	r.Register(NewRSIThreshold(DefaultRSILow, DefaultRSIHigh))
	r.Register(NewMACross())
}

// Registry returns a new Registry holding the built-in strategies.
func Registry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
