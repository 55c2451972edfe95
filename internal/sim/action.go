package sim

import (
	"fmt"
	"math"

	"rltrader/internal/domain"
)

// Mode selects the action space of an Environment at construction.
type Mode int

const (
	// ModeDiscrete accepts Hold, Buy or Sell.
	ModeDiscrete Mode = iota
	// ModeContinuous accepts a target position in [-1, 1].
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeDiscrete:
		return "discrete"
	case ModeContinuous:
		return "continuous"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ActionSize is the number of discrete actions, or the dimension of the
// continuous action vector.
func (m Mode) ActionSize() int {
	if m == ModeContinuous {
		return 1
	}
	return domain.NumSides
}

// Action is a policy decision. Side is read in discrete mode and Position
// in continuous mode; the other field is ignored.
type Action struct {
	Side     domain.Side `json:"side"`
	Position float64     `json:"position"`
}

// Discrete builds a discrete action.
func Discrete(s domain.Side) Action { return Action{Side: s} }

// Continuous builds a continuous action. Position is the fraction of net
// worth to hold in shares; values at or below zero mean flat.
func Continuous(position float64) Action { return Action{Position: position} }

func (a Action) validate(m Mode) error {
	switch m {
	case ModeDiscrete:
		if !a.Side.Valid() {
			return fmt.Errorf("%w: side %d outside discrete space of %d", domain.ErrInvalidAction, int(a.Side), domain.NumSides)
		}
	case ModeContinuous:
		p := a.Position
		if math.IsNaN(p) || p < -1 || p > 1 {
			return fmt.Errorf("%w: position %v outside [-1, 1]", domain.ErrInvalidAction, p)
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", domain.ErrInvalidAction, m)
	}
	return nil
}
