package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/qmuntal/stateless"
)

// StateMachine tracks the current state and validates transitions
type StateMachine[S ~string, T ~string] interface {
	// State returns the current state
	State() S

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger T) bool

	// Fire executes the trigger, moving to the configured target state
	Fire(ctx context.Context, trigger T) error

	// PermittedTriggers returns the triggers accepted in the current state, sorted
	PermittedTriggers() []T
}

type stateMachine[S ~string, T ~string] struct {
	sm    *stateless.StateMachine
	table map[S]map[T]S
}

func (m *stateMachine[S, T]) State() S {
	return m.sm.MustState().(S)
}

func (m *stateMachine[S, T]) CanFire(trigger T) bool {
	_, ok := m.table[m.State()][trigger]
	return ok
}

func (m *stateMachine[S, T]) Fire(ctx context.Context, trigger T) error {
	from := m.State()
	if !m.CanFire(trigger) {
		return fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, trigger, from)
	}
	if err := m.sm.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("%w: %s from state %s: %v", ErrInvalidTransition, trigger, from, err)
	}
	return nil
}

func (m *stateMachine[S, T]) PermittedTriggers() []T {
	row := m.table[m.State()]
	triggers := make([]T, 0, len(row))
	for trigger := range row {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
