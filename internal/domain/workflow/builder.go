package workflow

import (
	"fmt"

	"github.com/qmuntal/stateless"
)

// StateMachineBuilder collects permitted transitions and builds machines
// that enforce them.
type StateMachineBuilder[S ~string, T ~string] struct {
	valid          func(S) bool
	configurations map[S]*StateConfiguration[S, T]
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration[S ~string, T ~string] struct {
	builder     *StateMachineBuilder[S, T]
	fromState   S
	transitions map[T]S
}

// NewBuilder creates a new state machine builder. valid rejects unknown
// states at configuration time.
func NewBuilder[S ~string, T ~string](valid func(S) bool) *StateMachineBuilder[S, T] {
	return &StateMachineBuilder[S, T]{
		valid:          valid,
		configurations: make(map[S]*StateConfiguration[S, T]),
	}
}

// Configure returns a state configuration for the given state
func (b *StateMachineBuilder[S, T]) Configure(state S) *StateConfiguration[S, T] {
	if !b.valid(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &StateConfiguration[S, T]{
			builder:     b,
			fromState:   state,
			transitions: make(map[T]S),
		}
		b.configurations[state] = config
	}
	return config
}

// Permit allows a trigger to transition to the target state
func (c *StateConfiguration[S, T]) Permit(trigger T, toState S) *StateConfiguration[S, T] {
	if !c.builder.valid(toState) {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.transitions[trigger] = toState
	return c
}

// Build creates a state machine positioned at the given state
func (b *StateMachineBuilder[S, T]) Build(initialState S) (StateMachine[S, T], error) {
	if !b.valid(initialState) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, initialState)
	}

	sm := stateless.NewStateMachine(initialState)
	table := make(map[S]map[T]S, len(b.configurations))
	for from, config := range b.configurations {
		sc := sm.Configure(from)
		row := make(map[T]S, len(config.transitions))
		for trigger, to := range config.transitions {
			sc.Permit(trigger, to)
			row[trigger] = to
		}
		table[from] = row
	}

	return &stateMachine[S, T]{sm: sm, table: table}, nil
}
