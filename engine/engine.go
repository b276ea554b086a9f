// Package engine is the thin mutable holder around the pure reducer
// (spec §4.2): it owns exactly one SessionState, exposes Dispatch to
// atomically replace it, and is accessed from exactly one goroutine (the
// runtime's processing loop — see package runtime).
package engine

import "github.com/nostrcore/relaysession/reduce"

// Engine wraps reduce.Reduce with the single mutable piece of state it
// needs: the current SessionState. It performs no I/O and is not
// goroutine-safe by design — confining all mutation to a single caller is
// what lets the reducer itself stay lock-free (spec §5, §9).
type Engine struct {
	state  reduce.SessionState
	config reduce.Config
}

// New returns an Engine seeded with the initial session state and the
// given reducer configuration.
func New(config reduce.Config) *Engine {
	return &Engine{
		state:  reduce.NewSessionState(),
		config: config,
	}
}

// State returns the current snapshot. Safe to call from the owning
// goroutine only; callers that need cross-goroutine visibility should
// publish it onto a broadcast stream (see runtime.Runtime).
func (e *Engine) State() reduce.SessionState {
	return e.state
}

// Dispatch runs the reducer against the current state and the given
// intent, replacing the engine's state with the result, and returns both
// the new state and the commands the caller must execute.
func (e *Engine) Dispatch(intent reduce.Intent) (reduce.SessionState, []reduce.Command) {
	newState, cmds := reduce.Reduce(e.state, intent, e.config)
	e.state = newState
	return newState, cmds
}
