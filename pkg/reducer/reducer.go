// Package reducer defines the pure state-transition contract that the
// store runtime drives: (state, action, env) -> (state', effects). See
// spec §4.4.
package reducer

import "eventflux/pkg/effect"

// Reducer is implemented by pure state-transition functions. Reduce may
// read env (an inert bundle of capabilities, not live connections) and
// must mutate state in place; it must not perform I/O or observe
// wall-clock time directly — both are obtained through env.
type Reducer[State, Action, Env any] interface {
	Reduce(state *State, action Action, env Env) []effect.Effect[Action]
}

// Func adapts a plain function to the Reducer interface, mirroring the
// http.HandlerFunc idiom used throughout the teacher's handler layer.
type Func[State, Action, Env any] func(state *State, action Action, env Env) []effect.Effect[Action]

func (f Func[State, Action, Env]) Reduce(state *State, action Action, env Env) []effect.Effect[Action] {
	return f(state, action, env)
}

// Combine composes child reducers over the same state/action/env, running
// each in turn and concatenating their effects. This is how a parent
// aggregate dispatches into child reducers over substates without any
// dynamic dispatch at the reducer level (spec §9, "inheritance").
func Combine[State, Action, Env any](reducers ...Reducer[State, Action, Env]) Reducer[State, Action, Env] {
	return Func[State, Action, Env](func(state *State, action Action, env Env) []effect.Effect[Action] {
		var effects []effect.Effect[Action]
		for _, r := range reducers {
			effects = append(effects, r.Reduce(state, action, env)...)
		}
		return effects
	})
}
