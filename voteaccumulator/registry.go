package voteaccumulator

import "github.com/hotshot-consensus/hotshot/hstypes"

// Registry owns at most one live Accumulator at a time for a given vote
// kind. A vote for a strictly higher view than the current accumulator's
// view replaces it outright (the previous accumulator is dropped/cancelled,
// per §4.4); a vote for a lower view is ignored.
type Registry struct {
	current *Accumulator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// For returns the live accumulator for view, creating one via newAcc if
// none exists yet or the live one is for an older view. Returns nil if view
// is older than the current accumulator's view (stale vote).
func (r *Registry) For(view hstypes.View, newAcc func() *Accumulator) *Accumulator {
	switch {
	case r.current == nil:
		r.current = newAcc()
	case view > r.current.View():
		r.current = newAcc()
	case view < r.current.View():
		return nil
	}
	return r.current
}

// Current returns the live accumulator, or nil if none has been created.
func (r *Registry) Current() *Accumulator {
	return r.current
}
