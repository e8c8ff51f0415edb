package engine

import "github.com/roach88/plenum/internal/errs"

// DefaultMaxDepth bounds sub-action nesting. The outermost action is depth 1.
const DefaultMaxDepth = 32

// depthQuota tracks sub-action nesting for one dispatch. It catches runaway
// recursion (an action invoking itself through a chain of sub-actions)
// before it exhausts the stack.
type depthQuota struct {
	max     int
	current int
}

func newDepthQuota(max int) *depthQuota {
	if max <= 0 {
		max = DefaultMaxDepth
	}
	return &depthQuota{max: max}
}

// Enter records one more level of nesting for action name.
func (q *depthQuota) Enter(name string) error {
	if q.current >= q.max {
		return errs.New(errs.KindAction, "Maximum action nesting depth of %d exceeded in %s.", q.max, name).
			With("action", name)
	}
	q.current++
	return nil
}

// Leave pops one level.
func (q *depthQuota) Leave() {
	if q.current > 0 {
		q.current--
	}
}

// Depth is the current nesting level, 0 outside any action.
func (q *depthQuota) Depth() int {
	return q.current
}
