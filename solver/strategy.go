package solver

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/mmsolver/collection"
)

// Action is one independent sub-solve of a strategy: the attributes it solves over the frames
// it sees.
type Action struct {
	Name       string
	Frames     []int
	Attributes []int
}

// RootFrames returns the frames labelled primary, or when fewer than two are, the first and
// last frame and every interval-th frame between them.
func RootFrames(c *collection.Collection, interval int) []int {
	primary := lo.FilterMap(c.Frames, func(f collection.Frame, _ int) (int, bool) {
		return f.Number, f.Labels.Has(collection.LabelPrimary)
	})
	if len(primary) >= 2 {
		return primary
	}
	if interval < 1 {
		interval = defaultRootInterval
	}
	numbers := c.FrameNumbers()
	if len(numbers) == 0 {
		return nil
	}
	roots := map[int]bool{numbers[0]: true, numbers[len(numbers)-1]: true}
	for i := 0; i < len(numbers); i += interval {
		roots[numbers[i]] = true
	}
	for _, f := range primary {
		roots[f] = true
	}
	out := lo.Keys(roots)
	sort.Ints(out)
	return out
}

// Actions plans the sub-solves of a frame solve mode. attrs are the attributes to solve.
func Actions(c *collection.Collection, attrs []int, opts Options) ([]Action, error) {
	frames := c.FrameNumbers()
	if len(attrs) == 0 {
		return nil, ErrNoParameters
	}
	if len(frames) == 0 {
		return nil, errors.Wrap(ErrNoResiduals, "no frames")
	}
	animated := lo.Filter(attrs, func(ai, _ int) bool {
		return c.Attributes[ai].State == collection.AttrAnimated
	})
	fill := func(frames []int) []Action {
		if len(animated) == 0 {
			return nil
		}
		return lo.Map(frames, func(f, _ int) Action {
			return Action{Name: fmt.Sprintf("frame %d", f), Frames: []int{f}, Attributes: animated}
		})
	}

	switch opts.FrameSolveMode {
	case FrameSolveAll, "":
		return []Action{{Name: "all frames", Frames: frames, Attributes: attrs}}, nil
	case FrameSolvePerFrame:
		if len(animated) == 0 {
			return nil, errors.Wrap(ErrNoParameters, "per frame solving needs animated attributes")
		}
		return fill(frames), nil
	case FrameSolveRootThenFill:
		roots := RootFrames(c, opts.RootFrameInterval)
		actions := []Action{{Name: "root frames", Frames: roots, Attributes: attrs}}
		others, _ := lo.Difference(frames, roots)
		return append(actions, fill(others)...), nil
	case FrameSolveRootPairForward:
		roots := RootFrames(c, opts.RootFrameInterval)
		var actions []Action
		for i := 1; i < len(roots); i++ {
			actions = append(actions, Action{
				Name:       fmt.Sprintf("root pair %d-%d", roots[i-1], roots[i]),
				Frames:     []int{roots[i-1], roots[i]},
				Attributes: attrs,
			})
		}
		if len(roots) < 2 {
			actions = []Action{{Name: "root frames", Frames: roots, Attributes: attrs}}
		}
		others, _ := lo.Difference(frames, roots)
		actions = append(actions, fill(others)...)
		if opts.GlobalSolve {
			actions = append(actions, Action{Name: "global", Frames: frames, Attributes: attrs})
		}
		return actions, nil
	}
	return nil, errors.Errorf("unknown frame solve mode %q", opts.FrameSolveMode)
}
