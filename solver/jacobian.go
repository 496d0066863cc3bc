package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

var (
	sqrtEpsilon = math.Sqrt(utils.Epsilon)
	cbrtEpsilon = utils.CubeRoot(utils.Epsilon)
)

// jacobian computes dr/dx by finite differences.
type jacobian struct {
	p       *problem
	central bool
	// dense evaluates every row for every column instead of the rows a column affects.
	dense   bool
	delta   float64
	workers int
}

func (jc *jacobian) step(j int, xj float64) float64 {
	if s := jc.p.coll.Attributes[jc.p.packer.Slots()[j].Attr].Step; s > 0 {
		return s
	}
	factor := sqrtEpsilon
	if jc.central {
		factor = cbrtEpsilon
	}
	if jc.delta > 0 {
		factor = jc.delta
	}
	return math.Max(math.Abs(xj), 1) * factor
}

// compute fills J, which must be numRows x numSlots, at x with residuals r0. ev must hold x.
func (jc *jacobian) compute(ctx context.Context, ev scenegraph.Evaluator, x, r0 []float64, out *mat.Dense) error {
	out.Zero()
	n := len(x)
	cloner, canClone := ev.(scenegraph.Cloner)
	if jc.workers <= 1 || !canClone || n < 2 {
		return jc.columns(ev, x, r0, out, 0, n)
	}
	return utils.GroupWorkParallel(ctx, n, jc.workers, func(ctx context.Context, _, from, to int) error {
		return jc.columns(cloner.Clone(), x, r0, out, from, to)
	})
}

func (jc *jacobian) columns(ev scenegraph.Evaluator, x0, r0 []float64, out *mat.Dense, from, to int) error {
	p := jc.p
	x := append([]float64(nil), x0...)
	plus := make([]float64, len(r0))
	minus := make([]float64, len(r0))
	for j := from; j < to; j++ {
		blocks := p.columnBlocks[j]
		if jc.dense {
			blocks = nil
		} else if len(blocks) == 0 {
			continue
		}

		h := jc.step(j, x0[j])
		x[j] = x0[j] + h
		h = x[j] - x0[j]
		if err := p.packer.UnpackSlot(ev, x, j); err != nil {
			return err
		}
		if err := p.evaluate(ev, plus, blocks); err != nil {
			return err
		}

		denominator := h
		lower := r0
		if jc.central {
			x[j] = x0[j] - h
			if err := p.packer.UnpackSlot(ev, x, j); err != nil {
				return err
			}
			if err := p.evaluate(ev, minus, blocks); err != nil {
				return err
			}
			lower = minus
			denominator = 2 * h
		}

		x[j] = x0[j]
		if err := p.packer.UnpackSlot(ev, x, j); err != nil {
			return err
		}

		set := func(row int) {
			out.Set(row, j, (plus[row]-lower[row])/denominator)
		}
		if blocks == nil {
			for row := range r0 {
				set(row)
			}
			continue
		}
		for _, bi := range blocks {
			b := p.blocks[bi]
			for row := b.row; row < b.row+b.size; row++ {
				set(row)
			}
		}
	}
	return nil
}
