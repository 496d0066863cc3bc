package lens

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Chain is an ordered list of lenses. Element 0 is the innermost lens: it is applied first when
// distorting and last when undistorting.
type Chain []Distorter

// Distort applies every lens in order.
func (c Chain) Distort(p r2.Point) r2.Point {
	for _, d := range c {
		p = d.Distort(p)
	}
	return p
}

// Undistort inverts the chain, outermost lens first.
func (c Chain) Undistort(p r2.Point) (r2.Point, error) {
	for i := len(c) - 1; i >= 0; i-- {
		var err error
		p, err = Undistort(c[i], p)
		if err != nil {
			return p, errors.Wrapf(err, "lens %d of %d", i, len(c))
		}
	}
	return p, nil
}

// Models lists the model of each lens in order.
func (c Chain) Models() []Model {
	out := make([]Model, len(c))
	for i, d := range c {
		out[i] = d.ModelType()
	}
	return out
}
