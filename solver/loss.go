package solver

import "math"

// loss is a robust loss ρ(s) of a squared residual norm s, with scale c.
type loss struct {
	kind  LossType
	scale float64
}

// rho is the loss of s.
func (l loss) rho(s float64) float64 {
	c2 := l.scale * l.scale
	switch l.kind {
	case LossSoftL1:
		return 2 * c2 * (math.Sqrt(1+s/c2) - 1)
	case LossCauchy:
		return c2 * math.Log1p(s/c2)
	case LossTrivial:
	}
	return s
}

// weight is the IRLS row weight sqrt(ρ'(s)).
func (l loss) weight(s float64) float64 {
	c2 := l.scale * l.scale
	switch l.kind {
	case LossSoftL1:
		return math.Sqrt(1 / math.Sqrt(1+s/c2))
	case LossCauchy:
		return math.Sqrt(1 / (1 + s/c2))
	case LossTrivial:
	}
	return 1
}
