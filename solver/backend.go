package solver

import (
	"context"

	"github.com/pkg/errors"
)

type backendKind int

const (
	backendLevMar backendKind = iota
	backendLBFGS
)

// backend is the minimiser a solver type selects, and how it differentiates.
type backend struct {
	solverType SolverType
	kind       backendKind
	// dense differencing re-evaluates every residual for every column.
	dense bool
	// robust is false for back-ends without loss function support.
	robust bool
}

func newBackend(t SolverType) (backend, error) {
	switch t {
	case CeresLMDer:
		return backend{solverType: t, kind: backendLevMar, robust: true}, nil
	case CeresLMDif:
		return backend{solverType: t, kind: backendLevMar, dense: true, robust: true}, nil
	case CeresLineSearchLBFGS:
		return backend{solverType: t, kind: backendLBFGS, robust: true}, nil
	case CMinpackLMDer:
		return backend{solverType: t, kind: backendLevMar}, nil
	case CMinpackLMDif:
		return backend{solverType: t, kind: backendLevMar, dense: true}, nil
	}
	return backend{}, errors.Errorf("unknown solver type %q", t)
}

func (b backend) minimize(ctx context.Context, d *driver, x0 []float64) (*subResult, error) {
	d.jac.dense = b.dense
	switch b.kind {
	case backendLBFGS:
		return d.lbfgs(ctx, x0)
	case backendLevMar:
	}
	return d.levmar(ctx, x0)
}
