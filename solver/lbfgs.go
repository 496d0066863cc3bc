package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/mmsolver/utils"
)

// lbfgsRecorder reports progress and stops the minimisation when the budget runs out.
type lbfgsRecorder struct {
	d          *driver
	evalErr    error
	iterations int
}

func (rec *lbfgsRecorder) Init() error {
	return nil
}

func (rec *lbfgsRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if rec.evalErr != nil {
		return rec.evalErr
	}
	if op == optimize.MajorIteration {
		rec.iterations++
		rec.d.report(rec.iterations, loc.F, 0, StateAccepting)
	}
	return rec.d.budget.check()
}

// lbfgs minimises the robust cost with gonum's limited memory BFGS. The gradient is Jᵀr from
// the same finite difference Jacobian as the Levenberg-Marquardt driver.
func (d *driver) lbfgs(ctx context.Context, x0 []float64) (*subResult, error) {
	p := d.p
	m, n := p.numRows, p.packer.Len()
	res := &subResult{x: append([]float64(nil), x0...), reason: ReasonMaxIterations}
	rec := &lbfgsRecorder{d: d}

	r := make([]float64, m)
	wr := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	clamped := make([]float64, n)
	best := math.Inf(1)

	f := func(x []float64) float64 {
		if rec.evalErr != nil {
			return math.Inf(1)
		}
		copy(clamped, x)
		p.packer.ClampInternal(clamped)
		if err := d.evaluate(clamped, r); err != nil {
			rec.evalErr = err
			return math.Inf(1)
		}
		res.evaluations++
		if !utils.AllFinite(r) {
			return math.Inf(1)
		}
		cost := p.cost(r)
		if cost < best {
			best = cost
			res.x = append(res.x[:0], clamped...)
			res.costFinal = cost
		}
		return cost
	}
	grad := func(g, x []float64) {
		for i := range g {
			g[i] = 0
		}
		if rec.evalErr != nil {
			return
		}
		copy(clamped, x)
		p.packer.ClampInternal(clamped)
		if err := d.evaluate(clamped, r); err != nil {
			rec.evalErr = err
			return
		}
		if err := d.linearise(ctx, clamped, r, wr, jac); err != nil {
			rec.evalErr = err
			return
		}
		res.evaluations += n
		out := mat.NewVecDense(n, g)
		out.MulVec(jac.T(), mat.NewVecDense(m, wr))
	}

	res.costInitial = f(append([]float64(nil), x0...))
	if rec.evalErr != nil {
		return d.stop(res, rec.evalErr)
	}
	if math.IsInf(res.costInitial, 1) {
		res.reason = ReasonEvaluationFailure
		return res, errors.Wrap(ErrEvaluationFailure, "at the initial parameters")
	}
	d.report(0, res.costInitial, 0, StateInit)

	settings := &optimize.Settings{
		GradientThreshold: d.opts.Eps2,
		MajorIterations:   d.opts.Iterations,
		Converger: &optimize.FunctionConverge{
			Relative:   d.opts.Eps3,
			Iterations: stalledSteps,
		},
		Recorder: rec,
	}
	result, err := optimize.Minimize(optimize.Problem{Func: f, Grad: grad}, x0, settings, &optimize.LBFGS{})
	res.iterations = rec.iterations
	if rec.evalErr != nil {
		return d.stop(res, rec.evalErr)
	}
	if err != nil {
		if reason, ok := stopReason(err); ok {
			res.reason = reason
			d.restore(res)
			return res, nil
		}
	}
	if result != nil {
		switch result.Status {
		case optimize.GradientThreshold:
			res.reason = ReasonSmallGradient
		case optimize.FunctionConvergence:
			res.reason = ReasonStalledCost
		case optimize.IterationLimit:
			res.reason = ReasonMaxIterations
		case optimize.Success, optimize.MethodConverge, optimize.StepConvergence, optimize.FunctionThreshold:
			res.reason = ReasonSmallStep
		default:
			if err != nil {
				d.logger.Debugw("line search stopped", "status", result.Status.String(), "error", err)
			}
			res.reason = ReasonDiverged
		}
	} else if err != nil {
		d.restore(res)
		return res, err
	}
	d.report(res.iterations, res.costFinal, 0, StateTerminating)
	d.restore(res)
	return res, nil
}
