package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

const (
	minLambda = 1e-20
	maxLambda = 1e20
	// maxEvaluationFailures is how many non-finite evaluations in a row end a sub-solve.
	maxEvaluationFailures = 3
	// stalledSteps is how many small accepted steps in a row end a sub-solve.
	stalledSteps = 3
	// divergenceFactor is how far above the initial cost the last trial step may land when the
	// iteration cap is reached before the sub-solve counts as diverged.
	divergenceFactor = 10
)

// subResult is the outcome of one sub-solve.
type subResult struct {
	x           []float64
	costInitial float64
	costFinal   float64
	iterations  int
	evaluations int
	reason      Reason
}

// driver runs a minimiser over one problem.
type driver struct {
	p        *problem
	ev       scenegraph.Evaluator
	jac      *jacobian
	opts     Options
	budget   *budget
	progress ProgressFunc
	runID    string
	action   int
	logger   logging.Logger
}

func (d *driver) report(iteration int, cost, lambda float64, state State) {
	d.logger.Debugw("iteration", "action", d.action, "iteration", iteration, "cost", cost, "lambda", lambda, "state", state.String())
	if d.progress != nil {
		d.progress(Progress{RunID: d.runID, Action: d.action, Iteration: iteration, Cost: cost, Lambda: lambda, State: state})
	}
}

// evaluate writes x and computes r.
func (d *driver) evaluate(x, r []float64) error {
	if err := d.p.packer.Unpack(d.ev, x); err != nil {
		return err
	}
	return d.p.evaluate(d.ev, r, nil)
}

// linearise computes the weighted residuals and Jacobian at x, which ev must hold.
func (d *driver) linearise(ctx context.Context, x, r []float64, wr []float64, jac *mat.Dense) error {
	if err := d.jac.compute(ctx, d.ev, x, r, jac); err != nil {
		return err
	}
	w := d.p.weights(r)
	for i := range r {
		wr[i] = w[i] * r[i]
		if w[i] != 1 {
			row := jac.RawRowView(i)
			floats.Scale(w[i], row)
		}
	}
	return nil
}

// solveDamped solves (A + λ·diag(A)) δ = -g with Cholesky, retrying with a ridge and finally
// with QR.
func solveDamped(a *mat.SymDense, g *mat.VecDense, lambda float64) (*mat.VecDense, error) {
	n := a.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(a)
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		d := a.At(i, i)
		maxDiag = math.Max(maxDiag, d)
		damped.SetSym(i, i, d+lambda*d)
	}
	rhs := mat.NewVecDense(n, nil)
	rhs.ScaleVec(-1, g)
	delta := mat.NewVecDense(n, nil)

	var chol mat.Cholesky
	if chol.Factorize(damped) {
		if err := chol.SolveVecTo(delta, rhs); err == nil {
			return delta, nil
		}
	}

	ridge := 1e-9 * maxDiag
	if ridge == 0 {
		ridge = 1e-12
	}
	for i := 0; i < n; i++ {
		damped.SetSym(i, i, damped.At(i, i)+math.Max(ridge, lambda*ridge))
	}
	if chol.Factorize(damped) {
		if err := chol.SolveVecTo(delta, rhs); err == nil {
			return delta, nil
		}
	}

	var qr mat.QR
	qr.Factorize(damped)
	if err := qr.SolveVecTo(delta, false, rhs); err != nil {
		return nil, errors.Wrap(ErrSingularNormalEquations, err.Error())
	}
	return delta, nil
}

// levmar runs damped Gauss-Newton from x0. The returned result always carries the best
// parameters found, also alongside a fatal error.
func (d *driver) levmar(ctx context.Context, x0 []float64) (*subResult, error) {
	p := d.p
	m, n := p.numRows, p.packer.Len()
	res := &subResult{x: append([]float64(nil), x0...), reason: ReasonMaxIterations}

	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	if err := d.evaluate(x, r); err != nil {
		if reason, ok := stopReason(err); ok {
			res.reason = reason
			return res, nil
		}
		return res, err
	}
	res.evaluations++
	if !utils.AllFinite(r) {
		res.reason = ReasonEvaluationFailure
		return res, errors.Wrap(ErrEvaluationFailure, "at the initial parameters")
	}
	cost := p.cost(r)
	res.costInitial, res.costFinal = cost, cost

	lambda := d.opts.Tau
	d.report(0, cost, lambda, StateInit)
	wr := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	linearise := func() error {
		err := d.linearise(ctx, x, r, wr, jac)
		res.evaluations += n
		return err
	}
	if err := linearise(); err != nil {
		return d.stop(res, err)
	}

	rNew := make([]float64, m)
	xNew := make([]float64, n)
	failures, small := 0, 0
	lastCost := cost
	for iter := 1; iter <= d.opts.Iterations; iter++ {
		res.iterations = iter
		if err := d.budget.check(); err != nil {
			return d.stop(res, err)
		}

		var a mat.SymDense
		a.SymOuterK(1, jac.T())
		g := mat.NewVecDense(n, nil)
		g.MulVec(jac.T(), mat.NewVecDense(m, wr))

		if mat.Norm(g, math.Inf(1)) < d.opts.Eps2 {
			res.reason = ReasonSmallGradient
			break
		}
		if 2*floats.Dot(wr, wr)/float64(m) < d.opts.Eps3*d.opts.Eps3 {
			res.reason = ReasonSmallResidual
			break
		}

		delta, err := solveDamped(&a, g, lambda)
		if err != nil {
			res.reason = ReasonSingular
			d.restore(res)
			return res, err
		}
		if !utils.AllFinite(delta.RawVector().Data) {
			res.reason = ReasonDiverged
			break
		}
		copy(xNew, x)
		floats.Add(xNew, delta.RawVector().Data)
		p.packer.ClampInternal(xNew)
		step := floats.Distance(xNew, x, 2)
		if step < d.opts.Eps1*(floats.Norm(x, 2)+d.opts.Eps1) {
			res.reason = ReasonSmallStep
			break
		}
		for j := range xNew {
			delta.SetVec(j, xNew[j]-x[j])
		}

		d.report(iter, cost, lambda, StateEvaluating)
		if err := d.evaluate(xNew, rNew); err != nil {
			return d.stop(res, err)
		}
		res.evaluations++

		accepted := false
		newCost := math.Inf(1)
		if utils.AllFinite(rNew) {
			failures = 0
			newCost = p.cost(rNew)
			lastCost = newCost
			// predicted decrease of the undamped linear model.
			var ad mat.VecDense
			ad.MulVec(&a, delta)
			predicted := -mat.Dot(delta, g) - 0.5*mat.Dot(delta, &ad)
			actual := cost - newCost
			ratio := actual
			if predicted > 0 {
				ratio = actual / predicted
			}
			accepted = ratio > 0 && actual > 0
		} else {
			lastCost = newCost
			failures++
			if failures >= maxEvaluationFailures {
				res.reason = ReasonEvaluationFailure
				d.restore(res)
				return res, errors.Wrapf(ErrEvaluationFailure, "%d evaluations in a row", failures)
			}
		}

		if accepted {
			relative := (cost - newCost) / math.Max(cost, utils.Epsilon)
			copy(x, xNew)
			copy(r, rNew)
			cost = newCost
			res.x = append(res.x[:0], x...)
			res.costFinal = cost
			lambda = math.Max(lambda*0.1, minLambda)
			d.report(iter, cost, lambda, StateAccepting)

			if relative < d.opts.Eps3 {
				small++
			} else {
				small = 0
			}
			if small >= stalledSteps {
				res.reason = ReasonStalledCost
				break
			}
			if err := linearise(); err != nil {
				return d.stop(res, err)
			}
			continue
		}

		d.report(iter, cost, lambda, StateRejecting)
		if lambda >= maxLambda {
			res.reason = ReasonStalledLambda
			break
		}
		lambda = math.Min(lambda*10, maxLambda)
	}

	res.reason = capReason(res.reason, lastCost, res.costInitial)
	d.report(res.iterations, res.costFinal, lambda, StateTerminating)
	d.restore(res)
	return res, nil
}

// capReason turns an iteration cap into a divergence when the last trial step cost more than
// divergenceFactor times the initial cost. The best parameters are kept either way.
func capReason(reason Reason, lastCost, costInitial float64) Reason {
	if reason == ReasonMaxIterations && lastCost > divergenceFactor*costInitial {
		return ReasonDiverged
	}
	return reason
}

// restore writes the best parameters back through the evaluator.
func (d *driver) restore(res *subResult) {
	if err := d.p.packer.Unpack(d.ev, res.x); err != nil {
		d.logger.Warnw("cannot restore best parameters", "error", err)
	}
}

// stop ends a sub-solve after an evaluation error. Cancellation and time outs are not errors.
func (d *driver) stop(res *subResult, err error) (*subResult, error) {
	d.restore(res)
	if reason, ok := stopReason(err); ok {
		res.reason = reason
		return res, nil
	}
	res.reason = ReasonEvaluationFailure
	return res, err
}
