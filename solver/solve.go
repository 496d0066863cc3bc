// Package solver adjusts camera, bundle and lens attributes so that projected bundles land on
// their markers. A solve builds the collection from scene names, picks an evaluator, prunes
// attributes and markers that cannot interact, and runs a sequence of sub-solves chosen by the
// frame solve mode. Each sub-solve minimises half the sum of squared residuals with damped
// Gauss-Newton or L-BFGS.
package solver

import (
	"context"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/mmsolver/affects"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

// Request is everything a solve needs besides the scene.
type Request struct {
	Spec    collection.Spec
	Options Options
	// Interrupter, when set, can stop the solve from another goroutine.
	Interrupter *Interrupter
	// Progress, when set, is called after every iteration.
	Progress ProgressFunc
	// Clock measures the time budget. Nil uses the wall clock.
	Clock clock.Clock
}

// prepared is the state shared by solving and analysing.
type prepared struct {
	coll     *collection.Collection
	ev       scenegraph.Evaluator
	aff      *affects.Result
	warnings error
}

func prepare(
	ctx context.Context,
	s *scene.Scene,
	spec collection.Spec,
	opts Options,
	logger logging.Logger,
) (*prepared, error) {
	c, err := collection.Build(s, spec, logger)
	if err != nil {
		return nil, err
	}
	if err := s.ForceEvaluate(s.CurrentTime()); err != nil {
		return nil, err
	}
	ev, err := scenegraph.New(s, c, scenegraph.Config{Mode: opts.SceneGraphMode, TimeEvalMode: opts.TimeEvalMode}, logger)
	if err != nil {
		return nil, err
	}
	logger.Debugw("evaluator selected", "mode", ev.Mode())
	aff, err := affects.Analyse(ctx, s, c, ev, affects.Options{
		RemoveUnusedMarkers:    opts.RemoveUnusedMarkers,
		RemoveUnusedAttributes: opts.RemoveUnusedAttributes,
	}, logger)
	if err != nil {
		return nil, err
	}
	p := &prepared{coll: c, ev: ev, aff: aff}
	p.warnings = multierr.Combine(append(append([]error{}, c.Warnings...), aff.Warnings...)...)
	return p, nil
}

// Affects builds the collection of spec, analyses it and writes the affects relationship as
// metadata onto the marker nodes.
func Affects(
	ctx context.Context,
	s *scene.Scene,
	spec collection.Spec,
	opts Options,
	logger logging.Logger,
) (*collection.Collection, *affects.Result, error) {
	unlock, err := s.AcquireSolveLock()
	if err != nil {
		return nil, nil, err
	}
	defer unlock()
	p, err := prepare(ctx, s, spec, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := p.aff.WriteMetadata(s, p.coll); err != nil {
		return nil, nil, err
	}
	return p.coll, p.aff, nil
}

// Solve runs one solve over the scene. Errors that make the problem unsolvable are returned before
// anything is written. Once solving started, the best parameters found are always written back,
// also alongside an error.
func Solve(ctx context.Context, s *scene.Scene, req Request, logger logging.Logger) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "solver::Solve")
	defer span.End()

	opts := req.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.NewString(), Decisions: Decisions}
	logger = logger.Sublogger("solve")
	if opts.Verbose || logging.IsDebugMode(ctx) {
		logger.SetLevel(logging.DEBUG)
	}
	clk := req.Clock
	if clk == nil {
		clk = clock.New()
	}
	bgt := newBudget(ctx, req.Interrupter, clk, opts.TimeoutSeconds)

	unlock, err := s.AcquireSolveLock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer utils.SlowLogger(ctx, clk, "solve still running", "run_id", res.RunID, logger)()

	p, err := prepare(ctx, s, req.Spec, opts, logger)
	if err != nil {
		return nil, err
	}
	c, ev, aff := p.coll, p.ev, p.aff
	warnings := p.warnings

	var attrs []int
	for ai, a := range c.Attributes {
		if !aff.UsedAttributes[ai] {
			continue
		}
		if a.State == collection.AttrLocked {
			return nil, errors.Wrapf(ErrAttributeLocked, "%q", a.Name)
		}
		if a.State == collection.AttrStatic || a.State == collection.AttrAnimated {
			attrs = append(attrs, ai)
		}
	}
	if len(attrs) == 0 {
		return nil, ErrNoParameters
	}
	backend, err := newBackend(opts.SolverType)
	if err != nil {
		return nil, err
	}
	if !backend.robust && opts.RobustLossType != LossTrivial {
		warnings = multierr.Append(warnings, errors.Errorf("%s does not support robust loss, using %s", opts.SolverType, LossTrivial))
	}

	frames := c.FrameNumbers()
	full, err := newProblem(c, aff, ev, attrs, frames, opts, bgt.check)
	if err != nil {
		return nil, err
	}
	res.NumParameters, res.NumErrors = full.packer.Len(), full.numRows
	if full.numRows == 0 {
		return nil, ErrNoResiduals
	}

	actions, err := Actions(c, attrs, opts)
	if err != nil {
		return nil, err
	}
	problems := make([]*problem, len(actions))
	for i, a := range actions {
		if opts.FrameSolveMode == FrameSolveAll || opts.FrameSolveMode == "" {
			problems[i] = full
			continue
		}
		if problems[i], err = newProblem(c, aff, ev, a.Attributes, a.Frames, opts, bgt.check); err != nil {
			return nil, err
		}
	}

	if len(opts.PrintStatistics) > 0 {
		return statistics(res, opts, p, warnings)
	}

	logger.Infow("solving", "run_id", res.RunID, "parameters", res.NumParameters, "errors", res.NumErrors,
		"actions", len(actions), "solver_type", opts.SolverType, "evaluator", ev.Mode())
	res.Solved = true
	var fatal error
	for i, action := range actions {
		prob := problems[i]
		if prob.packer.Len() == 0 || prob.numRows == 0 {
			warnings = multierr.Append(warnings, errors.Errorf("%s has nothing to solve, skipped", action.Name))
			continue
		}
		x0, packWarnings, err := prob.packer.Pack(ev)
		if err != nil {
			fatal = err
			break
		}
		warnings = multierr.Append(warnings, multierr.Combine(packWarnings...))
		d := &driver{
			p:  prob,
			ev: ev,
			jac: &jacobian{
				p:       prob,
				central: opts.AutoDiffType == DiffCentral,
				delta:   opts.Delta,
				workers: opts.JacobianWorkers,
			},
			opts:     opts,
			budget:   bgt,
			progress: req.Progress,
			runID:    res.RunID,
			action:   i,
			logger:   logger,
		}
		actx, aspan := trace.StartSpan(ctx, "solver::Solve::action")
		aspan.AddAttributes(trace.StringAttribute("action", action.Name), trace.Int64Attribute("parameters", int64(prob.packer.Len())))
		sub, err := backend.minimize(actx, d, x0)
		aspan.End()
		res.merge(ActionResult{
			Name:          action.Name,
			Frames:        action.Frames,
			NumParameters: prob.packer.Len(),
			NumErrors:     prob.numRows,
			Iterations:    sub.iterations,
			Evaluations:   sub.evaluations,
			ErrorInitial:  sub.costInitial,
			ErrorFinal:    sub.costFinal,
			Reason:        sub.reason,
		})
		logger.Debugw("action finished", "action", action.Name, "reason", sub.reason.String(),
			"cost_initial", sub.costInitial, "cost_final", sub.costFinal, "iterations", sub.iterations)
		if err != nil {
			fatal = errors.Wrapf(err, "solving %s", action.Name)
			break
		}
		if sub.reason == ReasonCancelled || sub.reason == ReasonTimedOut {
			break
		}
	}
	if res.Reason == ReasonNone {
		res.Reason = ReasonNotSolved
	}

	if err := ev.Commit(); err != nil {
		return nil, multierr.Combine(fatal, err)
	}
	if res.Markers, res.Frames, err = deviation(ev, c, aff); err != nil {
		warnings = multierr.Append(warnings, err)
	}
	res.summarize()
	res.Status = res.Reason.Status()
	res.Success = fatal == nil && res.Status == StatusSuccess
	res.Duration = bgt.elapsed()
	if opts.WriteDeviation {
		warnings = multierr.Append(warnings, writeDeviation(s, c, res))
	}
	res.Warnings = warnings
	logger.Infow("solved", "run_id", res.RunID, "success", res.Success, "reason", res.Reason.String(),
		"error_final_avg", res.ErrorFinalAvg, "duration", res.Duration)
	return res, fatal
}

// statistics fills the requested tables without solving.
func statistics(res *Result, opts Options, p *prepared, warnings error) (*Result, error) {
	res.Reason = ReasonNotSolved
	res.Status = StatusSuccess
	res.Success = true
	var err error
	if res.Markers, res.Frames, err = deviation(p.ev, p.coll, p.aff); err != nil {
		return nil, err
	}
	res.summarize()
	var tables []string
	for _, section := range opts.PrintStatistics {
		switch strings.ToLower(section) {
		case StatisticsInputs:
			tables = append(tables, inputsTable(p.coll, p.aff, res.NumParameters, res.NumErrors))
			cameras, err := camerasTable(p.ev, p.coll)
			if err != nil {
				return nil, err
			}
			tables = append(tables, cameras)
		case StatisticsAffects:
			tables = append(tables, affectsTable(p.coll, p.aff))
		case StatisticsDeviation:
			tables = append(tables, deviationTable(res))
		}
	}
	res.Statistics = strings.Join(tables, "\n")
	res.Warnings = warnings
	return res, nil
}
