package solver

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/mmsolver/scenegraph"
)

// SolverType names a minimiser and its Jacobian policy.
type SolverType string

// Solver types.
const (
	CeresLMDer           = SolverType("ceres_lmder")
	CeresLMDif           = SolverType("ceres_lmdif")
	CeresLineSearchLBFGS = SolverType("ceres_line_search_lbfgs_der")
	CMinpackLMDif        = SolverType("cminpack_lmdif")
	CMinpackLMDer        = SolverType("cminpack_lmder")
)

const (
	defaultSolverType     = CeresLMDer
	defaultIterations     = 20
	defaultTau            = 1e-3
	defaultEpsilon        = 1e-6
	defaultRobustScale    = 1.0
	defaultRootInterval   = 10
	defaultSmoothingWidth = 3
)

// SolverTypes lists every solver type.
func SolverTypes() []SolverType {
	return []SolverType{CeresLMDer, CeresLMDif, CeresLineSearchLBFGS, CMinpackLMDif, CMinpackLMDer}
}

// DiffType is the finite difference scheme.
type DiffType string

// Finite difference schemes.
const (
	DiffForward = DiffType("forward")
	DiffCentral = DiffType("central")
)

// LossType is a robust loss function applied to marker residuals.
type LossType string

// Robust losses.
const (
	LossTrivial = LossType("trivial")
	LossSoftL1  = LossType("soft_l1")
	LossCauchy  = LossType("cauchy")
)

// FrameSolveMode selects the scheduling strategy.
type FrameSolveMode string

// Frame solve modes.
const (
	FrameSolveAll             = FrameSolveMode("all")
	FrameSolvePerFrame        = FrameSolveMode("per_frame")
	FrameSolveRootThenFill    = FrameSolveMode("root_then_fill")
	FrameSolveRootPairForward = FrameSolveMode("root_pair_forward")
)

// Statistics sections that can be printed instead of solving.
const (
	StatisticsInputs    = "inputs"
	StatisticsAffects   = "affects"
	StatisticsDeviation = "deviation"
)

// Options is every knob of a solve.
type Options struct {
	SolverType     SolverType              `json:"solver_type"`
	SceneGraphMode scenegraph.Mode         `json:"scene_graph_mode"`
	TimeEvalMode   scenegraph.TimeEvalMode `json:"time_eval_mode"`
	FrameSolveMode FrameSolveMode          `json:"frame_solve_mode"`

	// Iterations caps the iterations of each sub-solve.
	Iterations int `json:"iterations"`
	// Tau is the initial damping factor.
	Tau float64 `json:"tau"`
	// Eps1 is the relative step tolerance.
	Eps1 float64 `json:"eps1"`
	// Eps2 is the gradient tolerance.
	Eps2 float64 `json:"eps2"`
	// Eps3 is the residual and relative cost tolerance.
	Eps3 float64 `json:"eps3"`
	// Delta, when positive, replaces the relative finite difference step: slot j steps by
	// Delta*max(|x_j|, 1). An attribute's own step still takes precedence.
	Delta        float64  `json:"delta"`
	AutoDiffType DiffType `json:"auto_diff_type"`

	RobustLossType  LossType `json:"robust_loss_type"`
	RobustLossScale float64  `json:"robust_loss_scale"`

	RemoveUnusedMarkers    bool `json:"remove_unused_markers"`
	RemoveUnusedAttributes bool `json:"remove_unused_attributes"`

	// PrintStatistics lists statistics sections to report. When set nothing is solved.
	PrintStatistics []string `json:"print_statistics"`

	// TimeoutSeconds is the wall time budget of the whole solve. Zero means no limit.
	TimeoutSeconds float64 `json:"timeout_seconds"`
	// JacobianWorkers evaluates Jacobian columns in parallel on copies of a native evaluator.
	JacobianWorkers int `json:"jacobian_workers"`
	// RootFrameInterval spaces automatic root frames when no frame is labelled primary.
	RootFrameInterval int `json:"root_frame_interval"`
	// GlobalSolve adds a pass over every frame at the end of root_pair_forward.
	GlobalSolve bool `json:"global_solve"`
	// WriteDeviation writes per marker deviation back to the scene after solving.
	WriteDeviation bool `json:"write_deviation"`

	Verbose bool `json:"verbose"`
}

// DefaultOptions returns the options of a plain solve.
func DefaultOptions() Options {
	return Options{
		SolverType:             defaultSolverType,
		SceneGraphMode:         scenegraph.ModeAuto,
		TimeEvalMode:           scenegraph.TimeEvalDGContext,
		FrameSolveMode:         FrameSolveAll,
		Iterations:             defaultIterations,
		Tau:                    defaultTau,
		Eps1:                   defaultEpsilon,
		Eps2:                   defaultEpsilon,
		Eps3:                   defaultEpsilon,
		AutoDiffType:           DiffForward,
		RobustLossType:         LossTrivial,
		RobustLossScale:        defaultRobustScale,
		RemoveUnusedMarkers:    true,
		RemoveUnusedAttributes: true,
		RootFrameInterval:      defaultRootInterval,
		WriteDeviation:         true,
	}
}

// Validate checks every option.
func (o Options) Validate() error {
	if !lo.Contains(SolverTypes(), o.SolverType) {
		return errors.Errorf("unknown solver type %q", o.SolverType)
	}
	if _, err := scenegraph.ModeFromString(string(o.SceneGraphMode)); err != nil {
		return err
	}
	if _, err := scenegraph.TimeEvalModeFromString(string(o.TimeEvalMode)); err != nil {
		return err
	}
	switch o.FrameSolveMode {
	case FrameSolveAll, FrameSolvePerFrame, FrameSolveRootThenFill, FrameSolveRootPairForward:
	default:
		return errors.Errorf("unknown frame solve mode %q", o.FrameSolveMode)
	}
	switch o.AutoDiffType {
	case DiffForward, DiffCentral:
	default:
		return errors.Errorf("unknown auto diff type %q", o.AutoDiffType)
	}
	switch o.RobustLossType {
	case LossTrivial, LossSoftL1, LossCauchy:
	default:
		return errors.Errorf("unknown robust loss type %q", o.RobustLossType)
	}
	if o.Iterations < 1 {
		return errors.Errorf("iterations must be at least 1, got %d", o.Iterations)
	}
	for name, v := range map[string]float64{
		"tau": o.Tau, "eps1": o.Eps1, "eps2": o.Eps2, "eps3": o.Eps3, "robust_loss_scale": o.RobustLossScale,
	} {
		if !(v > 0) {
			return errors.Errorf("%s must be positive, got %v", name, v)
		}
	}
	if o.Delta < 0 || o.TimeoutSeconds < 0 || o.JacobianWorkers < 0 || o.RootFrameInterval < 0 {
		return errors.New("delta, timeout_seconds, jacobian_workers and root_frame_interval cannot be negative")
	}
	for _, section := range o.PrintStatistics {
		switch strings.ToLower(section) {
		case StatisticsInputs, StatisticsAffects, StatisticsDeviation:
		default:
			return errors.Errorf("unknown statistics section %q", section)
		}
	}
	return nil
}

// usesRobustLoss reports whether the solver type applies a robust loss.
func (o Options) usesRobustLoss() bool {
	b, err := newBackend(o.SolverType)
	return err == nil && b.robust && o.RobustLossType != LossTrivial
}
