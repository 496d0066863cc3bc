package solver

import (
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/scene"
)

var (
	// ErrAttributeLocked is returned when a locked attribute is asked to be solved. Nothing is
	// written to the scene.
	ErrAttributeLocked = scene.ErrAttributeLocked
	// ErrNoParameters is returned when nothing is left to solve.
	ErrNoParameters = errors.New("no parameters to solve")
	// ErrNoResiduals is returned when no observation constrains the solve.
	ErrNoResiduals = errors.New("no residuals to solve")
	// ErrBoundsViolation is the warning for an attribute value outside its bounds. The value is
	// clamped.
	ErrBoundsViolation = errors.New("attribute value outside its bounds")
	// ErrEvaluationFailure is returned after repeated non-finite residuals.
	ErrEvaluationFailure = errors.New("residual evaluation is not finite")
	// ErrSingularNormalEquations is returned when no factorisation can solve for a step.
	ErrSingularNormalEquations = errors.New("normal equations are singular")
	// ErrCancelled is returned by evaluations interrupted by the caller.
	ErrCancelled = errors.New("solve cancelled")
	// ErrTimedOut is returned by evaluations past the time budget.
	ErrTimedOut = errors.New("solve timed out")
)

// State is the state of a sub-solve.
type State int

// Sub-solve states.
const (
	StateInit State = iota
	StateEvaluating
	StateAccepting
	StateRejecting
	StateTerminating
)

var stateNames = [...]string{"init", "evaluating", "accepting", "rejecting", "terminating"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Status is how a sub-solve ended.
type Status int

// Terminal statuses.
const (
	StatusSuccess Status = iota
	StatusDiverged
	StatusCancelled
	StatusTimedOut
	StatusStalledLambda
	StatusFailed
)

var statusNames = [...]string{"success", "diverged", "cancelled", "timed_out", "stalled_lambda", "failed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Reason is the termination reason of a sub-solve. Its number is reported as reason_num.
type Reason int

// Termination reasons.
const (
	ReasonNone Reason = iota
	ReasonSmallStep
	ReasonSmallGradient
	ReasonSmallResidual
	ReasonMaxIterations
	ReasonTimedOut
	ReasonCancelled
	ReasonStalledCost
	ReasonStalledLambda
	// ReasonDiverged is reported when the damped step is not finite, or when the iteration cap
	// is hit and the last trial cost exceeds the initial cost tenfold.
	ReasonDiverged
	ReasonEvaluationFailure
	ReasonSingular
	ReasonNotSolved
)

var reasonNames = [...]string{
	"none",
	"step is smaller than eps1",
	"gradient is smaller than eps2",
	"residual is smaller than eps3",
	"maximum iterations reached",
	"time limit reached",
	"cancelled by the user",
	"cost stopped decreasing",
	"damping factor reached its limit",
	"solve diverged",
	"residuals are not finite",
	"normal equations are singular",
	"not solved",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// Status maps a reason to the terminal status it produces.
func (r Reason) Status() Status {
	switch r {
	case ReasonSmallStep, ReasonSmallGradient, ReasonSmallResidual, ReasonMaxIterations, ReasonStalledCost, ReasonNotSolved:
		return StatusSuccess
	case ReasonTimedOut:
		return StatusTimedOut
	case ReasonCancelled:
		return StatusCancelled
	case ReasonStalledLambda:
		return StatusStalledLambda
	case ReasonDiverged:
		return StatusDiverged
	case ReasonNone, ReasonEvaluationFailure, ReasonSingular:
	}
	return StatusFailed
}
