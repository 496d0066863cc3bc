// Package scenegraph evaluates a collection against a scene: world matrices, bundle projection
// through camera and lens, and marker observations. Two back-ends implement Evaluator. The DAG
// back-end delegates every read and write to the host scene. The native back-end samples the
// scene once into a flattened hierarchy and evaluates it directly; it can be cloned for parallel
// work.
package scenegraph

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/camera"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
)

// Mode selects an evaluation back-end.
type Mode string

// Evaluation modes.
const (
	ModeDAG    = Mode("maya_dag")
	ModeNative = Mode("mm_scene_graph")
	ModeAuto   = Mode("auto")
)

// ModeFromString parses a mode name.
func ModeFromString(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeDAG, ModeNative, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", errors.Errorf("unknown scene graph mode %q", s)
}

// TimeEvalMode selects how the DAG back-end addresses time.
type TimeEvalMode string

// Time evaluation modes. DGContext evaluates at an explicit time; SetTime moves the scene's
// current time to the frame first.
const (
	TimeEvalDGContext = TimeEvalMode("dg_context")
	TimeEvalSetTime   = TimeEvalMode("set_time")
)

// TimeEvalModeFromString parses a time evaluation mode name.
func TimeEvalModeFromString(s string) (TimeEvalMode, error) {
	switch m := TimeEvalMode(strings.ToLower(s)); m {
	case TimeEvalDGContext, TimeEvalSetTime:
		return m, nil
	case "":
		return TimeEvalDGContext, nil
	}
	return "", errors.Errorf("unknown time evaluation mode %q", s)
}

// ErrUnsupportedScene is returned when the native back-end cannot represent the scene.
var ErrUnsupportedScene = errors.New("scene cannot be evaluated natively")

// Evaluator answers every query the solver makes of the scene. Attribute, marker, camera and
// bundle arguments index the collection the evaluator was built for; frames are frame numbers.
// An Evaluator is reentrant for a single solve but is not safe for concurrent use.
type Evaluator interface {
	Mode() Mode

	// SetAttribute writes a solved attribute. The frame is ignored for static attributes.
	SetAttribute(attr, frame int, value float64) error
	AttributeValue(attr, frame int) (float64, error)
	// ReadValue reads any scene attribute by path, for example a stiffness weight.
	ReadValue(path string, frame int) (float64, error)

	WorldMatrix(node string, frame int) (mgl64.Mat4, error)
	Shape(cam, frame int) (camera.Shape, error)

	// MarkerPosition is the observed position of a marker in image units.
	MarkerPosition(marker, frame int) (r2.Point, error)
	// MarkerState returns whether a marker is enabled at a frame, and its weight.
	MarkerState(marker, frame int) (bool, float64, error)

	// ProjectBundle projects a bundle through a camera and its lens chain.
	ProjectBundle(cam, bundle, frame int) (r2.Point, error)
	// ApplyLens distorts an undistorted image point with the camera's lens chain.
	ApplyLens(cam, frame int, p r2.Point) (r2.Point, error)
	// UndistortPoint inverts ApplyLens.
	UndistortPoint(cam, frame int, p r2.Point) (r2.Point, error)

	// Commit makes every solved value visible in the scene.
	Commit() error
}

// Cloner is implemented by evaluators that can produce independent copies of themselves.
type Cloner interface {
	Clone() Evaluator
}

// Config describes how to build an Evaluator.
type Config struct {
	Mode         Mode
	TimeEvalMode TimeEvalMode
}

// New builds an evaluator for the collection. In auto mode the native back-end is used unless an
// expression reads a solved attribute, in which case only the host scene can evaluate it.
func New(s *scene.Scene, c *collection.Collection, cfg Config, logger logging.Logger) (Evaluator, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}
	switch mode {
	case ModeDAG:
		return newDAG(s, c, cfg.TimeEvalMode), nil
	case ModeNative:
		if path := expressionDownstream(s, c); path != "" {
			return nil, errors.Wrapf(ErrUnsupportedScene, "%q is driven by an expression of a solved attribute", path)
		}
		return newNative(s, c)
	case ModeAuto:
		if path := expressionDownstream(s, c); path != "" {
			logger.Debugf("using %s evaluation, %q depends on a solved attribute through an expression", ModeDAG, path)
			return newDAG(s, c, cfg.TimeEvalMode), nil
		}
		ev, err := newNative(s, c)
		if err != nil {
			logger.Debugw("falling back to DAG evaluation", "error", err)
			return newDAG(s, c, cfg.TimeEvalMode), nil
		}
		return ev, nil
	}
	return nil, errors.Errorf("unknown scene graph mode %q", mode)
}

// expressionDownstream returns the first expression driven attribute that depends on a solved
// attribute, or "".
func expressionDownstream(s *scene.Scene, c *collection.Collection) string {
	var solved []string
	for _, a := range c.Attributes {
		if a.State == collection.AttrStatic || a.State == collection.AttrAnimated {
			solved = append(solved, a.Name)
		}
	}
	if len(solved) == 0 {
		return ""
	}
	var found string
	for name := range s.DependencyGraph().Downstream(solved...) {
		if !strings.Contains(name, ".") {
			continue
		}
		if connected, err := s.IsConnected(name); err == nil && connected {
			if found == "" || name < found {
				found = name
			}
		}
	}
	return found
}
