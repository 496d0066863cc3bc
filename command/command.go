// Package command implements the solve and affects commands in the host's argument form: a flat
// list of string tokens where each flag is followed by a fixed number of values, and optional
// values are spelled None. Results are returned as key=value strings.
//
//	-camera camera1 cameraShape1
//	-marker marker1 cameraShape1 bundle1
//	-attr bundle1.tx None None None None
//	-frame 1 -frame 2 -solverType ceres_lmder -iterations 10
package command

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/solver"
)

// None is the token for an unset optional value.
const None = "None"

// Invocation is a parsed argument list.
type Invocation struct {
	Spec    collection.Spec
	Options solver.Options
}

type flagSpec struct {
	name  string
	short string
	arity int
	apply func(inv *Invocation, values []string) error
}

func isNone(s string) bool {
	return s == "" || strings.EqualFold(s, None)
}

func optionalString(s string) string {
	if isNone(s) {
		return ""
	}
	return s
}

func optionalFloat(s string) (*float64, error) {
	if isNone(s) {
		return nil, nil
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", s)
	}
	return &v, nil
}

func floatFlag(name, short string, set func(o *solver.Options, v float64)) flagSpec {
	return flagSpec{name: name, short: short, arity: 1, apply: func(inv *Invocation, values []string) error {
		v, err := cast.ToFloat64E(values[0])
		if err != nil {
			return err
		}
		set(&inv.Options, v)
		return nil
	}}
}

func intFlag(name, short string, set func(o *solver.Options, v int)) flagSpec {
	return flagSpec{name: name, short: short, arity: 1, apply: func(inv *Invocation, values []string) error {
		v, err := cast.ToIntE(values[0])
		if err != nil {
			return err
		}
		set(&inv.Options, v)
		return nil
	}}
}

func boolFlag(name, short string, set func(o *solver.Options, v bool)) flagSpec {
	return flagSpec{name: name, short: short, arity: 1, apply: func(inv *Invocation, values []string) error {
		v, err := cast.ToBoolE(values[0])
		if err != nil {
			return err
		}
		set(&inv.Options, v)
		return nil
	}}
}

func stringFlag(name, short string, set func(o *solver.Options, v string)) flagSpec {
	return flagSpec{name: name, short: short, arity: 1, apply: func(inv *Invocation, values []string) error {
		set(&inv.Options, values[0])
		return nil
	}}
}

func frameFlag(name, short string, labels ...string) flagSpec {
	return flagSpec{name: name, short: short, arity: 1, apply: func(inv *Invocation, values []string) error {
		f, err := cast.ToIntE(values[0])
		if err != nil {
			return err
		}
		inv.Spec.Frames = append(inv.Spec.Frames, collection.FrameSpec{Number: f, Labels: labels})
		return nil
	}}
}

func regularisationFlag(name, short string, add func(s *collection.Spec, r collection.RegularisationSpec)) flagSpec {
	return flagSpec{name: name, short: short, arity: 4, apply: func(inv *Invocation, values []string) error {
		add(&inv.Spec, collection.RegularisationSpec{
			Attr:     values[0],
			Weight:   optionalString(values[1]),
			Variance: optionalString(values[2]),
			Value:    optionalString(values[3]),
		})
		return nil
	}}
}

var flags = []flagSpec{
	{name: "camera", short: "c", arity: 2, apply: func(inv *Invocation, values []string) error {
		inv.Spec.Cameras = append(inv.Spec.Cameras, collection.CameraSpec{Transform: values[0], Shape: values[1]})
		return nil
	}},
	{name: "marker", short: "m", arity: 3, apply: func(inv *Invocation, values []string) error {
		inv.Spec.Markers = append(inv.Spec.Markers, collection.MarkerSpec{
			Marker:      values[0],
			CameraShape: values[1],
			Bundle:      optionalString(values[2]),
		})
		return nil
	}},
	{name: "attr", short: "a", arity: 5, apply: func(inv *Invocation, values []string) error {
		as := collection.AttrSpec{Name: values[0]}
		for i, dst := range []**float64{&as.Min, &as.Max, &as.MinInternal, &as.MaxInternal} {
			v, err := optionalFloat(values[i+1])
			if err != nil {
				return err
			}
			*dst = v
		}
		inv.Spec.Attrs = append(inv.Spec.Attrs, as)
		return nil
	}},
	{name: "line", short: "ln", arity: 2, apply: func(inv *Invocation, values []string) error {
		inv.Spec.Lines = append(inv.Spec.Lines, collection.LineSpec{Name: values[0], Markers: strings.Split(values[1], ",")})
		return nil
	}},
	{name: "collection", short: "col", arity: 1, apply: func(inv *Invocation, values []string) error {
		inv.Spec.Collection = optionalString(values[0])
		return nil
	}},
	frameFlag("frame", "f"),
	frameFlag("rootFrame", "rf", "primary"),
	regularisationFlag("attrStiffness", "asf", func(s *collection.Spec, r collection.RegularisationSpec) {
		s.Stiffness = append(s.Stiffness, r)
	}),
	regularisationFlag("attrSmoothness", "asm", func(s *collection.Spec, r collection.RegularisationSpec) {
		s.Smoothness = append(s.Smoothness, r)
	}),

	stringFlag("solverType", "st", func(o *solver.Options, v string) { o.SolverType = solver.SolverType(strings.ToLower(v)) }),
	stringFlag("sceneGraphMode", "sgm", func(o *solver.Options, v string) { o.SceneGraphMode = scenegraph.Mode(v) }),
	stringFlag("timeEvalMode", "tem", func(o *solver.Options, v string) { o.TimeEvalMode = scenegraph.TimeEvalMode(v) }),
	stringFlag("frameSolveMode", "fsm", func(o *solver.Options, v string) { o.FrameSolveMode = solver.FrameSolveMode(v) }),
	stringFlag("autoDiffType", "adt", func(o *solver.Options, v string) { o.AutoDiffType = solver.DiffType(v) }),
	stringFlag("robustLossType", "rlt", func(o *solver.Options, v string) { o.RobustLossType = solver.LossType(v) }),
	stringFlag("printStatistics", "pstat", func(o *solver.Options, v string) {
		o.PrintStatistics = lo.Uniq(append(o.PrintStatistics, v))
	}),
	intFlag("iterations", "it", func(o *solver.Options, v int) { o.Iterations = v }),
	intFlag("jacobianWorkers", "jw", func(o *solver.Options, v int) { o.JacobianWorkers = v }),
	intFlag("rootFrameInterval", "rfi", func(o *solver.Options, v int) { o.RootFrameInterval = v }),
	floatFlag("tau", "t", func(o *solver.Options, v float64) { o.Tau = v }),
	floatFlag("eps1", "e1", func(o *solver.Options, v float64) { o.Eps1 = v }),
	floatFlag("eps2", "e2", func(o *solver.Options, v float64) { o.Eps2 = v }),
	floatFlag("eps3", "e3", func(o *solver.Options, v float64) { o.Eps3 = v }),
	floatFlag("delta", "dt", func(o *solver.Options, v float64) { o.Delta = v }),
	floatFlag("robustLossScale", "rls", func(o *solver.Options, v float64) { o.RobustLossScale = v }),
	floatFlag("timeout", "to", func(o *solver.Options, v float64) { o.TimeoutSeconds = v }),
	boolFlag("removeUnusedMarkers", "rum", func(o *solver.Options, v bool) { o.RemoveUnusedMarkers = v }),
	boolFlag("removeUnusedAttributes", "rua", func(o *solver.Options, v bool) { o.RemoveUnusedAttributes = v }),
	boolFlag("globalSolve", "gs", func(o *solver.Options, v bool) { o.GlobalSolve = v }),
	boolFlag("writeDeviation", "wd", func(o *solver.Options, v bool) { o.WriteDeviation = v }),
	boolFlag("verbose", "v", func(o *solver.Options, v bool) { o.Verbose = v }),
}

func lookup(token string) (flagSpec, bool) {
	name := strings.TrimLeft(token, "-")
	return lo.Find(flags, func(f flagSpec) bool { return f.name == name || f.short == name })
}

// Parse reads an argument list on top of the default options.
func Parse(args []string) (*Invocation, error) {
	inv := &Invocation{Options: solver.DefaultOptions()}
	for i := 0; i < len(args); {
		token := args[i]
		if !strings.HasPrefix(token, "-") {
			return nil, errors.Errorf("expected a flag at argument %d, got %q", i, token)
		}
		f, ok := lookup(token)
		if !ok {
			return nil, errors.Errorf("unknown flag %q", token)
		}
		if i+f.arity >= len(args) {
			return nil, errors.Errorf("flag -%s takes %d values, got %d", f.name, f.arity, len(args)-i-1)
		}
		if err := f.apply(inv, args[i+1:i+1+f.arity]); err != nil {
			return nil, errors.Wrapf(err, "flag -%s", f.name)
		}
		i += 1 + f.arity
	}
	return inv, nil
}

// Solve parses args and solves. The key=value result is returned also alongside an error once
// solving started.
func Solve(ctx context.Context, s *scene.Scene, args []string, interrupter *solver.Interrupter, logger logging.Logger) ([]string, error) {
	inv, err := Parse(args)
	if err != nil {
		return nil, err
	}
	res, err := solver.Solve(ctx, s, solver.Request{Spec: inv.Spec, Options: inv.Options, Interrupter: interrupter}, logger)
	if res == nil {
		return nil, err
	}
	out := res.KeyValues()
	for _, line := range strings.Split(res.Statistics, "\n") {
		if line != "" {
			out = append(out, "statistics="+line)
		}
	}
	return out, err
}

// Affects parses args, writes the affects relationship onto the marker nodes and returns it as
// marker=attributes strings.
func Affects(ctx context.Context, s *scene.Scene, args []string, logger logging.Logger) ([]string, error) {
	inv, err := Parse(args)
	if err != nil {
		return nil, err
	}
	c, res, err := solver.Affects(ctx, s, inv.Spec, inv.Options, logger)
	if err != nil {
		return nil, err
	}
	names := res.Names(c)
	out := make([]string, 0, len(c.Markers))
	for _, m := range c.Markers {
		out = append(out, m.Node+"="+strings.Join(names[m.Node], ","))
	}
	return out, nil
}
