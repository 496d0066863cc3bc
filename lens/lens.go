// Package lens implements the lens distortion models a camera can carry and their chaining.
//
// All models take and return points in the camera's normalised image units (see package camera).
// Distort maps an ideal, undistorted projection to where it is observed on the image; Undistort
// is its inverse, found with Newton iterations.
package lens

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Model is the name of a distortion model.
type Model string

// Known distortion models.
const (
	BasicModel             = Model("basic")
	Classic3deModel        = Model("3de_classic")
	RadialStdDeg4Model     = Model("3de_radial_std_deg4")
	AnamorphicStdDeg4Model = Model("3de_anamorphic_std_deg4")
)

// ErrUnknownModel is returned when a lens model name is not known.
var ErrUnknownModel = errors.New("unknown lens model")

// Distorter transforms image points according to a distortion model.
type Distorter interface {
	ModelType() Model
	Parameters() map[string]float64
	Distort(p r2.Point) r2.Point
}

// Parameter describes one scalar parameter of a model and its rest value.
type Parameter struct {
	Name    string
	Default float64
}

var modelParameters = map[Model][]Parameter{
	BasicModel: {
		{"k1", 0}, {"k2", 0},
	},
	Classic3deModel: {
		{"distortion", 0}, {"anamorphicSqueeze", 1}, {"curvatureX", 0}, {"curvatureY", 0}, {"quarticDistortion", 0},
	},
	RadialStdDeg4Model: {
		{"degree2Distortion", 0}, {"degree2U", 0}, {"degree2V", 0},
		{"degree4Distortion", 0}, {"degree4U", 0}, {"degree4V", 0},
		{"cylindricDirection", 0}, {"cylindricBending", 0},
	},
	AnamorphicStdDeg4Model: {
		{"degree2Cx02", 0}, {"degree2Cy02", 0}, {"degree2Cx22", 0}, {"degree2Cy22", 0},
		{"degree4Cx04", 0}, {"degree4Cy04", 0}, {"degree4Cx24", 0}, {"degree4Cy24", 0},
		{"degree4Cx44", 0}, {"degree4Cy44", 0},
		{"lensRotation", 0}, {"squeezeX", 1}, {"squeezeY", 1},
	},
}

// Models returns every known model name, sorted.
func Models() []Model {
	out := make([]Model, 0, len(modelParameters))
	for m := range modelParameters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParametersOf returns the parameters of a model in their canonical order.
func ParametersOf(model Model) ([]Parameter, error) {
	params, ok := modelParameters[model]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "%q", model)
	}
	return params, nil
}

// NewDistorter returns a Distorter given a model and its parameters. Missing parameters take
// their default; unknown parameter names are an error. aspect is the width over height of the
// camera's effective film back and is used by the 3DE models to normalise by the film diagonal.
func NewDistorter(model Model, values map[string]float64, aspect float64) (Distorter, error) {
	params, err := ParametersOf(model)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(params))
	full := make([]float64, len(params))
	for i, p := range params {
		known[p.Name] = true
		full[i] = p.Default
		if v, ok := values[p.Name]; ok {
			full[i] = v
		}
	}
	for name := range values {
		if !known[name] {
			return nil, errors.Errorf("lens model %q has no parameter %q", model, name)
		}
	}
	if !(aspect > 0) {
		return nil, errors.Errorf("lens aspect must be positive, got %v", aspect)
	}

	switch model {
	case BasicModel:
		return &Basic{K1: full[0], K2: full[1]}, nil
	case Classic3deModel:
		return newClassic3de(full, aspect)
	case RadialStdDeg4Model:
		return newRadialStdDeg4(full, aspect), nil
	case AnamorphicStdDeg4Model:
		return newAnamorphicStdDeg4(full, aspect)
	default:
		return nil, errors.Wrapf(ErrUnknownModel, "%q", model)
	}
}

// diagonal converts between image units and coordinates normalised by half the film diagonal,
// which is the unit the 3DE models are defined in.
type diagonal struct {
	scale float64
}

func newDiagonal(aspect float64) diagonal {
	// half-diagonal of a film of width 1 and height 1/aspect.
	return diagonal{scale: 0.5 * math.Sqrt(1+1/(aspect*aspect))}
}

func (d diagonal) in(p r2.Point) r2.Point {
	return r2.Point{X: p.X / d.scale, Y: p.Y / d.scale}
}

func (d diagonal) out(p r2.Point) r2.Point {
	return r2.Point{X: p.X * d.scale, Y: p.Y * d.scale}
}

// Undistort inverts d.Distort with Newton-Raphson iterations, starting from the distorted point
// and using a central difference Jacobian.
func Undistort(d Distorter, distorted r2.Point) (r2.Point, error) {
	const maxIterations = 30
	const tolerance = 1e-12
	const h = 1e-7

	u := distorted
	for i := 0; i < maxIterations; i++ {
		est := d.Distort(u)
		errX := est.X - distorted.X
		errY := est.Y - distorted.Y
		if errX*errX+errY*errY < tolerance*tolerance {
			return u, nil
		}

		px := d.Distort(r2.Point{X: u.X + h, Y: u.Y})
		mx := d.Distort(r2.Point{X: u.X - h, Y: u.Y})
		py := d.Distort(r2.Point{X: u.X, Y: u.Y + h})
		my := d.Distort(r2.Point{X: u.X, Y: u.Y - h})
		dxdx := (px.X - mx.X) / (2 * h)
		dydx := (px.Y - mx.Y) / (2 * h)
		dxdy := (py.X - my.X) / (2 * h)
		dydy := (py.Y - my.Y) / (2 * h)

		det := dxdx*dydy - dxdy*dydx
		if det == 0 || math.IsNaN(det) {
			return u, errors.Errorf("%s lens is not invertible at (%v, %v)", d.ModelType(), distorted.X, distorted.Y)
		}
		u.X -= (dydy*errX - dxdy*errY) / det
		u.Y -= (-dydx*errX + dxdx*errY) / det
	}

	est := d.Distort(u)
	if math.Hypot(est.X-distorted.X, est.Y-distorted.Y) > 1e-8 {
		return u, errors.Errorf("%s lens undistortion did not converge at (%v, %v)", d.ModelType(), distorted.X, distorted.Y)
	}
	return u, nil
}
