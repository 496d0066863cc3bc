package lens

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/utils"
)

// Basic is a two term radial model in image units.
//
//	p_d = p · (1 + k1·r² + k2·r⁴)
type Basic struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
}

// ModelType returns the type of distortion model.
func (b *Basic) ModelType() Model {
	return BasicModel
}

// Parameters returns the parameters keyed by name.
func (b *Basic) Parameters() map[string]float64 {
	return map[string]float64{"k1": b.K1, "k2": b.K2}
}

// Distort applies the model.
func (b *Basic) Distort(p r2.Point) r2.Point {
	rr := p.X*p.X + p.Y*p.Y
	f := 1 + b.K1*rr + b.K2*rr*rr
	return p.Mul(f)
}

// Classic3de is the 3DE classic model: distortion, anamorphic squeeze, curvature and quartic
// distortion, evaluated on diagonal-normalised coordinates.
type Classic3de struct {
	Distortion        float64
	AnamorphicSqueeze float64
	CurvatureX        float64
	CurvatureY        float64
	QuarticDistortion float64

	diag                               diagonal
	cxx, cxy, cyx, cyy                 float64
	cxxx, cxxy, cxyy, cyxx, cyyx, cyyy float64
}

func newClassic3de(p []float64, aspect float64) (*Classic3de, error) {
	c := &Classic3de{
		Distortion:        p[0],
		AnamorphicSqueeze: p[1],
		CurvatureX:        p[2],
		CurvatureY:        p[3],
		QuarticDistortion: p[4],
		diag:              newDiagonal(aspect),
	}
	if c.AnamorphicSqueeze == 0 {
		return nil, errors.New("3de_classic anamorphicSqueeze must be non-zero")
	}
	sq := c.AnamorphicSqueeze
	c.cxx = c.Distortion / sq
	c.cxy = (c.Distortion + c.CurvatureX) / sq
	c.cyx = c.Distortion + c.CurvatureY
	c.cyy = c.Distortion
	c.cxxx = c.QuarticDistortion / sq
	c.cxxy = 2 * c.QuarticDistortion / sq
	c.cxyy = c.QuarticDistortion / sq
	c.cyxx = c.QuarticDistortion
	c.cyyx = 2 * c.QuarticDistortion
	c.cyyy = c.QuarticDistortion
	return c, nil
}

// ModelType returns the type of distortion model.
func (c *Classic3de) ModelType() Model {
	return Classic3deModel
}

// Parameters returns the parameters keyed by name.
func (c *Classic3de) Parameters() map[string]float64 {
	return map[string]float64{
		"distortion":        c.Distortion,
		"anamorphicSqueeze": c.AnamorphicSqueeze,
		"curvatureX":        c.CurvatureX,
		"curvatureY":        c.CurvatureY,
		"quarticDistortion": c.QuarticDistortion,
	}
}

// Distort applies the model.
func (c *Classic3de) Distort(p r2.Point) r2.Point {
	q := c.diag.in(p)
	x2 := q.X * q.X
	y2 := q.Y * q.Y
	x4 := x2 * x2
	y4 := y2 * y2
	x2y2 := x2 * y2
	out := r2.Point{
		X: q.X * (1 + c.cxx*x2 + c.cxy*y2 + c.cxxx*x4 + c.cxxy*x2y2 + c.cxyy*y4),
		Y: q.Y * (1 + c.cyx*x2 + c.cyy*y2 + c.cyxx*x4 + c.cyyx*x2y2 + c.cyyy*y4),
	}
	return c.diag.out(out)
}

// RadialStdDeg4 is the 3DE radial standard degree 4 model: radial and decentering terms of degree
// two and four followed by a cylindric correction.
type RadialStdDeg4 struct {
	C2, U1, V1         float64
	C4, U3, V3         float64
	CylindricDirection float64
	CylindricBending   float64

	diag               diagonal
	m00, m01, m10, m11 float64
}

func newRadialStdDeg4(p []float64, aspect float64) *RadialStdDeg4 {
	r := &RadialStdDeg4{
		C2: p[0], U1: p[1], V1: p[2],
		C4: p[3], U3: p[4], V3: p[5],
		CylindricDirection: p[6],
		CylindricBending:   p[7],
		diag:               newDiagonal(aspect),
	}
	q := math.Sqrt(1 + r.CylindricBending)
	s, c := math.Sincos(utils.DegToRad(r.CylindricDirection))
	r.m00 = c*c*q + s*s/q
	r.m01 = (q - 1/q) * c * s
	r.m10 = r.m01
	r.m11 = c*c/q + s*s*q
	return r
}

// ModelType returns the type of distortion model.
func (r *RadialStdDeg4) ModelType() Model {
	return RadialStdDeg4Model
}

// Parameters returns the parameters keyed by name.
func (r *RadialStdDeg4) Parameters() map[string]float64 {
	return map[string]float64{
		"degree2Distortion":  r.C2,
		"degree2U":           r.U1,
		"degree2V":           r.V1,
		"degree4Distortion":  r.C4,
		"degree4U":           r.U3,
		"degree4V":           r.V3,
		"cylindricDirection": r.CylindricDirection,
		"cylindricBending":   r.CylindricBending,
	}
}

// Distort applies the model.
func (r *RadialStdDeg4) Distort(p r2.Point) r2.Point {
	q := r.diag.in(p)
	rr := q.X*q.X + q.Y*q.Y
	radial := 1 + r.C2*rr + r.C4*rr*rr
	u := r.U1 + r.U3*rr
	v := r.V1 + r.V3*rr
	x := q.X*radial + (rr+2*q.X*q.X)*u + 2*q.X*q.Y*v
	y := q.Y*radial + (rr+2*q.Y*q.Y)*v + 2*q.X*q.Y*u
	return r.diag.out(r2.Point{
		X: r.m00*x + r.m01*y,
		Y: r.m10*x + r.m11*y,
	})
}

// AnamorphicStdDeg4 is the 3DE anamorphic standard degree 4 model with lens rotation and
// independent squeeze on each axis.
type AnamorphicStdDeg4 struct {
	Cx02, Cy02, Cx22, Cy22 float64
	Cx04, Cy04, Cx24, Cy24 float64
	Cx44, Cy44             float64
	LensRotation           float64
	SqueezeX, SqueezeY     float64

	diag       diagonal
	sinR, cosR float64
}

func newAnamorphicStdDeg4(p []float64, aspect float64) (*AnamorphicStdDeg4, error) {
	a := &AnamorphicStdDeg4{
		Cx02: p[0], Cy02: p[1], Cx22: p[2], Cy22: p[3],
		Cx04: p[4], Cy04: p[5], Cx24: p[6], Cy24: p[7],
		Cx44: p[8], Cy44: p[9],
		LensRotation: p[10],
		SqueezeX:     p[11],
		SqueezeY:     p[12],
		diag:         newDiagonal(aspect),
	}
	if a.SqueezeX == 0 || a.SqueezeY == 0 {
		return nil, errors.New("3de_anamorphic_std_deg4 squeeze must be non-zero")
	}
	a.sinR, a.cosR = math.Sincos(utils.DegToRad(a.LensRotation))
	return a, nil
}

// ModelType returns the type of distortion model.
func (a *AnamorphicStdDeg4) ModelType() Model {
	return AnamorphicStdDeg4Model
}

// Parameters returns the parameters keyed by name.
func (a *AnamorphicStdDeg4) Parameters() map[string]float64 {
	return map[string]float64{
		"degree2Cx02": a.Cx02, "degree2Cy02": a.Cy02, "degree2Cx22": a.Cx22, "degree2Cy22": a.Cy22,
		"degree4Cx04": a.Cx04, "degree4Cy04": a.Cy04, "degree4Cx24": a.Cx24, "degree4Cy24": a.Cy24,
		"degree4Cx44": a.Cx44, "degree4Cy44": a.Cy44,
		"lensRotation": a.LensRotation, "squeezeX": a.SqueezeX, "squeezeY": a.SqueezeY,
	}
}

// Distort applies the model.
func (a *AnamorphicStdDeg4) Distort(p r2.Point) r2.Point {
	q := a.diag.in(p)
	// undo the lens rotation, apply the polynomial in lens space, rotate back.
	x := a.cosR*q.X + a.sinR*q.Y
	y := -a.sinR*q.X + a.cosR*q.Y

	rr := x*x + y*y
	r4 := rr * rr
	var cos2, cos4 float64
	if rr > 0 {
		// cos(2φ) and cos(4φ) without the angle.
		cos2 = (x*x - y*y) / rr
		cos4 = 2*cos2*cos2 - 1
	}
	fx := 1 + a.Cx02*rr + a.Cx04*r4 + a.Cx22*rr*cos2 + a.Cx24*r4*cos2 + a.Cx44*r4*cos4
	fy := 1 + a.Cy02*rr + a.Cy04*r4 + a.Cy22*rr*cos2 + a.Cy24*r4*cos2 + a.Cy44*r4*cos4
	x *= fx * a.SqueezeX
	y *= fy * a.SqueezeY

	return a.diag.out(r2.Point{
		X: a.cosR*x - a.sinR*y,
		Y: a.sinR*x + a.cosR*y,
	})
}
