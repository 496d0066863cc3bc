package spatialmath

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// TransformValues are the channels of a transform node at one point in time. Rotations are in
// degrees.
type TransformValues struct {
	Translate   r3.Vector
	Rotate      r3.Vector
	Scale       r3.Vector
	RotateOrder RotateOrder
	RotatePivot r3.Vector
	ScalePivot  r3.Vector
}

// NewTransformValues returns the identity transform.
func NewTransformValues() TransformValues {
	return TransformValues{Scale: r3.Vector{X: 1, Y: 1, Z: 1}}
}

// LocalMatrix composes the parent-relative matrix, applying (right to left)
// scale about the scale pivot, rotation about the rotate pivot, then translation:
//
//	M = T · Rp · R · Rp⁻¹ · Sp · S · Sp⁻¹
func (tv TransformValues) LocalMatrix() mgl64.Mat4 {
	sp := Vec3(tv.ScalePivot)
	rp := Vec3(tv.RotatePivot)

	m := mgl64.Translate3D(-sp[0], -sp[1], -sp[2])
	m = mgl64.Scale3D(tv.Scale.X, tv.Scale.Y, tv.Scale.Z).Mul4(m)
	m = mgl64.Translate3D(sp[0], sp[1], sp[2]).Mul4(m)
	m = mgl64.Translate3D(-rp[0], -rp[1], -rp[2]).Mul4(m)
	m = EulerToMatrix(tv.RotateOrder, tv.Rotate.X, tv.Rotate.Y, tv.Rotate.Z).Mul4(m)
	m = mgl64.Translate3D(rp[0], rp[1], rp[2]).Mul4(m)
	return mgl64.Translate3D(tv.Translate.X, tv.Translate.Y, tv.Translate.Z).Mul4(m)
}

// Vec3 converts an r3.Vector to an mgl64 vector.
func Vec3(v r3.Vector) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// R3 converts an mgl64 vector to an r3.Vector.
func R3(v mgl64.Vec3) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// Translation returns the translation column of a homogeneous matrix.
func Translation(m mgl64.Mat4) r3.Vector {
	return R3(m.Col(3).Vec3())
}

// TransformPoint applies the homogeneous matrix m to point p.
func TransformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	return R3(mgl64.TransformCoordinate(Vec3(p), m))
}
