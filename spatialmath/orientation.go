package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/mmsolver/utils"
)

// RotateOrder is the order in which the three euler rotations of a transform are applied. The
// numbering matches the host's rotateOrder enum attribute.
type RotateOrder int

// Rotate orders. For XYZ the rotation about X is applied first, then Y, then Z.
const (
	RotateOrderXYZ RotateOrder = iota
	RotateOrderYZX
	RotateOrderZXY
	RotateOrderXZY
	RotateOrderYXZ
	RotateOrderZYX
)

var rotateOrderNames = [...]string{"xyz", "yzx", "zxy", "xzy", "yxz", "zyx"}

func (order RotateOrder) String() string {
	if order < 0 || int(order) >= len(rotateOrderNames) {
		return "unknown"
	}
	return rotateOrderNames[order]
}

// Valid reports whether order is one of the six known orders.
func (order RotateOrder) Valid() bool {
	return order >= 0 && int(order) < len(rotateOrderNames)
}

// RotateOrderFromString parses "xyz", "zxy", etc.
func RotateOrderFromString(s string) (RotateOrder, error) {
	for i, name := range rotateOrderNames {
		if name == s {
			return RotateOrder(i), nil
		}
	}
	return RotateOrderXYZ, errors.Errorf("unknown rotate order %q", s)
}

// axes returns the indices (0=x, 1=y, 2=z) in application order.
func (order RotateOrder) axes() [3]int {
	name := order.String()
	var out [3]int
	for i := 0; i < 3; i++ {
		out[i] = int(name[i] - 'x')
	}
	return out
}

func axisQuaternion(axis int, radians float64) quat.Number {
	s, c := math.Sincos(radians / 2)
	switch axis {
	case 0:
		return quat.Number{Real: c, Imag: s}
	case 1:
		return quat.Number{Real: c, Jmag: s}
	default:
		return quat.Number{Real: c, Kmag: s}
	}
}

// EulerToQuaternion converts euler angles in degrees, applied in the given order, to a unit
// quaternion.
func EulerToQuaternion(order RotateOrder, rx, ry, rz float64) quat.Number {
	angles := [3]float64{utils.DegToRad(rx), utils.DegToRad(ry), utils.DegToRad(rz)}
	q := quat.Number{Real: 1}
	for _, axis := range order.axes() {
		// later rotations multiply from the left.
		q = quat.Mul(axisQuaternion(axis, angles[axis]), q)
	}
	return q
}

// QuaternionToMat4 returns the homogeneous rotation matrix of unit quaternion q.
func QuaternionToMat4(q quat.Number) mgl64.Mat4 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mgl64.Mat4{
		1 - 2*(y*y+z*z), 2 * (x*y + w*z), 2 * (x*z - w*y), 0,
		2 * (x*y - w*z), 1 - 2*(x*x+z*z), 2 * (y*z + w*x), 0,
		2 * (x*z + w*y), 2 * (y*z - w*x), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
}

// EulerToMatrix returns the rotation matrix for euler angles in degrees.
func EulerToMatrix(order RotateOrder, rx, ry, rz float64) mgl64.Mat4 {
	return QuaternionToMat4(EulerToQuaternion(order, rx, ry, rz))
}
