package scene

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Tangent is the out-tangent of a key: how the curve travels from this key to the next.
type Tangent int

// Tangent types.
const (
	TangentLinear Tangent = iota
	TangentStep
	TangentFlat
	TangentSpline
)

var tangentNames = [...]string{"linear", "step", "flat", "spline"}

func (tan Tangent) String() string {
	if tan < 0 || int(tan) >= len(tangentNames) {
		return "unknown"
	}
	return tangentNames[tan]
}

// TangentFromString parses a tangent name.
func TangentFromString(s string) (Tangent, error) {
	for i, name := range tangentNames {
		if strings.EqualFold(name, s) {
			return Tangent(i), nil
		}
	}
	return TangentLinear, errors.Errorf("unknown tangent type %q", s)
}

// Key is one keyframe of an animation curve.
type Key struct {
	Time    float64 `json:"time"`
	Value   float64 `json:"value"`
	Tangent Tangent `json:"tangent"`
}

// keyTimeTolerance is how close two times are to address the same key.
const keyTimeTolerance = 1e-6

// AnimCurve is a keyframed scalar function of time. Before the first key and after the last the
// curve holds the end values.
type AnimCurve struct {
	keys []Key
}

// NewAnimCurve returns a curve with the given keys, sorted by time.
func NewAnimCurve(keys ...Key) *AnimCurve {
	c := &AnimCurve{}
	for _, k := range keys {
		c.SetKey(k.Time, k.Value, k.Tangent)
	}
	return c
}

// Keys returns a copy of the keys in time order.
func (c *AnimCurve) Keys() []Key {
	out := make([]Key, len(c.keys))
	copy(out, c.keys)
	return out
}

// NumKeys returns the number of keys.
func (c *AnimCurve) NumKeys() int {
	return len(c.keys)
}

// SetKey creates a key at t or overwrites the value and tangent of an existing one.
func (c *AnimCurve) SetKey(t, value float64, tangent Tangent) {
	idx := sort.Search(len(c.keys), func(i int) bool { return c.keys[i].Time >= t-keyTimeTolerance })
	if idx < len(c.keys) && math.Abs(c.keys[idx].Time-t) <= keyTimeTolerance {
		c.keys[idx].Value = value
		c.keys[idx].Tangent = tangent
		return
	}
	c.keys = append(c.keys, Key{})
	copy(c.keys[idx+1:], c.keys[idx:])
	c.keys[idx] = Key{Time: t, Value: value, Tangent: tangent}
}

// Evaluate returns the curve value at t.
func (c *AnimCurve) Evaluate(t float64) float64 {
	n := len(c.keys)
	if n == 0 {
		return 0
	}
	if t <= c.keys[0].Time {
		return c.keys[0].Value
	}
	if t >= c.keys[n-1].Time {
		return c.keys[n-1].Value
	}

	// first key strictly after t.
	i := sort.Search(n, func(i int) bool { return c.keys[i].Time > t })
	k0, k1 := c.keys[i-1], c.keys[i]
	span := k1.Time - k0.Time
	s := (t - k0.Time) / span

	switch k0.Tangent {
	case TangentStep:
		return k0.Value
	case TangentFlat:
		return hermite(k0.Value, k1.Value, 0, 0, s)
	case TangentSpline:
		m0 := c.slope(i - 1)
		m1 := c.slope(i)
		return hermite(k0.Value, k1.Value, m0*span, m1*span, s)
	case TangentLinear:
		fallthrough
	default:
		return k0.Value + (k1.Value-k0.Value)*s
	}
}

// slope is the Catmull-Rom slope (value per unit time) at key i.
func (c *AnimCurve) slope(i int) float64 {
	prev := c.keys[max(i-1, 0)]
	next := c.keys[min(i+1, len(c.keys)-1)]
	if next.Time == prev.Time {
		return 0
	}
	return (next.Value - prev.Value) / (next.Time - prev.Time)
}

func hermite(p0, p1, m0, m1, s float64) float64 {
	s2 := s * s
	s3 := s2 * s
	return (2*s3-3*s2+1)*p0 + (s3-2*s2+s)*m0 + (-2*s3+3*s2)*p1 + (s3-s2)*m1
}
