package scene

import (
	"testing"

	"go.viam.com/test"
)

func TestAnimCurve(t *testing.T) {
	c := NewAnimCurve(Key{Time: 10, Value: 4}, Key{Time: 0, Value: 2})
	test.That(t, c.NumKeys(), test.ShouldEqual, 2)
	test.That(t, c.Keys()[0].Time, test.ShouldEqual, 0.0)

	test.That(t, c.Evaluate(-5), test.ShouldEqual, 2.0)
	test.That(t, c.Evaluate(15), test.ShouldEqual, 4.0)
	test.That(t, c.Evaluate(5), test.ShouldAlmostEqual, 3.0)

	// Overwrite in place.
	c.SetKey(10, 6, TangentLinear)
	test.That(t, c.NumKeys(), test.ShouldEqual, 2)
	test.That(t, c.Evaluate(5), test.ShouldAlmostEqual, 4.0)

	// Insert in the middle.
	c.SetKey(5, 0, TangentStep)
	test.That(t, c.NumKeys(), test.ShouldEqual, 3)
	test.That(t, c.Evaluate(5), test.ShouldEqual, 0.0)
	test.That(t, c.Evaluate(9.9), test.ShouldEqual, 0.0)
	test.That(t, c.Evaluate(2.5), test.ShouldAlmostEqual, 1.0)
}

func TestAnimCurveTangents(t *testing.T) {
	flat := NewAnimCurve(Key{Time: 0, Value: 0, Tangent: TangentFlat}, Key{Time: 2, Value: 1})
	test.That(t, flat.Evaluate(1), test.ShouldAlmostEqual, 0.5)
	test.That(t, flat.Evaluate(0.5), test.ShouldBeLessThan, 0.25)

	// A spline through collinear keys is a straight line.
	spline := NewAnimCurve(
		Key{Time: 0, Value: 0, Tangent: TangentSpline},
		Key{Time: 1, Value: 2, Tangent: TangentSpline},
		Key{Time: 2, Value: 4, Tangent: TangentSpline},
	)
	test.That(t, spline.Evaluate(0.5), test.ShouldAlmostEqual, 1.0)
	test.That(t, spline.Evaluate(1.25), test.ShouldAlmostEqual, 2.5)

	tan, err := TangentFromString("Flat")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tan, test.ShouldEqual, TangentFlat)
	_, err = TangentFromString("clamped")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, NewAnimCurve().Evaluate(3), test.ShouldEqual, 0.0)
}
