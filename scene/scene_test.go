package scene

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/spatialmath"
)

func newTestScene(t *testing.T) *Scene {
	t.Helper()
	s := New()
	test.That(t, s.AddCamera("camera1", "cameraShape1", ""), test.ShouldBeNil)
	_, err := s.AddNode("markerGroup1", MarkerGroupKind, "camera1")
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddNode("marker1", MarkerKind, "markerGroup1")
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddNode("bundle1", BundleKind, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.LinkMarker("marker1", "cameraShape1", "bundle1"), test.ShouldBeNil)
	return s
}

func TestAddNode(t *testing.T) {
	s := newTestScene(t)

	_, err := s.AddNode("bundle1", BundleKind, "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = s.AddNode("a.b", TransformKind, "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = s.AddNode("orphan", TransformKind, "nowhere")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = s.AddNode("thing", NodeKind("light"), "")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, s.Nodes(), test.ShouldResemble,
		[]string{"camera1", "cameraShape1", "markerGroup1", "marker1", "bundle1"})

	n, err := s.Node("cameraShape1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n.Attributes(), test.ShouldContain, "focalLength")
	test.That(t, n.Parent, test.ShouldEqual, "camera1")

	test.That(t, s.LinkMarker("bundle1", "cameraShape1", ""), test.ShouldNotBeNil)
	test.That(t, s.LinkMarker("marker1", "camera1", ""), test.ShouldNotBeNil)
}

func TestGetSet(t *testing.T) {
	s := newTestScene(t)

	v, err := s.Get("cameraShape1.focalLength", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 35.0)

	v, err = s.Get("bundle1.scaleX", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)

	_, err = s.Get("bundle1.nope", 1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = s.Get("bundle1", 1)
	test.That(t, err, test.ShouldNotBeNil)

	// Static writes apply to every time.
	test.That(t, s.Set("bundle1.tx", 5, 2.5), test.ShouldBeNil)
	v, err = s.Get("bundle1.tx", 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 2.5)
	animated, err := s.IsAnimated("bundle1.tx")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, animated, test.ShouldBeFalse)

	// Animated writes key the current time with a linear tangent.
	test.That(t, s.SetKey("bundle1.ty", 1, 0, TangentLinear), test.ShouldBeNil)
	test.That(t, s.Set("bundle1.ty", 11, 10), test.ShouldBeNil)
	v, err = s.Get("bundle1.ty", 6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 5.0)
	curve, err := s.Curve("bundle1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, curve.Keys()[1].Tangent, test.ShouldEqual, TangentLinear)
	animated, err = s.IsAnimated("bundle1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, animated, test.ShouldBeTrue)
}

func TestLocksAndBounds(t *testing.T) {
	s := newTestScene(t)
	test.That(t, s.SetLocked("bundle1.tz", true), test.ShouldBeNil)
	locked, err := s.IsLocked("bundle1.tz")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, locked, test.ShouldBeTrue)

	err = s.Set("bundle1.tz", 1, 3)
	test.That(t, errors.Is(err, ErrAttributeLocked), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bundle1.tz")
	err = s.SetKey("bundle1.tz", 1, 3, TangentLinear)
	test.That(t, errors.Is(err, ErrAttributeLocked), test.ShouldBeTrue)

	b := Bounds{Min: -1, Max: 1, HasMin: true, HasMax: true}
	test.That(t, s.SetBounds("bundle1.tx", b), test.ShouldBeNil)
	got, err := s.Bounds("bundle1.tx")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, b)
	test.That(t, got.Contains(2), test.ShouldBeFalse)
	test.That(t, got.Contains(0.5), test.ShouldBeTrue)

	// Bounds are advisory.
	test.That(t, s.Set("bundle1.tx", 1, 5), test.ShouldBeNil)
	v, err := s.Get("bundle1.tx", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 5.0)

	test.That(t, s.SetBounds("bundle1.tx", Bounds{Min: 2, Max: 1, HasMin: true, HasMax: true}), test.ShouldNotBeNil)
}

func TestExpressions(t *testing.T) {
	s := newTestScene(t)
	test.That(t, s.AddAttribute("bundle1", "offset", 3), test.ShouldBeNil)
	test.That(t, s.AddAttribute("bundle1", "offset", 3), test.ShouldNotBeNil)

	expr := Expression{Inputs: []string{"bundle1.offset", "bundle1.tx"}, Coefficients: []float64{2, 1}, Constant: 1}
	test.That(t, s.Connect("bundle1.ty", expr), test.ShouldBeNil)
	test.That(t, s.Set("bundle1.tx", 0, 0.5), test.ShouldBeNil)
	v, err := s.Get("bundle1.ty", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 7.5)

	err = s.Set("bundle1.ty", 0, 1)
	test.That(t, errors.Is(err, ErrAttributeConnected), test.ShouldBeTrue)

	connected, err := s.IsConnected("bundle1.ty")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, connected, test.ShouldBeTrue)

	// Cycles are reported at evaluation.
	test.That(t, s.Connect("bundle1.offset", Expression{Inputs: []string{"bundle1.ty"}, Coefficients: []float64{1}}), test.ShouldBeNil)
	_, err = s.Get("bundle1.ty", 0)
	test.That(t, errors.Is(err, ErrCycle), test.ShouldBeTrue)

	test.That(t, s.Connect("bundle1.tz", Expression{Inputs: []string{"bundle1.missing"}, Coefficients: []float64{1}}), test.ShouldNotBeNil)
	test.That(t, s.Connect("bundle1.tz", Expression{Inputs: []string{"bundle1.tx"}}), test.ShouldNotBeNil)

	test.That(t, s.Disconnect("bundle1.offset"), test.ShouldBeNil)
	_, err = s.Get("bundle1.ty", 0)
	test.That(t, err, test.ShouldBeNil)
}

func TestWorldMatrix(t *testing.T) {
	s := newTestScene(t)
	test.That(t, s.Set("camera1.tx", 0, 1), test.ShouldBeNil)
	test.That(t, s.Set("markerGroup1.tz", 0, -2), test.ShouldBeNil)
	test.That(t, s.Set("marker1.ty", 0, 0.5), test.ShouldBeNil)

	m, err := s.WorldMatrix("marker1", 0)
	test.That(t, err, test.ShouldBeNil)
	pos := spatialmath.Translation(m)
	test.That(t, pos.X, test.ShouldAlmostEqual, 1)
	test.That(t, pos.Y, test.ShouldAlmostEqual, 0.5)
	test.That(t, pos.Z, test.ShouldAlmostEqual, -2)

	// Shapes inherit their transform.
	m, err = s.WorldMatrix("cameraShape1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.Translation(m).X, test.ShouldAlmostEqual, 1)

	// Cached until the next write.
	count := s.EvaluationCount()
	_, err = s.WorldMatrix("marker1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.EvaluationCount(), test.ShouldEqual, count)
	test.That(t, s.Set("camera1.tx", 0, 2), test.ShouldBeNil)
	m, err = s.WorldMatrix("marker1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.Translation(m).X, test.ShouldAlmostEqual, 2)
	test.That(t, s.EvaluationCount(), test.ShouldBeGreaterThan, count)

	test.That(t, s.ForceEvaluate(3), test.ShouldBeNil)

	// Reparenting into a cycle fails at evaluation.
	test.That(t, s.SetParent("camera1", "marker1"), test.ShouldBeNil)
	_, err = s.WorldMatrix("marker1", 0)
	test.That(t, errors.Is(err, ErrCycle), test.ShouldBeTrue)
	test.That(t, s.ForceEvaluate(0), test.ShouldNotBeNil)

	test.That(t, s.Set("bundle1.ro", 0, 12), test.ShouldBeNil)
	_, err = s.WorldMatrix("bundle1", 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLensChain(t *testing.T) {
	s := newTestScene(t)
	_, err := s.AddLens("lensInner", lens.BasicModel)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddLens("lensOuter", lens.Classic3deModel)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddLens("lensBad", lens.Model("nope"))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, s.SetLens("cameraShape1", "lensOuter"), test.ShouldBeNil)
	test.That(t, s.SetLens("lensOuter", "lensInner"), test.ShouldBeNil)
	test.That(t, s.SetLens("lensInner", "lensOuter"), test.ShouldNotBeNil)
	test.That(t, s.SetLens("bundle1", "lensInner"), test.ShouldNotBeNil)

	v, err := s.Get("lensOuter.anamorphicSqueeze", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)

	chain, err := s.LensChain("cameraShape1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, chain, test.ShouldHaveLength, 2)
	test.That(t, chain[0].Name, test.ShouldEqual, "lensInner")
	test.That(t, chain[1].Name, test.ShouldEqual, "lensOuter")

	test.That(t, s.Set("lensInner.enable", 0, 0), test.ShouldBeNil)
	chain, err = s.LensChain("cameraShape1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, chain, test.ShouldHaveLength, 1)
	test.That(t, chain[0].Name, test.ShouldEqual, "lensOuter")
}

func TestMetadataAndLock(t *testing.T) {
	s := newTestScene(t)
	test.That(t, s.SetMetadata("marker1", "affects", "bundle1.tx"), test.ShouldBeNil)
	v, ok := s.Metadata("marker1", "affects")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, "bundle1.tx")
	_, ok = s.Metadata("marker1", "other")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.SetMetadata("ghost", "k", "v"), test.ShouldNotBeNil)

	release, err := s.AcquireSolveLock()
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AcquireSolveLock()
	test.That(t, err, test.ShouldEqual, ErrSceneBusy)
	release()
	release, err = s.AcquireSolveLock()
	test.That(t, err, test.ShouldBeNil)
	release()

	s.SetCurrentTime(42)
	test.That(t, s.CurrentTime(), test.ShouldEqual, 42.0)
}

func TestDependencyGraph(t *testing.T) {
	s := newTestScene(t)
	_, err := s.AddNode("camera2", TransformKind, "")
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddLens("lens1", lens.BasicModel)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.SetLens("cameraShape1", "lens1"), test.ShouldBeNil)
	test.That(t, s.Connect("bundle1.tz", Expression{Inputs: []string{"camera2.tz"}, Coefficients: []float64{1}}), test.ShouldBeNil)

	g := s.DependencyGraph()
	test.That(t, g.Has("bundle1.tx"), test.ShouldBeTrue)
	test.That(t, g.Has("bundle1.nope"), test.ShouldBeFalse)

	down := g.Downstream("camera1.rx")
	test.That(t, down["camera1"], test.ShouldBeTrue)
	test.That(t, down["cameraShape1"], test.ShouldBeTrue)
	test.That(t, down["marker1"], test.ShouldBeTrue)
	test.That(t, down["bundle1"], test.ShouldBeFalse)

	up := g.Upstream("bundle1")
	test.That(t, up["bundle1.tx"], test.ShouldBeTrue)
	test.That(t, up["camera2.tz"], test.ShouldBeTrue)
	test.That(t, up["camera2.tx"], test.ShouldBeFalse)

	up = g.Upstream("cameraShape1")
	test.That(t, up["lens1.k1"], test.ShouldBeTrue)
	test.That(t, up["camera1.tx"], test.ShouldBeTrue)

	test.That(t, g.Cycles(), test.ShouldBeNil)
	test.That(t, s.SetParent("camera1", "marker1"), test.ShouldBeNil)
	cycles := s.DependencyGraph().Cycles()
	test.That(t, cycles, test.ShouldHaveLength, 1)
	test.That(t, cycles[0], test.ShouldResemble, []string{"camera1", "marker1", "markerGroup1"})
}

func TestSplitAttr(t *testing.T) {
	node, attr, err := SplitAttr("a.b.c")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, node, test.ShouldEqual, "a.b")
	test.That(t, attr, test.ShouldEqual, "c")
	_, _, err = SplitAttr("abc")
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = SplitAttr("abc.")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, CanonicalAttrName("translateY"), test.ShouldEqual, "ty")
}
