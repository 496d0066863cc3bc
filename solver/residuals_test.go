package solver

import (
	"context"
	"fmt"
	"testing"

	"github.com/samber/lo"
	"go.viam.com/test"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
)

// animatedPointScene observes bundle1 at (truth[f-1], 2, -10) on frames 1 to len(truth) and leaves
// its keyed tx at 0 on every frame.
func animatedPointScene(t *testing.T, truth ...float64) (*scene.Scene, collection.Spec) {
	t.Helper()
	s := newRigScene(t)
	addBundle(t, s, "bundle1", point{1, 2, -10})
	addMarkers(t, s, "markerGroup1", "marker1")
	spec := collection.Spec{
		Collection: "collection1",
		Cameras:    []collection.CameraSpec{{Transform: "camera1", Shape: "cameraShape1"}},
		Markers:    []collection.MarkerSpec{{Marker: "marker1", CameraShape: "cameraShape1", Bundle: "bundle1"}},
		Attrs:      []collection.AttrSpec{{Name: "bundle1.tx"}},
		Frames:     frameSpecs(1, len(truth)),
	}
	for i, x := range truth {
		test.That(t, s.SetKey("bundle1.tx", float64(i+1), x, scene.TangentLinear), test.ShouldBeNil)
	}
	placeMarkers(t, s, spec)
	for f := 1; f <= len(truth); f++ {
		test.That(t, s.SetKey("bundle1.tx", float64(f), 0, scene.TangentLinear), test.ShouldBeNil)
	}
	return s, spec
}

func keyAttribute(t *testing.T, s *scene.Scene, node, attr string, keys ...float64) {
	t.Helper()
	test.That(t, s.AddAttribute(node, attr, keys[0]), test.ShouldBeNil)
	for i, v := range keys {
		test.That(t, s.SetKey(node+"."+attr, float64(i+1), v, scene.TangentLinear), test.ShouldBeNil)
	}
}

func problemFor(t *testing.T, s *scene.Scene, spec collection.Spec, opts Options) (*problem, error) {
	t.Helper()
	p, err := prepare(context.Background(), s, spec, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	attrs := lo.Filter(lo.Range(len(p.coll.Attributes)), func(ai, _ int) bool { return p.aff.UsedAttributes[ai] })
	return newProblem(p.coll, p.aff, p.ev, attrs, p.coll.FrameNumbers(), opts, nil)
}

func blockNames(p *problem) []string {
	return lo.Map(p.blocks, func(b block, _ int) string { return fmt.Sprintf("%s@%d", b.kind, b.frame) })
}

func TestRegularisationRows(t *testing.T) {
	s, spec := animatedPointScene(t, 1, 1)
	keyAttribute(t, s, "collection1", "stiffWeight", 0, 5)
	spec.Stiffness = []collection.RegularisationSpec{{Attr: "bundle1.tx", Weight: "collection1.stiffWeight"}}
	spec.Smoothness = []collection.RegularisationSpec{{Attr: "bundle1.tx"}}

	p, err := problemFor(t, s, spec, testOptions())
	test.That(t, err, test.ShouldBeNil)
	// the weight is 0 on frame 1, so only frame 2 is held stiff.
	test.That(t, blockNames(p), test.ShouldResemble, []string{
		"marker@1", "marker@2", "stiffness@2", "smoothness@1", "smoothness@2",
	})
	test.That(t, p.numRows, test.ShouldEqual, 7)
	test.That(t, p.blocks[2].row, test.ShouldEqual, 4)
	test.That(t, p.blocks[2].scale, test.ShouldEqual, 5.0)
	test.That(t, p.blocks[2].target, test.ShouldEqual, 0.0)
	test.That(t, p.blocks[3].scale, test.ShouldEqual, 1.0)
	test.That(t, p.blocks[3].window, test.ShouldResemble, []int{1, 2})

	spec.Smoothness = nil
	res := runSolve(t, s, spec, testOptions())
	test.That(t, res.NumErrors, test.ShouldEqual, 5)
	test.That(t, res.KeyValues(), test.ShouldContain, "numberOfErrors=5")
}

func TestRegularisationVariance(t *testing.T) {
	s, spec := animatedPointScene(t, 1, 1)
	keyAttribute(t, s, "collection1", "stiffWeight", 0, 5)
	// the variance is only read where the weight is set.
	keyAttribute(t, s, "collection1", "stiffVariance", 0, 4)
	spec.Stiffness = []collection.RegularisationSpec{{
		Attr: "bundle1.tx", Weight: "collection1.stiffWeight", Variance: "collection1.stiffVariance",
	}}

	p, err := problemFor(t, s, spec, testOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, blockNames(p), test.ShouldResemble, []string{"marker@1", "marker@2", "stiffness@2"})
	test.That(t, p.blocks[2].scale, test.ShouldEqual, 2.5)

	test.That(t, s.SetKey("collection1.stiffVariance", 2, 0, scene.TangentLinear), test.ShouldBeNil)
	_, err = problemFor(t, s, spec, testOptions())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "variance")
	test.That(t, err.Error(), test.ShouldContainSubstring, "frame 2")
}

func TestSolveStiffnessPullsTowardTarget(t *testing.T) {
	s, spec := singlePointScene(t)
	spec.Stiffness = []collection.RegularisationSpec{{Attr: "bundle1.tx"}}
	res := runSolve(t, s, spec, testOptions())
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.NumErrors, test.ShouldEqual, 3)

	// tx is held near its starting value of 0 while ty is free to reach the marker.
	tx := value(t, s, "bundle1.tx", 1)
	test.That(t, tx, test.ShouldBeGreaterThan, 0.0)
	test.That(t, tx, test.ShouldBeLessThan, 0.5)
	test.That(t, value(t, s, "bundle1.ty", 1), test.ShouldAlmostEqual, 2.0, 1e-5)
}

func TestSolveSmoothnessPullsTowardWindowMean(t *testing.T) {
	// the point jumps on frame 2.
	s, spec := animatedPointScene(t, 1, 3, 1)
	spec.Smoothness = []collection.RegularisationSpec{{Attr: "bundle1.tx"}}

	res := runSolve(t, s, spec, testOptions())
	test.That(t, res.Success, test.ShouldBeTrue)
	test.That(t, res.NumErrors, test.ShouldEqual, 6+3)
	test.That(t, value(t, s, "bundle1.tx", 2), test.ShouldBeLessThan, 2.5)
	test.That(t, value(t, s, "bundle1.tx", 1), test.ShouldBeGreaterThan, 1.1)
	test.That(t, value(t, s, "bundle1.tx", 3), test.ShouldBeGreaterThan, 1.1)
}
