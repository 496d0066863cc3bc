package affects

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/scenegraph"
)

func newTestScene(t *testing.T) *scene.Scene {
	t.Helper()
	s := scene.New()
	test.That(t, s.AddCamera("camera1", "cameraShape1", ""), test.ShouldBeNil)
	test.That(t, s.AddCamera("camera2", "cameraShape2", ""), test.ShouldBeNil)
	for _, group := range []struct{ name, camera string }{{"markerGroup1", "camera1"}, {"markerGroup2", "camera2"}} {
		_, err := s.AddNode(group.name, scene.MarkerGroupKind, group.camera)
		test.That(t, err, test.ShouldBeNil)
	}
	for _, m := range []struct{ name, group string }{
		{"marker1", "markerGroup1"}, {"marker2", "markerGroup1"}, {"marker3", "markerGroup2"},
		{"marker4", "markerGroup1"}, {"marker5", "markerGroup2"},
	} {
		_, err := s.AddNode(m.name, scene.MarkerKind, m.group)
		test.That(t, err, test.ShouldBeNil)
	}
	for _, name := range []string{"bundle1", "bundle2", "bundle3", "other"} {
		_, err := s.AddNode(name, scene.BundleKind, "")
		test.That(t, err, test.ShouldBeNil)
	}
	_, err := s.AddLens("lens1", lens.BasicModel)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.SetLens("cameraShape1", "lens1"), test.ShouldBeNil)
	test.That(t, s.SetLocked("bundle2.ty", true), test.ShouldBeNil)
	test.That(t, s.SetKey("marker2.enable", 1, 1, scene.TangentStep), test.ShouldBeNil)
	test.That(t, s.SetKey("marker2.enable", 2, 0, scene.TangentStep), test.ShouldBeNil)
	return s
}

var testAttrs = []collection.AttrSpec{
	{Name: "bundle1.tx"},
	{Name: "bundle2.tx"},
	{Name: "camera2.ry"},
	{Name: "lens1.k1"},
	{Name: "other.tx"},
	{Name: "bundle2.ty"},
}

func testSpec(markers []collection.MarkerSpec) collection.Spec {
	return collection.Spec{
		Cameras: []collection.CameraSpec{
			{Transform: "camera1", Shape: "cameraShape1"},
			{Transform: "camera2", Shape: "cameraShape2"},
		},
		Markers: markers,
		Attrs:   testAttrs,
		Frames:  []collection.FrameSpec{{Number: 1}, {Number: 2}},
	}
}

var testMarkers = []collection.MarkerSpec{
	{Marker: "marker1", CameraShape: "cameraShape1", Bundle: "bundle1"},
	{Marker: "marker2", CameraShape: "cameraShape1", Bundle: "bundle2"},
	{Marker: "marker3", CameraShape: "cameraShape2", Bundle: "bundle1"},
	{Marker: "marker4", CameraShape: "cameraShape1"},
	{Marker: "marker5", CameraShape: "cameraShape2", Bundle: "bundle3"},
}

func analyse(t *testing.T, s *scene.Scene, spec collection.Spec, opts Options) (*collection.Collection, *Result) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	c, err := collection.Build(s, spec, logger)
	test.That(t, err, test.ShouldBeNil)
	ev, err := scenegraph.New(s, c, scenegraph.Config{Mode: scenegraph.ModeDAG}, logger)
	test.That(t, err, test.ShouldBeNil)
	r, err := Analyse(context.Background(), s, c, ev, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	return c, r
}

func TestAnalyse(t *testing.T) {
	s := newTestScene(t)
	c, r := analyse(t, s, testSpec(testMarkers), Options{RemoveUnusedMarkers: true, RemoveUnusedAttributes: true})

	test.That(t, r.MarkerAttributes, test.ShouldResemble, [][]int{
		{0, 3},
		{1, 3},
		{0, 2},
		nil,
		{2},
	})
	test.That(t, r.Affects(0, 0, 0), test.ShouldBeTrue)
	test.That(t, r.Affects(1, 1, 0), test.ShouldBeTrue)
	// marker2 is disabled on frame 2.
	test.That(t, r.Affects(1, 1, 1), test.ShouldBeFalse)
	test.That(t, r.Enabled[1], test.ShouldResemble, []bool{true, false})
	test.That(t, r.Affects(2, 0, 0), test.ShouldBeFalse)
	test.That(t, r.Matrix.Rows, test.ShouldEqual, 10)
	test.That(t, r.Matrix.Cols, test.ShouldEqual, 6)
	test.That(t, r.Matrix.Column(0), test.ShouldResemble, []int{0, 1, 4, 5})
	test.That(t, r.Matrix.NNZ(), test.ShouldEqual, 4+1+4+3)

	test.That(t, r.UsedAttributes, test.ShouldResemble, []bool{true, true, true, true, false, false})
	test.That(t, r.UsedMarkers, test.ShouldResemble, []bool{true, true, true, false, true})

	var unusedMarkers, unusedAttrs []string
	for _, w := range r.Warnings {
		switch {
		case errors.Is(w, ErrUnusedMarker):
			unusedMarkers = append(unusedMarkers, w.Error())
		case errors.Is(w, ErrUnusedAttribute):
			unusedAttrs = append(unusedAttrs, w.Error())
		}
	}
	test.That(t, unusedMarkers, test.ShouldHaveLength, 1)
	test.That(t, unusedMarkers[0], test.ShouldContainSubstring, "marker4")
	test.That(t, unusedAttrs, test.ShouldHaveLength, 2)
	test.That(t, unusedAttrs[1], test.ShouldContainSubstring, "locked")

	names := r.Names(c)
	test.That(t, names["marker1"], test.ShouldResemble, []string{"bundle1.tx", "lens1.k1"})
	test.That(t, names["marker4"], test.ShouldResemble, []string{})

	test.That(t, r.WriteMetadata(s, c), test.ShouldBeNil)
	v, ok := s.Metadata("marker3", MetadataKey)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, "bundle1.tx,camera2.ry")
}

func TestAnalyseWithoutPruning(t *testing.T) {
	s := newTestScene(t)
	_, r := analyse(t, s, testSpec(testMarkers), Options{})
	test.That(t, r.UsedMarkers, test.ShouldResemble, []bool{true, true, true, true, true})
	// locked attributes stay so that the solver can refuse them.
	test.That(t, r.UsedAttributes, test.ShouldResemble, []bool{true, true, true, true, true, true})
	test.That(t, r.Warnings, test.ShouldHaveLength, 3)
}

func TestAnalyseDeterministic(t *testing.T) {
	s := newTestScene(t)
	opts := Options{RemoveUnusedMarkers: true, RemoveUnusedAttributes: true}
	c1, r1 := analyse(t, s, testSpec(testMarkers), opts)
	_, r2 := analyse(t, s, testSpec(testMarkers), opts)
	test.That(t, r2.Matrix, test.ShouldResemble, r1.Matrix)
	test.That(t, r2.MarkerAttributes, test.ShouldResemble, r1.MarkerAttributes)

	// reversing the markers only permutes rows.
	reversed := make([]collection.MarkerSpec, len(testMarkers))
	for i, m := range testMarkers {
		reversed[len(testMarkers)-1-i] = m
	}
	c3, r3 := analyse(t, s, testSpec(reversed), opts)
	test.That(t, r3.Matrix.NNZ(), test.ShouldEqual, r1.Matrix.NNZ())
	test.That(t, cmp.Equal(r3.Names(c3), r1.Names(c1)), test.ShouldBeTrue)
	for m := range c1.Markers {
		m3 := c3.MarkerIndex(c1.Markers[m].Node)
		for fi := range r1.Frames {
			for ai := range c1.Attributes {
				test.That(t, r3.Affects(ai, m3, fi), test.ShouldEqual, r1.Affects(ai, m, fi))
			}
		}
	}
}

func TestAnalyseLines(t *testing.T) {
	s := newTestScene(t)
	_, err := s.AddNode("marker6", scene.MarkerKind, "markerGroup1")
	test.That(t, err, test.ShouldBeNil)
	markers := []collection.MarkerSpec{
		{Marker: "marker4", CameraShape: "cameraShape1"},
		{Marker: "marker6", CameraShape: "cameraShape1"},
		{Marker: "marker1", CameraShape: "cameraShape1"},
	}
	spec := testSpec(markers)
	spec.Lines = []collection.LineSpec{{Name: "horizon", Markers: []string{"marker4", "marker6", "marker1"}}}
	c, r := analyse(t, s, spec, Options{RemoveUnusedMarkers: true, RemoveUnusedAttributes: true})

	// only the lens moves undistorted marker positions.
	test.That(t, r.LineAttributes, test.ShouldResemble, [][]int{{3}})
	test.That(t, r.UsedLines, test.ShouldResemble, []bool{true})
	test.That(t, r.UsedMarkers, test.ShouldResemble, []bool{true, true, true})
	test.That(t, r.Matrix.Column(3), test.ShouldResemble, []int{r.LineRow(0, 0), r.LineRow(0, 1)})
	test.That(t, r.LineEnabled(c, 0, 1), test.ShouldBeTrue)
	test.That(t, r.Names(c)["marker6"], test.ShouldResemble, []string{"lens1.k1"})
}

func TestSparse(t *testing.T) {
	m := newSparse(4, [][]int{{0, 2}, nil, {1, 2, 3}})
	test.That(t, m.At(2, 0), test.ShouldBeTrue)
	test.That(t, m.At(1, 0), test.ShouldBeFalse)
	test.That(t, m.At(0, 1), test.ShouldBeFalse)
	test.That(t, m.NNZ(), test.ShouldEqual, 5)
	test.That(t, m.RowColumns(), test.ShouldResemble, [][]int{{0}, {2}, {0, 2}, {2}})
}
