package collection

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
)

func ptr(v float64) *float64 {
	return &v
}

func newTestScene(t *testing.T) *scene.Scene {
	t.Helper()
	s := scene.New()
	test.That(t, s.AddCamera("camera1", "cameraShape1", ""), test.ShouldBeNil)
	test.That(t, s.AddCamera("camera2", "cameraShape2", ""), test.ShouldBeNil)
	_, err := s.AddNode("markerGroup1", scene.MarkerGroupKind, "camera1")
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{"marker1", "marker2", "marker3"} {
		_, err = s.AddNode(name, scene.MarkerKind, "markerGroup1")
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = s.AddNode("marker4", scene.MarkerKind, "camera2")
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{"bundle1", "bundle2"} {
		_, err = s.AddNode(name, scene.BundleKind, "")
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = s.AddLens("lensA", lens.BasicModel)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.AddLens("lensB", lens.Classic3deModel)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.SetLens("cameraShape1", "lensB"), test.ShouldBeNil)
	test.That(t, s.SetLens("lensB", "lensA"), test.ShouldBeNil)
	_, err = s.AddNode("collection1", scene.CollectionKind, "")
	test.That(t, err, test.ShouldBeNil)
	return s
}

func baseSpec() Spec {
	return Spec{
		Collection: "collection1",
		Cameras:    []CameraSpec{{"camera1", "cameraShape1"}},
		Markers: []MarkerSpec{
			{Marker: "marker1", CameraShape: "cameraShape1", Bundle: "bundle1"},
			{Marker: "marker2", CameraShape: "cameraShape1", Bundle: "bundle1"},
			{Marker: "marker3", CameraShape: "cameraShape1"},
			{Marker: "marker4", CameraShape: "cameraShape2", Bundle: "bundle2"},
		},
		Attrs: []AttrSpec{
			{Name: "bundle1.translateX", Min: ptr(-10), Max: ptr(10)},
			{Name: "bundle1.ty"},
			{Name: "camera1.rx", MinInternal: ptr(-1)},
		},
		Frames: []FrameSpec{{Number: 10}, {Number: 1, Labels: []string{"primary"}}, {Number: 5}, {Number: 10, Labels: []string{"user"}}},
	}
}

func TestBuild(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := newTestScene(t)

	c, err := Build(s, baseSpec(), logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, c.Cameras, test.ShouldHaveLength, 1)
	test.That(t, c.Lenses, test.ShouldResemble, []Lens{{"lensB", lens.Classic3deModel}, {"lensA", lens.BasicModel}})
	// innermost first.
	test.That(t, c.LensChain(0), test.ShouldResemble, []Lens{{"lensA", lens.BasicModel}, {"lensB", lens.Classic3deModel}})

	// marker4's camera is not solved.
	test.That(t, c.Markers, test.ShouldHaveLength, 3)
	test.That(t, c.Markers[0].Group, test.ShouldEqual, "markerGroup1")
	test.That(t, c.Markers[2].HasBundle(), test.ShouldBeFalse)
	test.That(t, c.Bundles, test.ShouldResemble, []Bundle{{"bundle1"}})
	test.That(t, c.BundleMarkers(0), test.ShouldResemble, []int{0, 1})

	test.That(t, c.Attributes, test.ShouldHaveLength, 3)
	test.That(t, c.Attributes[0].Name, test.ShouldEqual, "bundle1.tx")
	test.That(t, c.Attributes[0].Min, test.ShouldResemble, NewBound(-10))
	test.That(t, c.Attributes[0].Scale, test.ShouldEqual, 1.0)
	test.That(t, c.Attributes[2].MinInternal, test.ShouldResemble, NewBound(-1))
	test.That(t, c.Attributes[2].Max.Set, test.ShouldBeFalse)
	test.That(t, c.AttributeIndex("bundle1.ty"), test.ShouldEqual, 1)

	test.That(t, c.FrameNumbers(), test.ShouldResemble, []int{1, 5, 10})
	test.That(t, c.Frames[0].Labels, test.ShouldEqual, LabelPrimary)
	test.That(t, c.Frames[2].Labels.Has(LabelNormal|LabelUser), test.ShouldBeTrue)
	test.That(t, c.FrameIndex(5), test.ShouldEqual, 1)
	test.That(t, c.FrameIndex(6), test.ShouldEqual, -1)

	var missingCamera, missingBundle int
	for _, w := range c.Warnings {
		if errors.Is(w, ErrMarkerMissingCamera) {
			missingCamera++
		}
		if errors.Is(w, ErrMarkerMissingBundle) {
			missingBundle++
		}
	}
	test.That(t, missingCamera, test.ShouldEqual, 1)
	test.That(t, missingBundle, test.ShouldEqual, 1)
}

func TestBuildAttributeStates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := newTestScene(t)
	test.That(t, s.SetLocked("bundle1.tz", true), test.ShouldBeNil)
	test.That(t, s.SetKey("bundle1.ty", 1, 0, scene.TangentLinear), test.ShouldBeNil)
	test.That(t, s.Connect("bundle1.rx", scene.Expression{Inputs: []string{"bundle1.tx"}, Coefficients: []float64{1}}), test.ShouldBeNil)
	test.That(t, s.SetBounds("bundle1.tx", scene.Bounds{Min: -3, HasMin: true}), test.ShouldBeNil)

	spec := baseSpec()
	spec.Attrs = []AttrSpec{
		{Name: "bundle1.tx"},
		{Name: "bundle1.ty"},
		{Name: "bundle1.tz"},
		{Name: "bundle1.rx"},
		{Name: "bundle1.nothing"},
	}
	c, err := Build(s, spec, logger)
	test.That(t, err, test.ShouldBeNil)
	states := []AttrState{}
	for _, a := range c.Attributes {
		states = append(states, a.State)
	}
	test.That(t, states, test.ShouldResemble, []AttrState{AttrStatic, AttrAnimated, AttrLocked, AttrInvalid, AttrInvalid})
	// scene bounds are the fallback.
	test.That(t, c.Attributes[0].Min, test.ShouldResemble, NewBound(-3))

	spec.Attrs = []AttrSpec{{Name: "bundle1.tx"}, {Name: "bundle1.translateX"}}
	_, err = Build(s, spec, logger)
	test.That(t, errors.Is(err, ErrDuplicateAttribute), test.ShouldBeTrue)

	test.That(t, s.SetCurve("bundle1.sx", scene.NewAnimCurve()), test.ShouldBeNil)
	spec.Attrs = []AttrSpec{{Name: "bundle1.sx"}}
	_, err = Build(s, spec, logger)
	test.That(t, errors.Is(err, ErrNoKeyframes), test.ShouldBeTrue)

	spec.Attrs = []AttrSpec{{Name: "bundle1.tx", Min: ptr(1), Max: ptr(0)}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildRegularisationAndLines(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := newTestScene(t)
	test.That(t, s.AddAttribute("collection1", "stiffWeight", 2), test.ShouldBeNil)

	spec := baseSpec()
	spec.Stiffness = []RegularisationSpec{{Attr: "bundle1.tx", Weight: "collection1.stiffWeight"}}
	spec.Smoothness = []RegularisationSpec{{Attr: "bundle1.ty"}}
	spec.Lines = []LineSpec{{Markers: []string{"marker1", "marker2", "marker3"}}}
	c, err := Build(s, spec, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Attributes[0].Stiffness, test.ShouldResemble, &Regularisation{Weight: "collection1.stiffWeight"})
	test.That(t, c.Attributes[1].Smoothness, test.ShouldNotBeNil)
	test.That(t, c.Lines, test.ShouldResemble, []Line{{Name: "line0", Markers: []int{0, 1, 2}}})
	test.That(t, c.LinesOf(2), test.ShouldResemble, []int{0})
	test.That(t, c.LinesOf(5), test.ShouldBeNil)

	spec.Stiffness = []RegularisationSpec{{Attr: "bundle1.tx", Weight: "collection1.nope"}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec.Stiffness = []RegularisationSpec{{Attr: "bundle2.tx"}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec.Stiffness = nil
	spec.Lines = []LineSpec{{Name: "short", Markers: []string{"marker1", "marker2"}}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec.Lines = []LineSpec{{Name: "bad", Markers: []string{"marker1", "marker2", "marker4"}}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := newTestScene(t)

	spec := baseSpec()
	spec.Cameras = []CameraSpec{{"camera1", "cameraShape2"}}
	_, err := Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec = baseSpec()
	spec.Cameras = append(spec.Cameras, CameraSpec{"camera1", "cameraShape1"})
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec = baseSpec()
	spec.Markers = append(spec.Markers, MarkerSpec{Marker: "marker1", CameraShape: "cameraShape1"})
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec = baseSpec()
	spec.Collection = "bundle1"
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)

	spec = baseSpec()
	spec.Frames = []FrameSpec{{Number: 1, Labels: []string{"keyframe"}}}
	_, err = Build(s, spec, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLabels(t *testing.T) {
	l := LabelPrimary | LabelUser
	test.That(t, l.String(), test.ShouldEqual, "primary|user")
	test.That(t, l.Has(LabelPrimary), test.ShouldBeTrue)
	test.That(t, l.Has(LabelSecondary), test.ShouldBeFalse)
	parsed, err := LabelFromString("Secondary")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, LabelSecondary)
	test.That(t, AttrAnimated.String(), test.ShouldEqual, "animated")
}
