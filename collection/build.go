package collection

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/lo/mutable"

	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
)

var (
	// ErrMarkerMissingCamera is the warning for a marker whose camera is not part of the solve.
	ErrMarkerMissingCamera = errors.New("marker has no camera")
	// ErrMarkerMissingBundle is the warning for a marker without a bundle.
	ErrMarkerMissingBundle = errors.New("marker has no bundle")
	// ErrBundleWithoutMarker is the warning for a bundle no marker observes.
	ErrBundleWithoutMarker = errors.New("bundle has no marker")
	// ErrInvalidAttribute is the warning for an attribute the solver cannot write.
	ErrInvalidAttribute = errors.New("attribute cannot be solved")
	// ErrDuplicateAttribute is returned when an attribute is listed twice.
	ErrDuplicateAttribute = errors.New("duplicate attribute")
	// ErrNoKeyframes is returned for an animated attribute without keys.
	ErrNoKeyframes = errors.New("animated attribute has no keyframes")
)

// CameraSpec names a camera by its transform and shape nodes.
type CameraSpec struct {
	Transform string `json:"transform"`
	Shape     string `json:"shape"`
}

// MarkerSpec names a marker, the camera shape it is seen through and its optional bundle.
type MarkerSpec struct {
	Marker      string `json:"marker"`
	CameraShape string `json:"camera_shape"`
	Bundle      string `json:"bundle,omitempty"`
}

// AttrSpec names an attribute and its optional limits. Limits that are not set fall back to the
// scene's advisory bounds. Scale defaults to 1.
type AttrSpec struct {
	Name        string   `json:"name"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	MinInternal *float64 `json:"min_internal,omitempty"`
	MaxInternal *float64 `json:"max_internal,omitempty"`
	Offset      float64  `json:"offset,omitempty"`
	Scale       float64  `json:"scale,omitempty"`
	Step        float64  `json:"step,omitempty"`
}

// RegularisationSpec attaches a stiffness or smoothness term to an attribute.
type RegularisationSpec struct {
	Attr     string `json:"attr"`
	Weight   string `json:"weight_attr,omitempty"`
	Variance string `json:"variance_attr,omitempty"`
	Value    string `json:"value_attr,omitempty"`
}

// LineSpec is an ordered list of marker names.
type LineSpec struct {
	Name    string   `json:"name"`
	Markers []string `json:"markers"`
}

// FrameSpec is a frame number with optional label names.
type FrameSpec struct {
	Number int      `json:"number"`
	Labels []string `json:"labels,omitempty"`
}

// Spec is the description of a solve problem in terms of scene names.
type Spec struct {
	Collection string               `json:"collection,omitempty"`
	Cameras    []CameraSpec         `json:"cameras"`
	Markers    []MarkerSpec         `json:"markers"`
	Attrs      []AttrSpec           `json:"attrs"`
	Frames     []FrameSpec          `json:"frames"`
	Lines      []LineSpec           `json:"lines,omitempty"`
	Stiffness  []RegularisationSpec `json:"attr_stiffness,omitempty"`
	Smoothness []RegularisationSpec `json:"attr_smoothness,omitempty"`
}

// Build resolves a Spec against a scene. Problems that drop an entity are recorded as warnings;
// problems that make the description inconsistent are returned as errors.
func Build(s *scene.Scene, spec Spec, logger logging.Logger) (*Collection, error) {
	c := &Collection{Name: spec.Collection}
	warn := func(err error) {
		logger.Warn(err)
		c.Warnings = append(c.Warnings, err)
	}

	if spec.Collection != "" {
		n, err := s.Node(spec.Collection)
		if err != nil {
			return nil, err
		}
		if n.Kind != scene.CollectionKind {
			return nil, errors.Errorf("node %q is a %s, not a collection", spec.Collection, n.Kind)
		}
	}

	if err := c.buildCameras(s, spec.Cameras); err != nil {
		return nil, err
	}
	if err := c.buildMarkers(s, spec.Markers, warn); err != nil {
		return nil, err
	}
	if err := c.buildAttributes(s, spec.Attrs, warn); err != nil {
		return nil, err
	}
	if err := c.buildRegularisation(s, spec.Stiffness, spec.Smoothness); err != nil {
		return nil, err
	}
	if err := c.buildLines(spec.Lines); err != nil {
		return nil, err
	}
	if err := c.buildFrames(spec.Frames); err != nil {
		return nil, err
	}

	for i, b := range c.Bundles {
		if len(c.BundleMarkers(i)) == 0 {
			warn(errors.Wrapf(ErrBundleWithoutMarker, "%q", b.Node))
		}
	}
	return c, nil
}

func (c *Collection) buildCameras(s *scene.Scene, specs []CameraSpec) error {
	if dups := lo.FindDuplicates(lo.Map(specs, func(cs CameraSpec, _ int) string { return cs.Shape })); len(dups) > 0 {
		return errors.Errorf("camera shape %q listed more than once", dups[0])
	}
	lensIndex := map[string]int{}
	for _, cs := range specs {
		tn, err := s.Node(cs.Transform)
		if err != nil {
			return errors.Wrap(err, "camera transform")
		}
		if !tn.Kind.IsTransform() {
			return errors.Errorf("camera transform %q is a %s", cs.Transform, tn.Kind)
		}
		sn, err := s.Node(cs.Shape)
		if err != nil {
			return errors.Wrap(err, "camera shape")
		}
		if sn.Kind != scene.CameraShapeKind {
			return errors.Errorf("node %q is a %s, not a camera shape", cs.Shape, sn.Kind)
		}
		if sn.Parent != cs.Transform {
			return errors.Errorf("camera shape %q is not under transform %q", cs.Shape, cs.Transform)
		}

		cam := Camera{Transform: cs.Transform, Shape: cs.Shape}
		// every lens in the chain, enabled or not, outermost first.
		var chain []int
		for name := sn.Lens; name != ""; {
			ln, err := s.Node(name)
			if err != nil {
				return err
			}
			idx, ok := lensIndex[name]
			if !ok {
				idx = len(c.Lenses)
				lensIndex[name] = idx
				c.Lenses = append(c.Lenses, Lens{Node: name, Model: ln.LensModel})
			}
			if lo.Contains(chain, idx) {
				return errors.Errorf("lens chain of %q is cyclic", cs.Shape)
			}
			chain = append(chain, idx)
			name = ln.Lens
		}
		mutable.Reverse(chain)
		cam.Lenses = chain
		c.Cameras = append(c.Cameras, cam)
	}
	return nil
}

func (c *Collection) buildMarkers(s *scene.Scene, specs []MarkerSpec, warn func(error)) error {
	if dups := lo.FindDuplicates(lo.Map(specs, func(ms MarkerSpec, _ int) string { return ms.Marker })); len(dups) > 0 {
		return errors.Errorf("marker %q listed more than once", dups[0])
	}
	cameraIndex := map[string]int{}
	for i, cam := range c.Cameras {
		cameraIndex[cam.Shape] = i
	}
	bundleIndex := map[string]int{}

	for _, ms := range specs {
		mn, err := s.Node(ms.Marker)
		if err != nil {
			return errors.Wrap(err, "marker")
		}
		if !mn.Kind.IsTransform() {
			return errors.Errorf("marker %q is a %s", ms.Marker, mn.Kind)
		}
		cam, ok := cameraIndex[ms.CameraShape]
		if !ok {
			warn(errors.Wrapf(ErrMarkerMissingCamera, "%q (camera %q is not solved)", ms.Marker, ms.CameraShape))
			continue
		}

		m := Marker{Node: ms.Marker, Camera: cam, Bundle: -1}
		if mn.Kind == scene.MarkerKind && mn.Parent != "" {
			parent, err := s.Node(mn.Parent)
			if err != nil {
				return err
			}
			if parent.Kind == scene.MarkerGroupKind {
				m.Group = parent.Name
			}
		}

		switch {
		case ms.Bundle == "":
			warn(errors.Wrapf(ErrMarkerMissingBundle, "%q", ms.Marker))
		case !s.HasNode(ms.Bundle):
			warn(errors.Wrapf(ErrMarkerMissingBundle, "%q (bundle %q does not exist)", ms.Marker, ms.Bundle))
		default:
			b, ok := bundleIndex[ms.Bundle]
			if !ok {
				bn, err := s.Node(ms.Bundle)
				if err != nil {
					return err
				}
				if !bn.Kind.IsTransform() {
					return errors.Errorf("bundle %q is a %s", ms.Bundle, bn.Kind)
				}
				b = len(c.Bundles)
				bundleIndex[ms.Bundle] = b
				c.Bundles = append(c.Bundles, Bundle{Node: ms.Bundle})
			}
			m.Bundle = b
		}
		c.Markers = append(c.Markers, m)
	}
	return nil
}

func optionalBound(v *float64, fallback scene.Bounds, useMin bool) Bound {
	if v != nil {
		return NewBound(*v)
	}
	if useMin && fallback.HasMin {
		return NewBound(fallback.Min)
	}
	if !useMin && fallback.HasMax {
		return NewBound(fallback.Max)
	}
	return Bound{}
}

func (c *Collection) buildAttributes(s *scene.Scene, specs []AttrSpec, warn func(error)) error {
	seen := map[string]bool{}
	for _, as := range specs {
		nodeName, attrName, err := scene.SplitAttr(as.Name)
		if err != nil {
			return err
		}
		name := nodeName + "." + scene.CanonicalAttrName(attrName)
		if seen[name] {
			return errors.Wrapf(ErrDuplicateAttribute, "%q", as.Name)
		}
		seen[name] = true

		a := Attribute{
			Name:   name,
			Node:   nodeName,
			Offset: as.Offset,
			Scale:  as.Scale,
			Step:   as.Step,
		}
		if a.Scale == 0 {
			a.Scale = 1
		}

		if !s.HasAttribute(name) {
			a.State = AttrInvalid
			warn(errors.Wrapf(ErrInvalidAttribute, "%q does not exist", as.Name))
			c.Attributes = append(c.Attributes, a)
			continue
		}
		bounds, err := s.Bounds(name)
		if err != nil {
			return err
		}
		a.Min = optionalBound(as.Min, bounds, true)
		a.Max = optionalBound(as.Max, bounds, false)
		if as.MinInternal != nil {
			a.MinInternal = NewBound(*as.MinInternal)
		}
		if as.MaxInternal != nil {
			a.MaxInternal = NewBound(*as.MaxInternal)
		}
		if a.Min.Set && a.Max.Set && a.Min.Value > a.Max.Value {
			return errors.Errorf("attribute %q has min %v above max %v", name, a.Min.Value, a.Max.Value)
		}

		locked, err := s.IsLocked(name)
		if err != nil {
			return err
		}
		connected, err := s.IsConnected(name)
		if err != nil {
			return err
		}
		animated, err := s.IsAnimated(name)
		if err != nil {
			return err
		}
		switch {
		case locked:
			a.State = AttrLocked
		case connected:
			a.State = AttrInvalid
			warn(errors.Wrapf(ErrInvalidAttribute, "%q is driven by an expression", name))
		case animated:
			curve, err := s.Curve(name)
			if err != nil {
				return err
			}
			if curve.NumKeys() == 0 {
				return errors.Wrapf(ErrNoKeyframes, "%q", name)
			}
			a.State = AttrAnimated
		default:
			a.State = AttrStatic
		}
		c.Attributes = append(c.Attributes, a)
	}
	return nil
}

func (c *Collection) buildRegularisation(s *scene.Scene, stiffness, smoothness []RegularisationSpec) error {
	attach := func(kind string, specs []RegularisationSpec, set func(a *Attribute, r *Regularisation)) error {
		for _, rs := range specs {
			nodeName, attrName, err := scene.SplitAttr(rs.Attr)
			if err != nil {
				return err
			}
			idx := c.AttributeIndex(nodeName + "." + scene.CanonicalAttrName(attrName))
			if idx < 0 {
				return errors.Errorf("%s on %q, which is not a solved attribute", kind, rs.Attr)
			}
			for _, path := range []string{rs.Weight, rs.Variance, rs.Value} {
				if path != "" && !s.HasAttribute(path) {
					return errors.Errorf("%s of %q reads %q, which does not exist", kind, rs.Attr, path)
				}
			}
			set(&c.Attributes[idx], &Regularisation{Weight: rs.Weight, Variance: rs.Variance, Value: rs.Value})
		}
		return nil
	}
	if err := attach("stiffness", stiffness, func(a *Attribute, r *Regularisation) { a.Stiffness = r }); err != nil {
		return err
	}
	return attach("smoothness", smoothness, func(a *Attribute, r *Regularisation) { a.Smoothness = r })
}

func (c *Collection) buildLines(specs []LineSpec) error {
	for i, ls := range specs {
		name := ls.Name
		if name == "" {
			name = fmt.Sprintf("line%d", i)
		}
		if len(ls.Markers) < 3 {
			return errors.Errorf("line %q needs at least 3 markers, got %d", name, len(ls.Markers))
		}
		l := Line{Name: name}
		for _, mName := range ls.Markers {
			idx := c.MarkerIndex(mName)
			if idx < 0 {
				return errors.Errorf("line %q uses marker %q, which is not solved", name, mName)
			}
			l.Markers = append(l.Markers, idx)
		}
		c.Lines = append(c.Lines, l)
	}
	return nil
}

func (c *Collection) buildFrames(specs []FrameSpec) error {
	byNumber := map[int]Label{}
	for _, fs := range specs {
		label := byNumber[fs.Number]
		if len(fs.Labels) == 0 {
			label |= LabelNormal
		}
		for _, name := range fs.Labels {
			l, err := LabelFromString(name)
			if err != nil {
				return errors.Wrapf(err, "frame %d", fs.Number)
			}
			label |= l
		}
		byNumber[fs.Number] = label
	}
	numbers := lo.Keys(byNumber)
	sort.Ints(numbers)
	for _, n := range numbers {
		c.Frames = append(c.Frames, Frame{Number: n, Labels: byNumber[n]})
	}
	return nil
}
