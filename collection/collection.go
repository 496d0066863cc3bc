// Package collection is the problem model of a solve: cameras, markers, bundles, lines, lenses,
// attributes and frames held in arenas and referring to each other by index.
package collection

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/mmsolver/lens"
)

// Label tags a frame for the scheduling strategies.
type Label uint8

// Frame labels. A frame may carry several.
const (
	LabelNormal Label = 1 << iota
	LabelPrimary
	LabelSecondary
	LabelUser
)

var labelNames = []struct {
	label Label
	name  string
}{
	{LabelNormal, "normal"},
	{LabelPrimary, "primary"},
	{LabelSecondary, "secondary"},
	{LabelUser, "user"},
}

// Has reports whether every label in other is set.
func (l Label) Has(other Label) bool {
	return l&other == other
}

func (l Label) String() string {
	var names []string
	for _, ln := range labelNames {
		if l.Has(ln.label) {
			names = append(names, ln.name)
		}
	}
	return strings.Join(names, "|")
}

// LabelFromString parses a single label name.
func LabelFromString(s string) (Label, error) {
	for _, ln := range labelNames {
		if strings.EqualFold(ln.name, s) {
			return ln.label, nil
		}
	}
	return 0, errors.Errorf("unknown frame label %q", s)
}

// Frame is a solved time with its labels.
type Frame struct {
	Number int
	Labels Label
}

// Camera is a camera transform and its shape.
type Camera struct {
	Transform string
	Shape     string
	// Lenses indexes Collection.Lenses, innermost first.
	Lenses []int
}

// Lens is one lens node of a camera's chain.
type Lens struct {
	Node  string
	Model lens.Model
}

// Bundle is a 3D point.
type Bundle struct {
	Node string
}

// Marker is a 2D observation through a camera.
type Marker struct {
	Node   string
	Camera int
	// Bundle is -1 when the marker has no bundle.
	Bundle int
	// Group is the marker group node the marker sits under, or empty when the marker is a 3D
	// node whose projection is the observation.
	Group string
}

// HasBundle reports whether the marker observes a bundle.
func (m Marker) HasBundle() bool {
	return m.Bundle >= 0
}

// Line is an ordered list of markers that lie on a straight line in the undistorted image.
type Line struct {
	Name    string
	Markers []int
}

// AttrState classifies an attribute for solving.
type AttrState int

// Attribute states.
const (
	AttrStatic AttrState = iota
	AttrAnimated
	AttrLocked
	AttrInvalid
)

func (s AttrState) String() string {
	switch s {
	case AttrStatic:
		return "static"
	case AttrAnimated:
		return "animated"
	case AttrLocked:
		return "locked"
	case AttrInvalid:
		return "invalid"
	}
	return "unknown"
}

// Bound is an optional limit.
type Bound struct {
	Value float64
	Set   bool
}

// NewBound returns a set bound.
func NewBound(v float64) Bound {
	return Bound{Value: v, Set: true}
}

// Regularisation names the attributes holding the weight, variance and value of a stiffness or
// smoothness term. Empty names take defaults: weight 1, variance 1, and for stiffness a target
// equal to the attribute's value before solving, for smoothness a window width of 3.
type Regularisation struct {
	Weight   string
	Variance string
	Value    string
}

// Attribute is one solved scalar.
type Attribute struct {
	Name  string
	Node  string
	State AttrState

	Min         Bound
	Max         Bound
	MinInternal Bound
	MaxInternal Bound

	// Offset and Scale normalise the value before the bound transform.
	Offset float64
	Scale  float64
	// Step overrides the finite difference step when positive.
	Step float64

	Stiffness  *Regularisation
	Smoothness *Regularisation
}

// Collection owns every entity of one solve.
type Collection struct {
	// Name is the collection node receiving solver results, may be empty.
	Name string

	Cameras    []Camera
	Lenses     []Lens
	Bundles    []Bundle
	Markers    []Marker
	Lines      []Line
	Attributes []Attribute
	Frames     []Frame

	// Warnings are the non-fatal problems found while building.
	Warnings []error
}

// FrameNumbers lists the frame numbers in ascending order.
func (c *Collection) FrameNumbers() []int {
	out := make([]int, len(c.Frames))
	for i, f := range c.Frames {
		out[i] = f.Number
	}
	return out
}

// FrameIndex returns the index of frame number f, or -1.
func (c *Collection) FrameIndex(f int) int {
	i := sort.Search(len(c.Frames), func(i int) bool { return c.Frames[i].Number >= f })
	if i < len(c.Frames) && c.Frames[i].Number == f {
		return i
	}
	return -1
}

// AttributeIndex returns the index of the named attribute, or -1.
func (c *Collection) AttributeIndex(name string) int {
	for i, a := range c.Attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// MarkerIndex returns the index of the named marker, or -1.
func (c *Collection) MarkerIndex(name string) int {
	for i, m := range c.Markers {
		if m.Node == name {
			return i
		}
	}
	return -1
}

// BundleMarkers returns the markers observing bundle b, in marker order.
func (c *Collection) BundleMarkers(b int) []int {
	var out []int
	for i, m := range c.Markers {
		if m.Bundle == b {
			out = append(out, i)
		}
	}
	return out
}

// LinesOf returns the lines containing marker m.
func (c *Collection) LinesOf(m int) []int {
	var out []int
	for i, l := range c.Lines {
		for _, lm := range l.Markers {
			if lm == m {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// LensChain returns the lens entities of camera cam, innermost first.
func (c *Collection) LensChain(cam int) []Lens {
	out := make([]Lens, len(c.Cameras[cam].Lenses))
	for i, l := range c.Cameras[cam].Lenses {
		out[i] = c.Lenses[l]
	}
	return out
}
