package scene

import (
	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/utils"
)

// NodeKind is the type of a scene node.
type NodeKind string

// Node kinds.
const (
	TransformKind   = NodeKind("transform")
	CameraShapeKind = NodeKind("cameraShape")
	LensKind        = NodeKind("lens")
	MarkerGroupKind = NodeKind("markerGroup")
	MarkerKind      = NodeKind("marker")
	BundleKind      = NodeKind("bundle")
	CollectionKind  = NodeKind("collection")
)

// IsTransform reports whether nodes of this kind carry translate/rotate/scale channels.
func (kind NodeKind) IsTransform() bool {
	switch kind {
	case TransformKind, MarkerGroupKind, MarkerKind, BundleKind:
		return true
	case CameraShapeKind, LensKind, CollectionKind:
	}
	return false
}

// Valid reports whether kind is known.
func (kind NodeKind) Valid() bool {
	switch kind {
	case TransformKind, CameraShapeKind, LensKind, MarkerGroupKind, MarkerKind, BundleKind, CollectionKind:
		return true
	}
	return false
}

type attrDefault struct {
	name  string
	value float64
}

var transformAttrs = []attrDefault{
	{"tx", 0}, {"ty", 0}, {"tz", 0},
	{"rx", 0}, {"ry", 0}, {"rz", 0},
	{"sx", 1}, {"sy", 1}, {"sz", 1},
	{"ro", 0},
	{"rpx", 0}, {"rpy", 0}, {"rpz", 0},
	{"spx", 0}, {"spy", 0}, {"spz", 0},
}

var deviationAttrs = []attrDefault{
	{"deviation", 0}, {"averageDeviation", 0}, {"maximumDeviation", 0}, {"maximumDeviationFrame", 0},
}

var kindAttrs = map[NodeKind][]attrDefault{
	CameraShapeKind: {
		{"focalLength", 35},
		{"filmBackWidth", 36}, {"filmBackHeight", 24},
		{"filmOffsetX", 0}, {"filmOffsetY", 0},
		{"filmFit", 0},
		{"nearClip", 0.1}, {"farClip", 10000},
		{"cameraScale", 1},
		{"imageWidth", 1920}, {"imageHeight", 1080},
	},
	MarkerKind: append([]attrDefault{{"enable", 1}, {"weight", 1}}, deviationAttrs...),
	LensKind:   {{"enable", 1}},
	CollectionKind: append([]attrDefault{
		{"solverSuccess", 0}, {"solverIterations", 0}, {"errorFinal", 0},
	}, deviationAttrs...),
}

var longNames = map[string]string{
	"translateX": "tx", "translateY": "ty", "translateZ": "tz",
	"rotateX": "rx", "rotateY": "ry", "rotateZ": "rz",
	"scaleX": "sx", "scaleY": "sy", "scaleZ": "sz",
	"rotateOrder": "ro",
	"rotatePivotX": "rpx", "rotatePivotY": "rpy", "rotatePivotZ": "rpz",
	"scalePivotX": "spx", "scalePivotY": "spy", "scalePivotZ": "spz",
}

// CanonicalAttrName maps long channel names such as translateX to their short form.
func CanonicalAttrName(attr string) string {
	if short, ok := longNames[attr]; ok {
		return short
	}
	return attr
}

// Node is a named scene element. Its fields are read-only to callers; use the Scene methods to
// change them.
type Node struct {
	Name   string
	Kind   NodeKind
	Parent string

	// Camera is the camera shape a marker or marker group observes through.
	Camera string
	// Bundle is the 3D point a marker observes.
	Bundle string
	// Lens is the outermost lens of a camera shape, or the input lens of a lens.
	Lens string
	// LensModel is set on lens nodes.
	LensModel lens.Model

	plugs     map[string]*plug
	plugOrder []string
	metadata  map[string]string
}

func newNode(name string, kind NodeKind, parent string) *Node {
	n := &Node{
		Name:     name,
		Kind:     kind,
		Parent:   parent,
		plugs:    map[string]*plug{},
		metadata: map[string]string{},
	}
	if kind.IsTransform() {
		for _, d := range transformAttrs {
			n.addPlug(d.name, d.value)
		}
	}
	for _, d := range kindAttrs[kind] {
		n.addPlug(d.name, d.value)
	}
	return n
}

func (n *Node) addPlug(name string, value float64) *plug {
	p := &plug{node: n, name: name, value: value}
	n.plugs[name] = p
	n.plugOrder = append(n.plugOrder, name)
	return p
}

// Attributes lists the node's attribute names in creation order.
func (n *Node) Attributes() []string {
	out := make([]string, len(n.plugOrder))
	copy(out, n.plugOrder)
	return out
}

func (n *Node) plug(attr string) (*plug, error) {
	p, ok := n.plugs[CanonicalAttrName(attr)]
	if !ok {
		return nil, utils.NewUnknownAttributeError(n.Name, attr)
	}
	return p, nil
}

// Bounds are the advisory limits of an attribute.
type Bounds struct {
	Min    float64
	Max    float64
	HasMin bool
	HasMax bool
}

// Contains reports whether v satisfies the bounds that are set.
func (b Bounds) Contains(v float64) bool {
	return (!b.HasMin || v >= b.Min) && (!b.HasMax || v <= b.Max)
}

type plug struct {
	node   *Node
	name   string
	value  float64
	curve  *AnimCurve
	expr   *Expression
	locked bool
	bounds Bounds
}

func (p *plug) path() string {
	return p.node.Name + "." + p.name
}
