package scenegraph

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"go.viam.com/mmsolver/camera"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/spatialmath"
)

var transformChannels = [16]string{
	"tx", "ty", "tz", "rx", "ry", "rz", "sx", "sy", "sz", "ro",
	"rpx", "rpy", "rpz", "spx", "spy", "spz",
}

// flatNode is one transform of the flattened hierarchy. Parents come before children.
type flatNode struct {
	name      string
	parent    int
	transform bool
}

// solvedValues holds the current value of a solved attribute: one slot when static, one per
// collection frame when animated.
type solvedValues struct {
	static  bool
	values  []float64
	written []bool
}

func (sv *solvedValues) clone() *solvedValues {
	return &solvedValues{
		static:  sv.static,
		values:  append([]float64(nil), sv.values...),
		written: append([]bool(nil), sv.written...),
	}
}

type frameWorlds struct {
	matrices []mgl64.Mat4
	valid    []bool
}

// nativeEvaluator evaluates a snapshot of the scene sampled at the collection's frames. Solved
// attributes live in its own table until Commit.
type nativeEvaluator struct {
	scene      *scene.Scene
	coll       *collection.Collection
	frames     []int
	frameIndex map[int]int

	nodes     []flatNode
	nodeIndex map[string]int

	// samples and solvedPaths are shared between clones and never written after build.
	samples     map[string][]float64
	solvedPaths map[string]int

	solved []*solvedValues
	worlds map[int]*frameWorlds
	proj   *projector
}

func newNative(s *scene.Scene, c *collection.Collection) (*nativeEvaluator, error) {
	n := &nativeEvaluator{
		scene:       s,
		coll:        c,
		frames:      c.FrameNumbers(),
		frameIndex:  map[int]int{},
		nodeIndex:   map[string]int{},
		samples:     map[string][]float64{},
		solvedPaths: map[string]int{},
		solved:      make([]*solvedValues, len(c.Attributes)),
		worlds:      map[int]*frameWorlds{},
	}
	for i, f := range n.frames {
		n.frameIndex[f] = i
	}
	if err := n.flatten(); err != nil {
		return nil, err
	}
	if err := n.sample(); err != nil {
		return nil, err
	}
	n.proj = newProjector(n, c)
	return n, nil
}

// flatten collects every transform the collection reads and the ancestors of each, then orders
// them parents first. Hierarchy cycles are rejected.
func (n *nativeEvaluator) flatten() error {
	var roots []string
	for _, cam := range n.coll.Cameras {
		roots = append(roots, cam.Transform)
	}
	for _, m := range n.coll.Markers {
		roots = append(roots, m.Node)
	}
	for _, b := range n.coll.Bundles {
		roots = append(roots, b.Node)
	}

	g := simple.NewDirectedGraph()
	ids := map[string]int64{}
	names := map[int64]string{}
	parents := map[string]string{}
	kinds := map[string]scene.NodeKind{}
	add := func(name string) int64 {
		id, ok := ids[name]
		if !ok {
			id = int64(len(ids))
			ids[name] = id
			names[id] = name
			g.AddNode(simple.Node(id))
		}
		return id
	}
	for _, root := range roots {
		for name := root; name != ""; {
			if _, ok := kinds[name]; ok {
				break
			}
			node, err := n.scene.Node(name)
			if err != nil {
				return err
			}
			kinds[name] = node.Kind
			parents[name] = node.Parent
			child := add(name)
			if node.Parent != "" {
				parent := add(node.Parent)
				if parent == child {
					return errors.Wrapf(scene.ErrCycle, "%q is its own parent", name)
				}
				g.SetEdge(simple.Edge{F: simple.Node(parent), T: simple.Node(child)})
			}
			name = node.Parent
		}
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		return errors.Wrap(scene.ErrCycle, "hierarchy")
	}
	for _, gn := range sorted {
		name := names[gn.ID()]
		parent := -1
		if p := parents[name]; p != "" {
			parent = n.nodeIndex[p]
		}
		n.nodeIndex[name] = len(n.nodes)
		n.nodes = append(n.nodes, flatNode{name: name, parent: parent, transform: kinds[name].IsTransform()})
	}
	return nil
}

func (n *nativeEvaluator) sample() error {
	var paths []string
	for _, node := range n.nodes {
		if node.transform {
			for _, ch := range transformChannels {
				paths = append(paths, node.name+"."+ch)
			}
		}
	}
	for _, cam := range n.coll.Cameras {
		for _, attr := range shapeAttrs {
			paths = append(paths, cam.Shape+"."+attr)
		}
	}
	for _, l := range n.coll.Lenses {
		params, err := lens.ParametersOf(l.Model)
		if err != nil {
			return err
		}
		paths = append(paths, l.Node+".enable")
		for _, p := range params {
			paths = append(paths, l.Node+"."+p.Name)
		}
	}
	for _, m := range n.coll.Markers {
		paths = append(paths, m.Node+".enable", m.Node+".weight")
	}
	for _, a := range n.coll.Attributes {
		if a.State == collection.AttrInvalid {
			continue
		}
		paths = append(paths, a.Name)
		for _, r := range []*collection.Regularisation{a.Stiffness, a.Smoothness} {
			if r != nil {
				paths = append(paths, r.Weight, r.Variance, r.Value)
			}
		}
	}

	for _, path := range paths {
		if path == "" || n.samples[path] != nil || !n.scene.HasAttribute(path) {
			continue
		}
		values := make([]float64, len(n.frames))
		for i, f := range n.frames {
			v, err := n.scene.Get(path, float64(f))
			if err != nil {
				return err
			}
			values[i] = v
		}
		n.samples[path] = values
	}

	for i, a := range n.coll.Attributes {
		if a.State != collection.AttrStatic && a.State != collection.AttrAnimated {
			continue
		}
		n.solvedPaths[a.Name] = i
		sampled := n.samples[a.Name]
		sv := &solvedValues{static: a.State == collection.AttrStatic}
		if sv.static {
			sv.values = make([]float64, 1)
			if len(sampled) > 0 {
				sv.values[0] = sampled[0]
			} else {
				v, err := n.scene.Get(a.Name, n.scene.CurrentTime())
				if err != nil {
					return err
				}
				sv.values[0] = v
			}
		} else {
			sv.values = append([]float64(nil), sampled...)
		}
		sv.written = make([]bool, len(sv.values))
		n.solved[i] = sv
	}
	return nil
}

func (n *nativeEvaluator) Mode() Mode {
	return ModeNative
}

// Clone shares the sampled scene and copies the solved values.
func (n *nativeEvaluator) Clone() Evaluator {
	c := *n
	c.solved = make([]*solvedValues, len(n.solved))
	for i, sv := range n.solved {
		if sv != nil {
			c.solved[i] = sv.clone()
		}
	}
	c.worlds = map[int]*frameWorlds{}
	c.proj = n.proj.clone(&c)
	return &c
}

func (n *nativeEvaluator) value(path string, frame int) (float64, error) {
	fi, sampled := n.frameIndex[frame]
	if ai, ok := n.solvedPaths[path]; ok {
		sv := n.solved[ai]
		if sv.static {
			return sv.values[0], nil
		}
		if sampled {
			return sv.values[fi], nil
		}
	}
	if sampled {
		if s, ok := n.samples[path]; ok {
			return s[fi], nil
		}
	}
	if !n.scene.HasAttribute(path) {
		return 0, errors.Wrapf(errNoAttribute, "%q", path)
	}
	return n.scene.Get(path, float64(frame))
}

func (n *nativeEvaluator) local(node flatNode, frame int) (mgl64.Mat4, error) {
	if !node.transform {
		return mgl64.Ident4(), nil
	}
	var vals [16]float64
	for i, ch := range transformChannels {
		v, err := n.value(node.name+"."+ch, frame)
		if err != nil {
			return mgl64.Ident4(), err
		}
		vals[i] = v
	}
	tv := spatialmath.TransformValues{
		Translate:   r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]},
		Rotate:      r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]},
		Scale:       r3.Vector{X: vals[6], Y: vals[7], Z: vals[8]},
		RotateOrder: spatialmath.RotateOrder(int(math.Round(vals[9]))),
		RotatePivot: r3.Vector{X: vals[10], Y: vals[11], Z: vals[12]},
		ScalePivot:  r3.Vector{X: vals[13], Y: vals[14], Z: vals[15]},
	}
	if !tv.RotateOrder.Valid() {
		return mgl64.Ident4(), errors.Errorf("node %q has invalid rotate order %v", node.name, vals[9])
	}
	return tv.LocalMatrix(), nil
}

func (n *nativeEvaluator) world(idx, frame int, cache *frameWorlds) (mgl64.Mat4, error) {
	if cache != nil && cache.valid[idx] {
		return cache.matrices[idx], nil
	}
	node := n.nodes[idx]
	m, err := n.local(node, frame)
	if err != nil {
		return m, err
	}
	if node.parent >= 0 {
		parent, err := n.world(node.parent, frame, cache)
		if err != nil {
			return m, err
		}
		m = parent.Mul4(m)
	}
	if cache != nil {
		cache.matrices[idx] = m
		cache.valid[idx] = true
	}
	return m, nil
}

func (n *nativeEvaluator) worldMatrix(node string, frame int) (mgl64.Mat4, error) {
	idx, ok := n.nodeIndex[node]
	if !ok {
		return mgl64.Ident4(), errors.Wrapf(ErrUnsupportedScene, "node %q is outside the evaluated hierarchy", node)
	}
	fi, ok := n.frameIndex[frame]
	if !ok {
		return n.world(idx, frame, nil)
	}
	cache := n.worlds[fi]
	if cache == nil {
		cache = &frameWorlds{
			matrices: make([]mgl64.Mat4, len(n.nodes)),
			valid:    make([]bool, len(n.nodes)),
		}
		n.worlds[fi] = cache
	}
	return n.world(idx, frame, cache)
}

func (n *nativeEvaluator) SetAttribute(attr, frame int, value float64) error {
	sv := n.solved[attr]
	a := n.coll.Attributes[attr]
	if sv == nil {
		return errors.Errorf("attribute %q is %s and cannot be set", a.Name, a.State)
	}
	if sv.static {
		sv.values[0] = value
		sv.written[0] = true
		n.worlds = map[int]*frameWorlds{}
	} else {
		fi, ok := n.frameIndex[frame]
		if !ok {
			return errors.Errorf("frame %d is not part of the solve", frame)
		}
		sv.values[fi] = value
		sv.written[fi] = true
		delete(n.worlds, fi)
	}
	n.proj.written(a.Node)
	return nil
}

func (n *nativeEvaluator) AttributeValue(attr, frame int) (float64, error) {
	return n.value(n.coll.Attributes[attr].Name, frame)
}

func (n *nativeEvaluator) ReadValue(path string, frame int) (float64, error) {
	node, attr, err := scene.SplitAttr(path)
	if err != nil {
		return 0, err
	}
	return n.value(node+"."+scene.CanonicalAttrName(attr), frame)
}

func (n *nativeEvaluator) WorldMatrix(node string, frame int) (mgl64.Mat4, error) {
	return n.worldMatrix(node, frame)
}

func (n *nativeEvaluator) Shape(cam, frame int) (camera.Shape, error) {
	return n.proj.shape(cam, frame)
}

func (n *nativeEvaluator) MarkerPosition(marker, frame int) (r2.Point, error) {
	return n.proj.markerPosition(marker, frame)
}

func (n *nativeEvaluator) MarkerState(marker, frame int) (bool, float64, error) {
	return n.proj.markerState(marker, frame)
}

func (n *nativeEvaluator) ProjectBundle(cam, bundle, frame int) (r2.Point, error) {
	return n.proj.projectBundle(cam, bundle, frame)
}

func (n *nativeEvaluator) ApplyLens(cam, frame int, p r2.Point) (r2.Point, error) {
	return n.proj.applyLens(cam, frame, p)
}

func (n *nativeEvaluator) UndistortPoint(cam, frame int, p r2.Point) (r2.Point, error) {
	return n.proj.undistortPoint(cam, frame, p)
}

// Commit writes every solved value that was set back to the scene: static attributes once,
// animated attributes as a key on each written frame.
func (n *nativeEvaluator) Commit() error {
	for i, sv := range n.solved {
		if sv == nil {
			continue
		}
		name := n.coll.Attributes[i].Name
		for slot, written := range sv.written {
			if !written {
				continue
			}
			t := n.scene.CurrentTime()
			if !sv.static {
				t = float64(n.frames[slot])
			}
			if err := n.scene.Set(name, t, sv.values[slot]); err != nil {
				return err
			}
		}
	}
	return nil
}
