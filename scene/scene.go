// Package scene is the host scene the solver reads and writes: a named node hierarchy whose
// scalar attributes are static, keyframed or driven by expressions. It provides the attribute
// interface (get, set, set key, locks and bounds), world transforms with a lazy cache, metadata
// strings on nodes and the dependency graph used for affects analysis.
//
// Attributes are addressed as "node.attr". Time is a float64 frame number.
package scene

import (
	"math"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/spatialmath"
	"go.viam.com/mmsolver/utils"
)

var (
	// ErrAttributeLocked is returned when writing to a locked attribute.
	ErrAttributeLocked = errors.New("attribute is locked")
	// ErrAttributeConnected is returned when writing to an expression driven attribute.
	ErrAttributeConnected = errors.New("attribute is driven by an expression")
	// ErrSceneBusy is returned when a second solve tries to take the scene.
	ErrSceneBusy = errors.New("scene is locked by another solve")
	// ErrCycle is returned when evaluation finds a dependency cycle.
	ErrCycle = errors.New("dependency cycle")
)

// maxEvalDepth bounds recursion through parents and expressions.
const maxEvalDepth = 256

type worldKey struct {
	node string
	time float64
}

// Scene holds every node. It is safe for concurrent use; a solve additionally takes the solve
// lock for exclusive use of the scene.
type Scene struct {
	mu          sync.RWMutex
	nodes       map[string]*Node
	order       []string
	currentTime float64

	solveMu sync.Mutex

	cacheMu    sync.Mutex
	worldCache map[worldKey]mgl64.Mat4
	evalCount  int
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{
		nodes:      map[string]*Node{},
		worldCache: map[worldKey]mgl64.Mat4{},
	}
}

// SplitAttr splits "node.attr" at the last dot.
func SplitAttr(path string) (string, string, error) {
	idx := strings.LastIndex(path, ".")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", errors.Errorf("attribute path %q must be of the form node.attr", path)
	}
	return path[:idx], path[idx+1:], nil
}

// AddNode creates a node. parent may be empty.
func (s *Scene) AddNode(name string, kind NodeKind, parent string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNode(name, kind, parent)
}

func (s *Scene) addNode(name string, kind NodeKind, parent string) (*Node, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, errors.Errorf("invalid node name %q", name)
	}
	if !kind.Valid() {
		return nil, errors.Errorf("node %q has unknown kind %q", name, kind)
	}
	if _, ok := s.nodes[name]; ok {
		return nil, errors.Errorf("node %q already exists", name)
	}
	if parent != "" {
		if _, ok := s.nodes[parent]; !ok {
			return nil, utils.NewUnknownNodeError(parent)
		}
	}
	n := newNode(name, kind, parent)
	s.nodes[name] = n
	s.order = append(s.order, name)
	s.invalidate()
	return n, nil
}

// AddLens creates a lens node carrying the parameters of the model at their defaults.
func (s *Scene) AddLens(name string, model lens.Model) (*Node, error) {
	params, err := lens.ParametersOf(model)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.addNode(name, LensKind, "")
	if err != nil {
		return nil, err
	}
	n.LensModel = model
	for _, p := range params {
		n.addPlug(p.Name, p.Default)
	}
	return n, nil
}

// AddCamera creates a camera transform with a camera shape beneath it.
func (s *Scene) AddCamera(transform, shape, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.addNode(transform, TransformKind, parent); err != nil {
		return err
	}
	_, err := s.addNode(shape, CameraShapeKind, transform)
	return err
}

// AddAttribute adds a user attribute to a node, for example a stiffness weight.
func (s *Scene) AddAttribute(node, attr string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(node)
	if err != nil {
		return err
	}
	if attr == "" || strings.Contains(attr, ".") {
		return errors.Errorf("invalid attribute name %q", attr)
	}
	if _, ok := n.plugs[CanonicalAttrName(attr)]; ok {
		return errors.Errorf("attribute %q already exists on node %q", attr, node)
	}
	n.addPlug(attr, value)
	return nil
}

// Node returns the named node.
func (s *Scene) Node(name string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.node(name)
}

func (s *Scene) node(name string) (*Node, error) {
	n, ok := s.nodes[name]
	if !ok {
		return nil, utils.NewUnknownNodeError(name)
	}
	return n, nil
}

// HasNode reports whether a node exists.
func (s *Scene) HasNode(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[name]
	return ok
}

// Nodes lists node names in creation order.
func (s *Scene) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// HasAttribute reports whether "node.attr" exists.
func (s *Scene) HasAttribute(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.plug(path)
	return err == nil
}

func (s *Scene) plug(path string) (*plug, error) {
	nodeName, attr, err := SplitAttr(path)
	if err != nil {
		return nil, err
	}
	n, err := s.node(nodeName)
	if err != nil {
		return nil, err
	}
	return n.plug(attr)
}

// SetParent reparents a node. An empty parent makes it a root. Cycles are not rejected here;
// evaluation reports them.
func (s *Scene) SetParent(child, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(child)
	if err != nil {
		return err
	}
	if parent != "" {
		if _, err := s.node(parent); err != nil {
			return err
		}
	}
	n.Parent = parent
	s.invalidate()
	return nil
}

// LinkMarker sets the camera shape and bundle a marker observes. bundle may be empty.
func (s *Scene) LinkMarker(marker, cameraShape, bundle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(marker)
	if err != nil {
		return err
	}
	if n.Kind != MarkerKind && n.Kind != MarkerGroupKind {
		return errors.Errorf("node %q is a %s, not a marker", marker, n.Kind)
	}
	if cameraShape != "" {
		c, err := s.node(cameraShape)
		if err != nil {
			return err
		}
		if c.Kind != CameraShapeKind {
			return errors.Errorf("node %q is a %s, not a camera shape", cameraShape, c.Kind)
		}
	}
	if bundle != "" {
		if _, err := s.node(bundle); err != nil {
			return err
		}
	}
	n.Camera = cameraShape
	n.Bundle = bundle
	return nil
}

// SetLens connects lens (may be empty) to a camera shape, or as the input of another lens.
func (s *Scene) SetLens(node, lensNode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(node)
	if err != nil {
		return err
	}
	if n.Kind != CameraShapeKind && n.Kind != LensKind {
		return errors.Errorf("node %q is a %s and cannot take a lens", node, n.Kind)
	}
	if lensNode != "" {
		l, err := s.node(lensNode)
		if err != nil {
			return err
		}
		if l.Kind != LensKind {
			return errors.Errorf("node %q is a %s, not a lens", lensNode, l.Kind)
		}
		// lens chains are acyclic.
		for cur := l; cur != nil; {
			if cur.Name == node {
				return errors.Wrapf(ErrCycle, "lens %q feeding %q", lensNode, node)
			}
			if cur.Lens == "" {
				break
			}
			cur = s.nodes[cur.Lens]
		}
	}
	n.Lens = lensNode
	s.invalidate()
	return nil
}

// LensChain returns the enabled lens nodes feeding a camera shape at time t, innermost first.
func (s *Scene) LensChain(cameraShape string, t float64) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.node(cameraShape)
	if err != nil {
		return nil, err
	}
	var chain []*Node
	for name := c.Lens; name != ""; {
		l, err := s.node(name)
		if err != nil {
			return nil, err
		}
		if len(chain) > maxEvalDepth {
			return nil, errors.Wrapf(ErrCycle, "lens chain of %q", cameraShape)
		}
		enable, err := s.get(l.plugs["enable"], t, 0)
		if err != nil {
			return nil, err
		}
		if enable != 0 {
			chain = append(chain, l)
		}
		name = l.Lens
	}
	// collected outermost first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Get returns the value of an attribute at time t.
func (s *Scene) Get(path string, t float64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return 0, err
	}
	return s.get(p, t, 0)
}

func (s *Scene) get(p *plug, t float64, depth int) (float64, error) {
	if depth > maxEvalDepth {
		return 0, errors.Wrapf(ErrCycle, "evaluating %q", p.path())
	}
	switch {
	case p.expr != nil:
		v := p.expr.Constant + p.expr.TimeScale*t
		for i, input := range p.expr.Inputs {
			in, err := s.plug(input)
			if err != nil {
				return 0, err
			}
			iv, err := s.get(in, t, depth+1)
			if err != nil {
				return 0, err
			}
			v += p.expr.Coefficients[i] * iv
		}
		return v, nil
	case p.curve != nil:
		return p.curve.Evaluate(t), nil
	default:
		return p.value, nil
	}
}

// Set writes an attribute. Animated attributes get a linear key at t; static attributes are
// overwritten.
func (s *Scene) Set(path string, t, value float64) error {
	return s.write(path, func(p *plug) {
		if p.curve != nil {
			p.curve.SetKey(t, value, TangentLinear)
		} else {
			p.value = value
		}
	})
}

// SetKey writes a key at t with the given tangent, converting a static attribute into an
// animated one.
func (s *Scene) SetKey(path string, t, value float64, tangent Tangent) error {
	return s.write(path, func(p *plug) {
		if p.curve == nil {
			p.curve = &AnimCurve{}
		}
		p.curve.SetKey(t, value, tangent)
	})
}

// SetCurve replaces the animation of an attribute. A nil curve makes it static at its current
// static value.
func (s *Scene) SetCurve(path string, curve *AnimCurve) error {
	return s.write(path, func(p *plug) {
		p.curve = curve
	})
}

func (s *Scene) write(path string, apply func(p *plug)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plug(path)
	if err != nil {
		return err
	}
	if p.locked {
		return errors.Wrapf(ErrAttributeLocked, "%q", path)
	}
	if p.expr != nil {
		return errors.Wrapf(ErrAttributeConnected, "%q", path)
	}
	apply(p)
	s.invalidate()
	return nil
}

// Curve returns a copy of the animation curve of an attribute, or nil when static.
func (s *Scene) Curve(path string) (*AnimCurve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return nil, err
	}
	if p.curve == nil {
		return nil, nil
	}
	return NewAnimCurve(p.curve.keys...), nil
}

// Connect drives an attribute with an expression. Every input must exist.
func (s *Scene) Connect(path string, expr Expression) error {
	if len(expr.Coefficients) != len(expr.Inputs) {
		return errors.Errorf("expression on %q has %d inputs and %d coefficients",
			path, len(expr.Inputs), len(expr.Coefficients))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plug(path)
	if err != nil {
		return err
	}
	for _, input := range expr.Inputs {
		if _, err := s.plug(input); err != nil {
			return errors.Wrapf(err, "expression on %q", path)
		}
	}
	e := expr
	p.expr = &e
	s.invalidate()
	return nil
}

// Disconnect removes an expression; the attribute keeps its previous static or keyed value.
func (s *Scene) Disconnect(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plug(path)
	if err != nil {
		return err
	}
	p.expr = nil
	s.invalidate()
	return nil
}

// Expression returns the expression driving an attribute, or nil.
func (s *Scene) Expression(path string) (*Expression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return nil, err
	}
	if p.expr == nil {
		return nil, nil
	}
	e := *p.expr
	return &e, nil
}

// IsLocked reports whether an attribute is locked.
func (s *Scene) IsLocked(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return false, err
	}
	return p.locked, nil
}

// SetLocked locks or unlocks an attribute.
func (s *Scene) SetLocked(path string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plug(path)
	if err != nil {
		return err
	}
	p.locked = locked
	return nil
}

// IsAnimated reports whether an attribute has an animation curve.
func (s *Scene) IsAnimated(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return false, err
	}
	return p.curve != nil, nil
}

// IsConnected reports whether an attribute is driven by an expression.
func (s *Scene) IsConnected(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return false, err
	}
	return p.expr != nil, nil
}

// Bounds returns the advisory limits of an attribute.
func (s *Scene) Bounds(path string) (Bounds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.plug(path)
	if err != nil {
		return Bounds{}, err
	}
	return p.bounds, nil
}

// SetBounds sets the advisory limits of an attribute. Values are never clamped here.
func (s *Scene) SetBounds(path string, b Bounds) error {
	if b.HasMin && b.HasMax && b.Min > b.Max {
		return errors.Errorf("bounds on %q have min %v above max %v", path, b.Min, b.Max)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plug(path)
	if err != nil {
		return err
	}
	p.bounds = b
	return nil
}

// Metadata returns a metadata string stored on a node.
func (s *Scene) Metadata(node, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[node]
	if !ok {
		return "", false
	}
	v, ok := n.metadata[key]
	return v, ok
}

// SetMetadata stores a metadata string on a node.
func (s *Scene) SetMetadata(node, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(node)
	if err != nil {
		return err
	}
	n.metadata[key] = value
	return nil
}

// CurrentTime is the scene's current frame.
func (s *Scene) CurrentTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTime
}

// SetCurrentTime changes the scene's current frame.
func (s *Scene) SetCurrentTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTime = t
}

// AcquireSolveLock takes exclusive use of the scene for a solve. The returned function releases
// it.
func (s *Scene) AcquireSolveLock() (func(), error) {
	if !s.solveMu.TryLock() {
		return nil, ErrSceneBusy
	}
	return s.solveMu.Unlock, nil
}

// TransformValues evaluates the channels of a transform node at t.
func (s *Scene) TransformValues(node string, t float64) (spatialmath.TransformValues, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.node(node)
	if err != nil {
		return spatialmath.TransformValues{}, err
	}
	return s.transformValues(n, t)
}

func (s *Scene) transformValues(n *Node, t float64) (spatialmath.TransformValues, error) {
	tv := spatialmath.NewTransformValues()
	if !n.Kind.IsTransform() {
		return tv, nil
	}
	var vals [16]float64
	for i, d := range transformAttrs {
		v, err := s.get(n.plugs[d.name], t, 0)
		if err != nil {
			return tv, err
		}
		vals[i] = v
	}
	tv.Translate = r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}
	tv.Rotate = r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]}
	tv.Scale = r3.Vector{X: vals[6], Y: vals[7], Z: vals[8]}
	tv.RotateOrder = spatialmath.RotateOrder(int(math.Round(vals[9])))
	if !tv.RotateOrder.Valid() {
		return tv, errors.Errorf("node %q has invalid rotate order %v", n.Name, vals[9])
	}
	tv.RotatePivot = r3.Vector{X: vals[10], Y: vals[11], Z: vals[12]}
	tv.ScalePivot = r3.Vector{X: vals[13], Y: vals[14], Z: vals[15]}
	return tv, nil
}

// WorldMatrix returns the world matrix of a node at t: the product of its local matrix and
// every ancestor's. Results are cached until the next write to the scene.
func (s *Scene) WorldMatrix(node string, t float64) (mgl64.Mat4, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldMatrix(node, t, 0)
}

func (s *Scene) worldMatrix(node string, t float64, depth int) (mgl64.Mat4, error) {
	key := worldKey{node, t}
	s.cacheMu.Lock()
	m, ok := s.worldCache[key]
	s.cacheMu.Unlock()
	if ok {
		return m, nil
	}
	if depth > maxEvalDepth {
		return mgl64.Ident4(), errors.Wrapf(ErrCycle, "hierarchy above %q", node)
	}

	n, err := s.node(node)
	if err != nil {
		return mgl64.Ident4(), err
	}
	tv, err := s.transformValues(n, t)
	if err != nil {
		return mgl64.Ident4(), err
	}
	m = tv.LocalMatrix()
	if n.Parent != "" {
		parent, err := s.worldMatrix(n.Parent, t, depth+1)
		if err != nil {
			return mgl64.Ident4(), err
		}
		m = parent.Mul4(m)
	}

	s.cacheMu.Lock()
	s.worldCache[key] = m
	s.evalCount++
	s.cacheMu.Unlock()
	return m, nil
}

// ForceEvaluate flushes the lazy cache by evaluating every node's world matrix at t.
func (s *Scene) ForceEvaluate(t float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		if _, err := s.worldMatrix(name, t, 0); err != nil {
			return err
		}
	}
	return nil
}

// EvaluationCount is the number of world matrices computed (cache misses) so far.
func (s *Scene) EvaluationCount() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.evalCount
}

// invalidate must be called with mu held for writing.
func (s *Scene) invalidate() {
	s.cacheMu.Lock()
	if len(s.worldCache) > 0 {
		s.worldCache = map[worldKey]mgl64.Mat4{}
	}
	s.cacheMu.Unlock()
}
