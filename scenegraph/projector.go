package scenegraph

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/camera"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/lens"
	"go.viam.com/mmsolver/spatialmath"
)

// source is what a back-end provides to the projector.
type source interface {
	value(path string, frame int) (float64, error)
	worldMatrix(node string, frame int) (mgl64.Mat4, error)
}

type camFrame struct {
	cam   int
	frame int
}

// projector implements the camera, lens and marker queries on top of a source. Shapes and lens
// chains are cached per camera and frame until a camera or lens attribute is written.
type projector struct {
	src  source
	coll *collection.Collection

	// intrinsic holds the camera shape and lens nodes.
	intrinsic map[string]bool
	shapes    map[camFrame]camera.Shape
	chains    map[camFrame]lens.Chain
}

var shapeAttrs = []string{
	"focalLength", "filmBackWidth", "filmBackHeight", "filmOffsetX", "filmOffsetY",
	"filmFit", "nearClip", "farClip", "cameraScale", "imageWidth", "imageHeight",
}

func newProjector(src source, c *collection.Collection) *projector {
	p := &projector{
		src:       src,
		coll:      c,
		intrinsic: map[string]bool{},
	}
	for _, cam := range c.Cameras {
		p.intrinsic[cam.Shape] = true
	}
	for _, l := range c.Lenses {
		p.intrinsic[l.Node] = true
	}
	p.invalidate()
	return p
}

func (p *projector) invalidate() {
	p.shapes = map[camFrame]camera.Shape{}
	p.chains = map[camFrame]lens.Chain{}
}

// written is called after a write to node.
func (p *projector) written(node string) {
	if p.intrinsic[node] {
		p.invalidate()
	}
}

func (p *projector) clone(src source) *projector {
	return &projector{
		src:       src,
		coll:      p.coll,
		intrinsic: p.intrinsic,
		shapes:    map[camFrame]camera.Shape{},
		chains:    map[camFrame]lens.Chain{},
	}
}

func (p *projector) shape(cam, frame int) (camera.Shape, error) {
	key := camFrame{cam, frame}
	if s, ok := p.shapes[key]; ok {
		return s, nil
	}
	node := p.coll.Cameras[cam].Shape
	var vals [11]float64
	for i, attr := range shapeAttrs {
		v, err := p.src.value(node+"."+attr, frame)
		if err != nil {
			return camera.Shape{}, err
		}
		vals[i] = v
	}
	s := camera.Shape{
		FocalLength:    vals[0],
		FilmBackWidth:  vals[1],
		FilmBackHeight: vals[2],
		FilmOffsetX:    vals[3],
		FilmOffsetY:    vals[4],
		FilmFit:        camera.FilmFit(int(math.Round(vals[5]))),
		NearClip:       vals[6],
		FarClip:        vals[7],
		CameraScale:    vals[8],
		ImageWidth:     vals[9],
		ImageHeight:    vals[10],
	}
	if err := s.CheckValid(); err != nil {
		return s, errors.Wrapf(err, "camera %q at frame %d", node, frame)
	}
	p.shapes[key] = s
	return s, nil
}

func (p *projector) chain(cam, frame int) (lens.Chain, error) {
	key := camFrame{cam, frame}
	if ch, ok := p.chains[key]; ok {
		return ch, nil
	}
	s, err := p.shape(cam, frame)
	if err != nil {
		return nil, err
	}
	var ch lens.Chain
	for _, li := range p.coll.Cameras[cam].Lenses {
		l := p.coll.Lenses[li]
		enable, err := p.src.value(l.Node+".enable", frame)
		if err != nil {
			return nil, err
		}
		if enable == 0 {
			continue
		}
		params, err := lens.ParametersOf(l.Model)
		if err != nil {
			return nil, err
		}
		values := make(map[string]float64, len(params))
		for _, param := range params {
			v, err := p.src.value(l.Node+"."+param.Name, frame)
			if err != nil {
				return nil, err
			}
			values[param.Name] = v
		}
		d, err := lens.NewDistorter(l.Model, values, s.Aspect())
		if err != nil {
			return nil, errors.Wrapf(err, "lens %q", l.Node)
		}
		ch = append(ch, d)
	}
	p.chains[key] = ch
	return ch, nil
}

func (p *projector) projectUndistorted(cam int, node string, frame int) (r2.Point, error) {
	s, err := p.shape(cam, frame)
	if err != nil {
		return r2.Point{}, err
	}
	camWorld, err := p.src.worldMatrix(p.coll.Cameras[cam].Transform, frame)
	if err != nil {
		return r2.Point{}, err
	}
	world, err := p.src.worldMatrix(node, frame)
	if err != nil {
		return r2.Point{}, err
	}
	return s.ProjectWorld(camWorld, spatialmath.Translation(world)), nil
}

func (p *projector) projectBundle(cam, bundle, frame int) (r2.Point, error) {
	uv, err := p.projectUndistorted(cam, p.coll.Bundles[bundle].Node, frame)
	if err != nil {
		return r2.Point{}, err
	}
	return p.applyLens(cam, frame, uv)
}

func (p *projector) applyLens(cam, frame int, uv r2.Point) (r2.Point, error) {
	ch, err := p.chain(cam, frame)
	if err != nil {
		return r2.Point{}, err
	}
	return ch.Distort(uv), nil
}

func (p *projector) undistortPoint(cam, frame int, uv r2.Point) (r2.Point, error) {
	ch, err := p.chain(cam, frame)
	if err != nil {
		return r2.Point{}, err
	}
	return ch.Undistort(uv)
}

// markerPosition reads a marker under a marker group from its translate channels through the
// group's offset and scale. Any other node is projected through its camera without lens.
func (p *projector) markerPosition(marker, frame int) (r2.Point, error) {
	m := p.coll.Markers[marker]
	if m.Group == "" {
		return p.projectUndistorted(m.Camera, m.Node, frame)
	}
	var vals [6]float64
	for i, path := range []string{
		m.Node + ".tx", m.Node + ".ty",
		m.Group + ".tx", m.Group + ".ty", m.Group + ".sx", m.Group + ".sy",
	} {
		v, err := p.src.value(path, frame)
		if err != nil {
			return r2.Point{}, err
		}
		vals[i] = v
	}
	return r2.Point{X: vals[0]*vals[4] + vals[2], Y: vals[1]*vals[5] + vals[3]}, nil
}

// markerState reads enable and weight. Nodes without those attributes are enabled with weight 1.
func (p *projector) markerState(marker, frame int) (bool, float64, error) {
	node := p.coll.Markers[marker].Node
	enable, err := p.optionalValue(node+".enable", frame, 1)
	if err != nil {
		return false, 0, err
	}
	weight, err := p.optionalValue(node+".weight", frame, 1)
	if err != nil {
		return false, 0, err
	}
	if weight < 0 {
		weight = 0
	}
	return enable != 0 && weight > 0, weight, nil
}

func (p *projector) optionalValue(path string, frame int, fallback float64) (float64, error) {
	v, err := p.src.value(path, frame)
	if errors.Is(err, errNoAttribute) {
		return fallback, nil
	}
	return v, err
}

// errNoAttribute is wrapped by sources when a path does not exist.
var errNoAttribute = errors.New("no such attribute")
