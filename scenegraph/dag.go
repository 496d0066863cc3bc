package scenegraph

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/camera"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/scene"
)

// dagEvaluator delegates to the host scene, which evaluates expressions and caches world
// matrices itself.
type dagEvaluator struct {
	scene    *scene.Scene
	coll     *collection.Collection
	timeMode TimeEvalMode
	proj     *projector
}

func newDAG(s *scene.Scene, c *collection.Collection, timeMode TimeEvalMode) *dagEvaluator {
	if timeMode == "" {
		timeMode = TimeEvalDGContext
	}
	d := &dagEvaluator{scene: s, coll: c, timeMode: timeMode}
	d.proj = newProjector(d, c)
	return d
}

func (d *dagEvaluator) Mode() Mode {
	return ModeDAG
}

func (d *dagEvaluator) at(frame int) float64 {
	t := float64(frame)
	if d.timeMode == TimeEvalSetTime && d.scene.CurrentTime() != t {
		d.scene.SetCurrentTime(t)
	}
	return t
}

func (d *dagEvaluator) value(path string, frame int) (float64, error) {
	if !d.scene.HasAttribute(path) {
		return 0, errors.Wrapf(errNoAttribute, "%q", path)
	}
	return d.scene.Get(path, d.at(frame))
}

func (d *dagEvaluator) worldMatrix(node string, frame int) (mgl64.Mat4, error) {
	return d.scene.WorldMatrix(node, d.at(frame))
}

func (d *dagEvaluator) SetAttribute(attr, frame int, value float64) error {
	a := d.coll.Attributes[attr]
	if err := d.scene.Set(a.Name, d.at(frame), value); err != nil {
		return err
	}
	d.proj.written(a.Node)
	return nil
}

func (d *dagEvaluator) AttributeValue(attr, frame int) (float64, error) {
	return d.value(d.coll.Attributes[attr].Name, frame)
}

func (d *dagEvaluator) ReadValue(path string, frame int) (float64, error) {
	return d.value(path, frame)
}

func (d *dagEvaluator) WorldMatrix(node string, frame int) (mgl64.Mat4, error) {
	return d.worldMatrix(node, frame)
}

func (d *dagEvaluator) Shape(cam, frame int) (camera.Shape, error) {
	return d.proj.shape(cam, frame)
}

func (d *dagEvaluator) MarkerPosition(marker, frame int) (r2.Point, error) {
	return d.proj.markerPosition(marker, frame)
}

func (d *dagEvaluator) MarkerState(marker, frame int) (bool, float64, error) {
	return d.proj.markerState(marker, frame)
}

func (d *dagEvaluator) ProjectBundle(cam, bundle, frame int) (r2.Point, error) {
	return d.proj.projectBundle(cam, bundle, frame)
}

func (d *dagEvaluator) ApplyLens(cam, frame int, p r2.Point) (r2.Point, error) {
	return d.proj.applyLens(cam, frame, p)
}

func (d *dagEvaluator) UndistortPoint(cam, frame int, p r2.Point) (r2.Point, error) {
	return d.proj.undistortPoint(cam, frame, p)
}

// Commit is a no-op; writes already went to the scene.
func (d *dagEvaluator) Commit() error {
	return nil
}
