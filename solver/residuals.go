package solver

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mmsolver/affects"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

type blockKind int

// Blocks are ordered by kind, then marker, line or attribute index, then frame.
const (
	blockMarker blockKind = iota
	blockLine
	blockStiffness
	blockSmoothness
)

func (k blockKind) String() string {
	switch k {
	case blockMarker:
		return "marker"
	case blockLine:
		return "line"
	case blockStiffness:
		return "stiffness"
	case blockSmoothness:
		return "smoothness"
	}
	return "unknown"
}

// block is a group of consecutive residual rows evaluated together.
type block struct {
	kind  blockKind
	index int
	frame int
	// frameIdx indexes the collection's frames.
	frameIdx int
	row      int
	size     int

	// scale is weight / sqrt(variance) at the block's frame for regularisation blocks.
	scale  float64
	target float64
	window []int
}

// problem is one sub-solve: the slots of its attributes over its frames and the residual blocks
// that judge them.
type problem struct {
	coll   *collection.Collection
	aff    *affects.Result
	packer *Packer
	frames []int

	blocks  []block
	numRows int
	// columnBlocks lists, per slot, the blocks that slot can change.
	columnBlocks [][]int

	loss   loss
	robust bool
	check  func() error
}

func readOptional(ev scenegraph.Evaluator, path string, frame int, fallback float64) (float64, error) {
	if path == "" {
		return fallback, nil
	}
	return ev.ReadValue(path, frame)
}

func newProblem(
	c *collection.Collection,
	aff *affects.Result,
	ev scenegraph.Evaluator,
	attrs, frames []int,
	opts Options,
	check func() error,
) (*problem, error) {
	p := &problem{
		coll:   c,
		aff:    aff,
		packer: NewPacker(c, attrs, frames),
		frames: frames,
		loss:   loss{kind: opts.RobustLossType, scale: opts.RobustLossScale},
		robust: opts.usesRobustLoss(),
		check:  check,
	}
	add := func(b block) {
		b.row = p.numRows
		p.numRows += b.size
		p.blocks = append(p.blocks, b)
	}

	for m, marker := range c.Markers {
		if !aff.UsedMarkers[m] || !marker.HasBundle() {
			continue
		}
		for _, f := range frames {
			fi := c.FrameIndex(f)
			if aff.Enabled[m][fi] {
				add(block{kind: blockMarker, index: m, frame: f, frameIdx: fi, size: 2})
			}
		}
	}
	for l, line := range c.Lines {
		if !aff.UsedLines[l] {
			continue
		}
		for _, f := range frames {
			fi := c.FrameIndex(f)
			if aff.LineEnabled(c, l, fi) {
				add(block{kind: blockLine, index: l, frame: f, frameIdx: fi, size: len(line.Markers) - 2})
			}
		}
	}

	regularisation := func(kind blockKind, ai int, r *collection.Regularisation) error {
		a := c.Attributes[ai]
		slots := p.packer.AttributeSlots(ai)
		if r == nil || len(slots) == 0 {
			return nil
		}
		if kind == blockSmoothness && a.State != collection.AttrAnimated {
			return nil
		}
		// weight and variance may be animated; a row is dropped where its own weight is 0.
		scaleAt := func(f int) (float64, error) {
			weight, err := readOptional(ev, r.Weight, f, 1)
			if err != nil {
				return 0, err
			}
			if weight == 0 {
				return 0, nil
			}
			variance, err := readOptional(ev, r.Variance, f, 1)
			if err != nil {
				return 0, err
			}
			if !(variance > 0) {
				return 0, errors.Errorf("%s variance of %q must be positive at frame %d, got %v", kind, a.Name, f, variance)
			}
			return weight / math.Sqrt(variance), nil
		}

		if kind == blockStiffness {
			for _, j := range slots {
				f := p.packer.Slots()[j].Frame
				scale, err := scaleAt(f)
				if err != nil {
					return err
				}
				if scale == 0 {
					continue
				}
				initial, err := ev.AttributeValue(ai, f)
				if err != nil {
					return err
				}
				target, err := readOptional(ev, r.Value, f, initial)
				if err != nil {
					return err
				}
				add(block{kind: kind, index: ai, frame: f, frameIdx: c.FrameIndex(f), size: 1, scale: scale, target: target})
			}
			return nil
		}

		width, err := readOptional(ev, r.Value, frames[0], defaultSmoothingWidth)
		if err != nil {
			return err
		}
		half := int(math.Max(1, math.Round(width))) / 2
		if half < 1 {
			half = 1
		}
		for k, f := range frames {
			lo, hi := utils.MaxInt(k-half, 0), utils.MinInt(k+half, len(frames)-1)
			if hi-lo < 1 {
				continue
			}
			scale, err := scaleAt(f)
			if err != nil {
				return err
			}
			if scale == 0 {
				continue
			}
			window := append([]int(nil), frames[lo:hi+1]...)
			add(block{kind: kind, index: ai, frame: f, frameIdx: c.FrameIndex(f), size: 1, scale: scale, window: window})
		}
		return nil
	}
	for ai, a := range c.Attributes {
		if err := regularisation(blockStiffness, ai, a.Stiffness); err != nil {
			return nil, err
		}
	}
	for ai, a := range c.Attributes {
		if err := regularisation(blockSmoothness, ai, a.Smoothness); err != nil {
			return nil, err
		}
	}

	p.columnBlocks = make([][]int, p.packer.Len())
	for j, slot := range p.packer.Slots() {
		for bi, b := range p.blocks {
			if p.slotAffects(slot, b) {
				p.columnBlocks[j] = append(p.columnBlocks[j], bi)
			}
		}
	}
	return p, nil
}

func (p *problem) slotAffects(slot Slot, b block) bool {
	sameFrame := slot.Static || slot.Frame == b.frame
	switch b.kind {
	case blockMarker:
		return sameFrame && p.aff.Affects(slot.Attr, b.index, b.frameIdx)
	case blockLine:
		return sameFrame && p.aff.Matrix.At(p.aff.LineRow(b.index, b.frameIdx), slot.Attr)
	case blockStiffness:
		return b.index == slot.Attr && sameFrame
	case blockSmoothness:
		if b.index != slot.Attr {
			return false
		}
		for _, f := range b.window {
			if f == slot.Frame {
				return true
			}
		}
	}
	return false
}

// markerBlocks is the number of marker blocks, which always come first.
func (p *problem) markerBlocks() int {
	n := 0
	for _, b := range p.blocks {
		if b.kind != blockMarker {
			break
		}
		n++
	}
	return n
}

// evaluate fills the rows of the given blocks, or of every block when blocks is nil.
func (p *problem) evaluate(ev scenegraph.Evaluator, r []float64, blocks []int) error {
	if blocks == nil {
		for bi := range p.blocks {
			if err := p.evaluateBlock(ev, bi, r); err != nil {
				return err
			}
		}
		return nil
	}
	for _, bi := range blocks {
		if err := p.evaluateBlock(ev, bi, r); err != nil {
			return err
		}
	}
	return nil
}

func (p *problem) evaluateBlock(ev scenegraph.Evaluator, bi int, r []float64) error {
	b := p.blocks[bi]
	switch b.kind {
	case blockMarker:
		if p.check != nil && (bi == 0 || p.blocks[bi-1].index != b.index) {
			if err := p.check(); err != nil {
				return err
			}
		}
		m := p.coll.Markers[b.index]
		projected, err := ev.ProjectBundle(m.Camera, m.Bundle, b.frame)
		if err != nil {
			return err
		}
		observed, err := ev.MarkerPosition(b.index, b.frame)
		if err != nil {
			return err
		}
		w := math.Sqrt(p.aff.Weights[b.index][b.frameIdx])
		r[b.row] = w * (projected.X - observed.X)
		r[b.row+1] = w * (projected.Y - observed.Y)
	case blockLine:
		line := p.coll.Lines[b.index]
		// the first marker's lens chain undistorts the whole line.
		cam := p.coll.Markers[line.Markers[0]].Camera
		pts := make([]r2.Point, len(line.Markers))
		for i, m := range line.Markers {
			observed, err := ev.MarkerPosition(m, b.frame)
			if err != nil {
				return err
			}
			pts[i], err = ev.UndistortPoint(cam, b.frame, observed)
			if err != nil {
				return err
			}
		}
		for k := 1; k < len(pts)-1; k++ {
			r[b.row+k-1] = lineDistance(pts[k-1], pts[k+1], pts[k])
		}
	case blockStiffness:
		v, err := ev.AttributeValue(b.index, b.frame)
		if err != nil {
			return err
		}
		r[b.row] = (v - b.target) * b.scale
	case blockSmoothness:
		var sum, v float64
		for _, f := range b.window {
			wv, err := ev.AttributeValue(b.index, f)
			if err != nil {
				return err
			}
			if f == b.frame {
				v = wv
			}
			sum += wv
		}
		r[b.row] = (v - sum/float64(len(b.window))) * b.scale
	}
	return nil
}

// lineDistance is the signed perpendicular distance of p from the line through a and b.
func lineDistance(a, b, p r2.Point) float64 {
	d := b.Sub(a)
	n := d.Norm()
	if n == 0 {
		return p.Sub(a).Norm()
	}
	return d.Cross(p.Sub(a)) / n
}

// weights returns the IRLS row weights of r. Only marker rows are reweighted.
func (p *problem) weights(r []float64) []float64 {
	w := make([]float64, len(r))
	for i := range w {
		w[i] = 1
	}
	if !p.robust {
		return w
	}
	for _, b := range p.blocks[:p.markerBlocks()] {
		s := r[b.row]*r[b.row] + r[b.row+1]*r[b.row+1]
		rw := p.loss.weight(s)
		w[b.row] = rw
		w[b.row+1] = rw
	}
	return w
}

// cost is half the robust sum of squares of r.
func (p *problem) cost(r []float64) float64 {
	var total float64
	nMarker := p.markerBlocks()
	for bi, b := range p.blocks {
		var s float64
		for i := 0; i < b.size; i++ {
			s += r[b.row+i] * r[b.row+i]
		}
		if p.robust && bi < nMarker {
			s = p.loss.rho(s)
		}
		total += s
	}
	return total / 2
}
