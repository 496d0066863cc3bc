// Package affects decides which solved attributes can change which residuals. Each marker's
// projection depends on everything upstream of the marker, its bundle and its camera; each
// attribute reaches everything downstream of it. An attribute affects a (marker, frame) pair
// when the two sets meet, the attribute can be solved and the marker is enabled at the frame.
package affects

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/logging"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

// MetadataKey is the node metadata key the affects relationship is written to.
const MetadataKey = "mmsolver_affects"

var (
	// ErrUnusedMarker is the warning for a marker no attribute affects.
	ErrUnusedMarker = errors.New("marker is not affected by any attribute")
	// ErrUnusedAttribute is the warning for an attribute that affects no marker.
	ErrUnusedAttribute = errors.New("attribute does not affect any marker")
)

// Result is the affects relationship of a collection.
//
// Matrix rows are the (marker, frame) pairs, marker major, followed by the (line, frame) pairs.
// Its columns are the collection's attributes.
type Result struct {
	Frames []int

	// MarkerAttributes lists, per marker, the attributes that can move its projected bundle.
	MarkerAttributes [][]int
	// LineAttributes lists, per line, the attributes that can move the undistorted positions of
	// its markers.
	LineAttributes [][]int
	// Enabled is, per marker and frame index, whether the marker is observed.
	Enabled [][]bool
	// Weights is, per marker and frame index, the marker weight.
	Weights [][]float64

	Matrix *Sparse

	UsedMarkers    []bool
	UsedLines      []bool
	UsedAttributes []bool

	Warnings []error
}

// MarkerRow is the matrix row of a marker at a frame index.
func (r *Result) MarkerRow(marker, frameIdx int) int {
	return marker*len(r.Frames) + frameIdx
}

// LineRow is the matrix row of a line at a frame index.
func (r *Result) LineRow(line, frameIdx int) int {
	return (len(r.MarkerAttributes)+line)*len(r.Frames) + frameIdx
}

// Affects reports whether attribute attr affects marker at frame index fi.
func (r *Result) Affects(attr, marker, frameIdx int) bool {
	return r.Matrix.At(r.MarkerRow(marker, frameIdx), attr)
}

// LineEnabled reports whether every marker of a line is enabled at frame index fi.
func (r *Result) LineEnabled(c *collection.Collection, line, frameIdx int) bool {
	for _, m := range c.Lines[line].Markers {
		if !r.Enabled[m][frameIdx] {
			return false
		}
	}
	return true
}

// Options control pruning.
type Options struct {
	RemoveUnusedMarkers    bool
	RemoveUnusedAttributes bool
}

type upstreamSets struct {
	marker map[string]bool
	line   map[string]bool
}

// Analyse computes the affects relationship. Marker enable and weight are read through ev.
func Analyse(
	ctx context.Context,
	s *scene.Scene,
	c *collection.Collection,
	ev scenegraph.Evaluator,
	opts Options,
	logger logging.Logger,
) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "affects::Analyse")
	defer span.End()

	g := s.DependencyGraph()
	r := &Result{
		Frames:           c.FrameNumbers(),
		MarkerAttributes: make([][]int, len(c.Markers)),
		LineAttributes:   make([][]int, len(c.Lines)),
		Enabled:          make([][]bool, len(c.Markers)),
		Weights:          make([][]float64, len(c.Markers)),
		UsedMarkers:      make([]bool, len(c.Markers)),
		UsedLines:        make([]bool, len(c.Lines)),
		UsedAttributes:   make([]bool, len(c.Attributes)),
	}

	upstream := make([]upstreamSets, len(c.Markers))
	downstream := make([]map[string]bool, len(c.Attributes))
	errs, groupCtx := errgroup.WithContext(ctx)
	errs.SetLimit(utils.ParallelFactor)
	for i, m := range c.Markers {
		i, m := i, m
		errs.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			cam := c.Cameras[m.Camera]
			start := []string{m.Node, cam.Shape}
			upstream[i].line = g.Upstream(start...)
			start = append(start, cam.Transform)
			if m.HasBundle() {
				start = append(start, c.Bundles[m.Bundle].Node)
			}
			upstream[i].marker = g.Upstream(start...)
			return nil
		})
	}
	for i, a := range c.Attributes {
		if !solvable(a) {
			continue
		}
		i, a := i, a
		errs.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			downstream[i] = g.Downstream(a.Name)
			return nil
		})
	}
	if err := errs.Wait(); err != nil {
		return nil, err
	}

	for m, marker := range c.Markers {
		for ai := range c.Attributes {
			if downstream[ai] == nil {
				continue
			}
			if marker.HasBundle() && intersects(downstream[ai], upstream[m].marker) {
				r.MarkerAttributes[m] = append(r.MarkerAttributes[m], ai)
			}
		}
		r.Enabled[m] = make([]bool, len(r.Frames))
		r.Weights[m] = make([]float64, len(r.Frames))
		for fi, f := range r.Frames {
			enabled, weight, err := ev.MarkerState(m, f)
			if err != nil {
				return nil, errors.Wrapf(err, "marker %q", marker.Node)
			}
			r.Enabled[m][fi] = enabled
			r.Weights[m][fi] = weight
		}
	}
	for l, line := range c.Lines {
		for ai := range c.Attributes {
			if downstream[ai] == nil {
				continue
			}
			for _, m := range line.Markers {
				if intersects(downstream[ai], upstream[m].line) {
					r.LineAttributes[l] = append(r.LineAttributes[l], ai)
					break
				}
			}
		}
	}

	columns := make([][]int, len(c.Attributes))
	numRows := (len(c.Markers) + len(c.Lines)) * len(r.Frames)
	for m := range c.Markers {
		for _, ai := range r.MarkerAttributes[m] {
			for fi := range r.Frames {
				if r.Enabled[m][fi] {
					columns[ai] = append(columns[ai], r.MarkerRow(m, fi))
				}
			}
		}
	}
	for l := range c.Lines {
		for _, ai := range r.LineAttributes[l] {
			for fi := range r.Frames {
				if r.LineEnabled(c, l, fi) {
					columns[ai] = append(columns[ai], r.LineRow(l, fi))
				}
			}
		}
	}
	for ai := range columns {
		sort.Ints(columns[ai])
	}
	r.Matrix = newSparse(numRows, columns)

	for ai := range c.Attributes {
		r.UsedAttributes[ai] = len(columns[ai]) > 0
	}
	rowColumns := r.Matrix.RowColumns()
	for l := range c.Lines {
		for fi := range r.Frames {
			if len(rowColumns[r.LineRow(l, fi)]) > 0 {
				r.UsedLines[l] = true
				break
			}
		}
	}
	for m := range c.Markers {
		for fi := range r.Frames {
			if len(rowColumns[r.MarkerRow(m, fi)]) > 0 {
				r.UsedMarkers[m] = true
				break
			}
		}
	}
	for l, line := range c.Lines {
		if r.UsedLines[l] {
			for _, m := range line.Markers {
				r.UsedMarkers[m] = true
			}
		}
	}

	for m, marker := range c.Markers {
		if !r.UsedMarkers[m] {
			err := errors.Wrapf(ErrUnusedMarker, "%q", marker.Node)
			r.Warnings = append(r.Warnings, err)
			if opts.RemoveUnusedMarkers {
				logger.Warnw("removing marker", "marker", marker.Node, "reason", ErrUnusedMarker.Error())
			}
		}
	}
	for ai, a := range c.Attributes {
		if !r.UsedAttributes[ai] {
			reason := ErrUnusedAttribute.Error()
			if a.State == collection.AttrLocked || a.State == collection.AttrInvalid {
				reason = "attribute is " + a.State.String()
			}
			r.Warnings = append(r.Warnings, errors.Wrapf(ErrUnusedAttribute, "%q (%s)", a.Name, reason))
			if opts.RemoveUnusedAttributes {
				logger.Warnw("removing attribute", "attribute", a.Name, "reason", reason)
			}
		}
	}
	if !opts.RemoveUnusedMarkers {
		for m := range r.UsedMarkers {
			r.UsedMarkers[m] = true
		}
	}
	if !opts.RemoveUnusedAttributes {
		for ai, a := range c.Attributes {
			r.UsedAttributes[ai] = a.State != collection.AttrInvalid
		}
	}
	return r, nil
}

func solvable(a collection.Attribute) bool {
	return a.State == collection.AttrStatic || a.State == collection.AttrAnimated
}

func intersects(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

// Names returns the attribute names affecting each marker through its bundle or its lines.
func (r *Result) Names(c *collection.Collection) map[string][]string {
	out := make(map[string][]string, len(c.Markers))
	for m, marker := range c.Markers {
		attrs := map[int]bool{}
		for _, ai := range r.MarkerAttributes[m] {
			attrs[ai] = true
		}
		for _, l := range c.LinesOf(m) {
			for _, ai := range r.LineAttributes[l] {
				attrs[ai] = true
			}
		}
		names := []string{}
		for ai := range c.Attributes {
			if attrs[ai] {
				names = append(names, c.Attributes[ai].Name)
			}
		}
		out[marker.Node] = names
	}
	return out
}

// WriteMetadata stores, on every marker node, the comma separated names of the attributes that
// affect it.
func (r *Result) WriteMetadata(s *scene.Scene, c *collection.Collection) error {
	names := r.Names(c)
	for _, marker := range c.Markers {
		if err := s.SetMetadata(marker.Node, MetadataKey, strings.Join(names[marker.Node], ",")); err != nil {
			return err
		}
	}
	return nil
}
