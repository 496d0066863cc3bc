package solver

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/mmsolver/affects"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/scene"
	"go.viam.com/mmsolver/scenegraph"
)

// Decisions are the fixed interpretations the solver applies where a scene is ambiguous. They
// are reported with every result.
var Decisions = []string{
	"markers project through the lens chain of their own camera",
	"lines undistort through the lens chain of their first marker's camera",
	"rolling shutter distance is an opaque scalar",
	"solved keys use linear tangents",
}

// ActionResult is the outcome of one sub-solve.
type ActionResult struct {
	Name          string
	Frames        []int
	NumParameters int
	NumErrors     int
	Iterations    int
	Evaluations   int
	ErrorInitial  float64
	ErrorFinal    float64
	Reason        Reason
}

// MarkerDeviation is the pixel distance between a marker and its projected bundle.
type MarkerDeviation struct {
	Marker string
	// Frames and Deviation are parallel, over the frames the marker is enabled.
	Frames       []int
	Deviation    []float64
	Average      float64
	Maximum      float64
	MaximumFrame int
}

// FrameDeviation aggregates the marker deviations of one frame.
type FrameDeviation struct {
	Frame      int
	NumMarkers int
	Average    float64
	Maximum    float64
}

// Result is the report of a solve.
type Result struct {
	RunID string
	// Solved is false when only statistics were requested.
	Solved  bool
	Success bool
	Status  Status
	Reason  Reason

	Iterations  int
	Evaluations int
	// ErrorInitial and ErrorFinal are the costs, half the sum of squared residuals, of the first
	// and last sub-solve.
	ErrorInitial float64
	ErrorFinal   float64
	// ErrorFinalAvg and ErrorFinalMax are marker deviations in pixels.
	ErrorFinalAvg float64
	ErrorFinalMax float64

	NumParameters int
	NumErrors     int

	Actions []ActionResult
	Markers []MarkerDeviation
	Frames  []FrameDeviation

	// Statistics holds the rendered tables of the requested statistics sections.
	Statistics string
	Warnings   error
	Duration   time.Duration
	Decisions  []string
}

// KeyValues renders the result as key=value strings.
func (r *Result) KeyValues() []string {
	ff := func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	success := "0"
	if r.Success {
		success = "1"
	}
	kv := [][2]string{
		{"run_id", r.RunID},
		{"success", success},
		{"reason_num", strconv.Itoa(int(r.Reason))},
		{"reason_string", r.Reason.String()},
		{"status", r.Status.String()},
		{"iteration_num", strconv.Itoa(r.Iterations)},
		{"iteration_function_num", strconv.Itoa(r.Evaluations)},
		{"error_initial", ff(r.ErrorInitial)},
		{"error_final", ff(r.ErrorFinal)},
		{"error_final_avg", ff(r.ErrorFinalAvg)},
		{"error_final_max", ff(r.ErrorFinalMax)},
		{"numberOfParameters", strconv.Itoa(r.NumParameters)},
		{"numberOfErrors", strconv.Itoa(r.NumErrors)},
		{"timer_wall", ff(r.Duration.Seconds())},
	}
	out := make([]string, 0, len(kv)+len(r.Frames))
	for _, p := range kv {
		out = append(out, p[0]+"="+p[1])
	}
	for _, f := range r.Frames {
		out = append(out, fmt.Sprintf("error_per_frame=%d#%s", f.Frame, ff(f.Average)))
	}
	for _, w := range multierr.Errors(r.Warnings) {
		out = append(out, "warning="+w.Error())
	}
	return out
}

// merge folds a sub-solve into the result. The reason of the last sub-solve that did not
// succeed wins, otherwise the last reason.
func (r *Result) merge(a ActionResult) {
	if len(r.Actions) == 0 {
		r.ErrorInitial = a.ErrorInitial
	}
	r.Actions = append(r.Actions, a)
	r.Iterations += a.Iterations
	r.Evaluations += a.Evaluations
	r.ErrorFinal = a.ErrorFinal
	if r.Reason.Status() == StatusSuccess || r.Reason == ReasonNone {
		r.Reason = a.Reason
	}
}

// deviation measures every used marker with a bundle at every frame it is enabled.
func deviation(ev scenegraph.Evaluator, c *collection.Collection, aff *affects.Result) ([]MarkerDeviation, []FrameDeviation, error) {
	var markers []MarkerDeviation
	perFrame := map[int][]float64{}
	for m, marker := range c.Markers {
		if !aff.UsedMarkers[m] || !marker.HasBundle() {
			continue
		}
		md := MarkerDeviation{Marker: marker.Node}
		for fi, f := range aff.Frames {
			if !aff.Enabled[m][fi] {
				continue
			}
			projected, err := ev.ProjectBundle(marker.Camera, marker.Bundle, f)
			if err != nil {
				return nil, nil, err
			}
			observed, err := ev.MarkerPosition(m, f)
			if err != nil {
				return nil, nil, err
			}
			shape, err := ev.Shape(marker.Camera, f)
			if err != nil {
				return nil, nil, err
			}
			d := shape.ToPixels(projected.Sub(observed).Norm())
			md.Frames = append(md.Frames, f)
			md.Deviation = append(md.Deviation, d)
			perFrame[f] = append(perFrame[f], d)
			if len(md.Frames) == 1 || d > md.Maximum {
				md.Maximum, md.MaximumFrame = d, f
			}
		}
		if len(md.Deviation) == 0 {
			continue
		}
		md.Average, _ = stats.Mean(md.Deviation)
		markers = append(markers, md)
	}

	frames := make([]FrameDeviation, 0, len(perFrame))
	for f, ds := range perFrame {
		mean, _ := stats.Mean(ds)
		maximum, _ := stats.Max(ds)
		frames = append(frames, FrameDeviation{Frame: f, NumMarkers: len(ds), Average: mean, Maximum: maximum})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Frame < frames[j].Frame })
	return markers, frames, nil
}

// summarize sets the pixel error summary from the marker deviations.
func (r *Result) summarize() {
	var all []float64
	for _, md := range r.Markers {
		all = append(all, md.Deviation...)
	}
	if len(all) == 0 {
		return
	}
	r.ErrorFinalAvg, _ = stats.Mean(all)
	r.ErrorFinalMax, _ = stats.Max(all)
}

// writeDeviation stores the deviation on marker nodes and the solver summary on the collection
// node.
func writeDeviation(s *scene.Scene, c *collection.Collection, r *Result) error {
	var errs error
	for _, md := range r.Markers {
		for i, f := range md.Frames {
			errs = multierr.Append(errs, s.SetKey(md.Marker+".deviation", float64(f), md.Deviation[i], scene.TangentLinear))
		}
		errs = multierr.Combine(
			errs,
			setStatic(s, md.Marker+".averageDeviation", md.Average),
			setStatic(s, md.Marker+".maximumDeviation", md.Maximum),
			setStatic(s, md.Marker+".maximumDeviationFrame", float64(md.MaximumFrame)),
		)
	}
	if c.Name == "" {
		return errs
	}
	success := 0.0
	if r.Success {
		success = 1
	}
	maxFrame := 0
	maximum := math.Inf(-1)
	for _, f := range r.Frames {
		if f.Maximum > maximum {
			maximum, maxFrame = f.Maximum, f.Frame
		}
	}
	errs = multierr.Combine(
		errs,
		setStatic(s, c.Name+".solverSuccess", success),
		setStatic(s, c.Name+".solverIterations", float64(r.Iterations)),
		setStatic(s, c.Name+".errorFinal", r.ErrorFinal),
		setStatic(s, c.Name+".averageDeviation", r.ErrorFinalAvg),
		setStatic(s, c.Name+".maximumDeviation", r.ErrorFinalMax),
		setStatic(s, c.Name+".maximumDeviationFrame", float64(maxFrame)),
	)
	return errors.Wrap(errs, "writing deviation")
}

func setStatic(s *scene.Scene, path string, v float64) error {
	return s.Set(path, s.CurrentTime(), v)
}
