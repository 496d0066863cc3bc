package cli

import (
	"fmt"
	"io"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"go.viam.com/mmsolver/solver"
)

// writeDeviationPlot draws the average and maximum marker deviation of every solved frame. The
// image format follows the file extension.
func writeDeviationPlot(res *solver.Result, path string) error {
	if len(res.Frames) == 0 {
		return errors.New("the solve has no per frame deviation to plot")
	}
	avg := make(plotter.XYs, len(res.Frames))
	maxDev := make(plotter.XYs, len(res.Frames))
	for i, f := range res.Frames {
		avg[i] = plotter.XY{X: float64(f.Frame), Y: f.Average}
		maxDev[i] = plotter.XY{X: float64(f.Frame), Y: f.Maximum}
	}

	p := plot.New()
	p.Title.Text = "deviation " + res.RunID
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "pixels"
	if err := plotutil.AddLinePoints(p, "average", avg, "maximum", maxDev); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// printDeviationHistogram prints the distribution of every marker deviation, over all markers and
// frames, as a unicode bar chart.
func printDeviationHistogram(w io.Writer, res *solver.Result, bins int) error {
	var devs []float64
	for _, m := range res.Markers {
		devs = append(devs, m.Deviation...)
	}
	if len(devs) == 0 {
		return errors.New("the solve has no marker deviation to chart")
	}
	hist := histogram.Hist(bins, devs)
	return histogram.Fprintf(w, hist, histogram.Linear(40), func(v float64) string {
		return fmt.Sprintf("%.3gpx", v)
	})
}
