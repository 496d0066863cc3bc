package solver

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"go.viam.com/mmsolver/affects"
	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/scenegraph"
)

func inputsTable(c *collection.Collection, aff *affects.Result, numParameters, numErrors int) string {
	t := table.NewWriter()
	t.SetTitle("inputs")
	t.AppendHeader(table.Row{"Item", "Count", "Used"})
	count := func(used []bool) int {
		n := 0
		for _, u := range used {
			if u {
				n++
			}
		}
		return n
	}
	t.AppendRows([]table.Row{
		{"cameras", len(c.Cameras), ""},
		{"markers", len(c.Markers), count(aff.UsedMarkers)},
		{"bundles", len(c.Bundles), ""},
		{"lines", len(c.Lines), count(aff.UsedLines)},
		{"attributes", len(c.Attributes), count(aff.UsedAttributes)},
		{"frames", len(c.Frames), ""},
		{"parameters", numParameters, ""},
		{"errors", numErrors, ""},
	})
	return t.Render()
}

// camerasTable describes each camera at the first solved frame.
func camerasTable(ev scenegraph.Evaluator, c *collection.Collection) (string, error) {
	t := table.NewWriter()
	t.SetTitle("cameras")
	t.AppendHeader(table.Row{"Camera", "Focal (mm)", "Film back (mm)", "Angle of view", "Image (px)", "Lenses"})
	frames := c.FrameNumbers()
	if len(frames) == 0 {
		return t.Render(), nil
	}
	for ci, cam := range c.Cameras {
		s, err := ev.Shape(ci, frames[0])
		if err != nil {
			return "", err
		}
		w, h := s.EffectiveFilmBack()
		hAOV, vAOV := s.AngleOfView()
		t.AppendRow(table.Row{
			cam.Transform,
			fmt.Sprintf("%.2f", s.FocalLength),
			fmt.Sprintf("%.2f x %.2f", w, h),
			fmt.Sprintf("%.1f x %.1f", hAOV, vAOV),
			fmt.Sprintf("%.0f x %.0f", s.ImageWidth, s.ImageHeight),
			len(cam.Lenses),
		})
	}
	return t.Render(), nil
}

func affectsTable(c *collection.Collection, aff *affects.Result) string {
	t := table.NewWriter()
	t.SetTitle("affects")
	t.AppendHeader(table.Row{"#", "Marker", "Used", "Attributes"})
	names := aff.Names(c)
	for m, marker := range c.Markers {
		t.AppendRow(table.Row{m, marker.Node, aff.UsedMarkers[m], strings.Join(names[marker.Node], ", ")})
	}
	for l, line := range c.Lines {
		var attrs []string
		for _, ai := range aff.LineAttributes[l] {
			attrs = append(attrs, c.Attributes[ai].Name)
		}
		t.AppendRow(table.Row{fmt.Sprintf("line %d", l), line.Name, aff.UsedLines[l], strings.Join(attrs, ", ")})
	}
	return t.Render()
}

func deviationTable(r *Result) string {
	t := table.NewWriter()
	t.SetTitle("deviation (pixels)")
	t.AppendHeader(table.Row{"Marker", "Frames", "Average", "Maximum", "Maximum frame"})
	for _, md := range r.Markers {
		t.AppendRow(table.Row{
			md.Marker,
			len(md.Frames),
			fmt.Sprintf("%.4f", md.Average),
			fmt.Sprintf("%.4f", md.Maximum),
			md.MaximumFrame,
		})
	}
	t.AppendFooter(table.Row{"all", "", fmt.Sprintf("%.4f", r.ErrorFinalAvg), fmt.Sprintf("%.4f", r.ErrorFinalMax), ""})
	return t.Render()
}
