package assim

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewTrajectoryPlot renders the filtered and unfiltered moisture trajectories
// of one fuel class together with a two-sigma band around the filtered mean
// and the assimilated observations.
// It returns error if the trajectory is empty or the class index is out of
// range. This can be due to either of the following conditions:
// * the trajectory has not been produced by a completed run
// * the class index does not address a moisture component
func NewTrajectoryPlot(traj Trajectory, class int, obs []Observation) (*plot.Plot, error) {
	if len(traj) == 0 {
		return nil, fmt.Errorf("empty trajectory")
	}

	// the moisture block size comes from the per-class branch record, so
	// perturbation components of the extended state are rejected
	nk := traj[0].Filtered.Len()
	for _, s := range traj {
		if len(s.ModelIDs) > 0 {
			nk = len(s.ModelIDs)
			break
		}
	}

	if class < 0 || class >= nk {
		return nil, fmt.Errorf("invalid fuel class: %d", class)
	}

	p := plot.New()

	p.Title.Text = "Fuel moisture"
	p.X.Label.Text = "Time [h]"
	p.Y.Label.Text = "Moisture content"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	filtered := make(plotter.XYs, len(traj))
	unfiltered := make(plotter.XYs, len(traj))
	upper := make(plotter.XYs, len(traj))
	lower := make(plotter.XYs, len(traj))

	for i, s := range traj {
		sd := math.Sqrt(math.Max(s.Cov.At(class, class), 0.0))
		filtered[i].X, filtered[i].Y = s.Time, s.Filtered.AtVec(class)
		unfiltered[i].X, unfiltered[i].Y = s.Time, s.Unfiltered.AtVec(class)
		upper[i].X, upper[i].Y = s.Time, s.Filtered.AtVec(class)+2.0*sd
		lower[i].X, lower[i].Y = s.Time, s.Filtered.AtVec(class)-2.0*sd
	}

	filteredLine, err := plotter.NewLine(filtered)
	if err != nil {
		return nil, err
	}
	filteredLine.Color = color.RGBA{R: 255, B: 128, A: 255}

	p.Add(filteredLine)
	p.Legend.Add("filtered", filteredLine)

	unfilteredLine, err := plotter.NewLine(unfiltered)
	if err != nil {
		return nil, err
	}
	unfilteredLine.Color = color.RGBA{G: 255, A: 128}

	p.Add(unfilteredLine)
	p.Legend.Add("unfiltered", unfilteredLine)

	for _, band := range []plotter.XYs{upper, lower} {
		line, err := plotter.NewLine(band)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 169, G: 169, B: 169}
		line.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(line)
	}

	if len(obs) > 0 {
		pts := make(plotter.XYs, len(obs))
		for i, o := range obs {
			pts[i].X, pts[i].Y = o.Time, o.Value.AtVec(class)
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create scatter: %v", err)
		}
		scatter.GlyphStyle.Color = color.RGBA{B: 255, A: 255}
		scatter.Shape = draw.CrossGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(3)

		p.Add(scatter)
		p.Legend.Add("observations", scatter)
	}

	return p, nil
}
