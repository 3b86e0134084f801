package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewStatePlot creates a time-series plot of column col of the true,
// measured and estimated trajectories sampled at period dt. Either
// measure or estimate may be nil to omit that series.
// It returns error if truth is nil, col is out of range or the plotters
// fail to be created.
func NewStatePlot(truth, measure, estimate *mat.Dense, col int, dt float64, name string) (*plot.Plot, error) {
	if truth == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	if _, c := truth.Dims(); col < 0 || col >= c {
		return nil, fmt.Errorf("invalid data column: %d", col)
	}

	p := plot.New()

	p.Title.Text = name
	p.X.Label.Text = "t [s]"
	p.Y.Label.Text = name

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthLine, err := plotter.NewLine(makePoints(truth, col, dt))
	if err != nil {
		return nil, err
	}
	truthLine.Color = color.RGBA{R: 255, B: 128, A: 255}

	p.Add(truthLine)
	p.Legend.Add("true", truthLine)

	if measure != nil {
		measScatter, err := plotter.NewScatter(makePoints(measure, col, dt))
		if err != nil {
			return nil, err
		}
		measScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
		measScatter.GlyphStyle.Radius = vg.Points(2)

		p.Add(measScatter)
		p.Legend.Add("measurement", measScatter)
	}

	if estimate != nil {
		estScatter, err := plotter.NewScatter(makePoints(estimate, col, dt))
		if err != nil {
			return nil, fmt.Errorf("failed to create scatter: %v", err)
		}
		estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169}
		estScatter.Shape = draw.CrossGlyph{}
		estScatter.GlyphStyle.Radius = vg.Points(2)

		p.Add(estScatter)
		p.Legend.Add("estimated", estScatter)
	}

	return p, nil
}

// NewTrackPlot creates an X-Y plot of the rear wheel ground contact track
// from a matrix of auxiliary states whose first two columns are the
// contact point coordinates.
// It returns error if aux is nil or has fewer than 2 columns.
func NewTrackPlot(aux *mat.Dense) (*plot.Plot, error) {
	if aux == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}
	if _, c := aux.Dims(); c < 2 {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "Ground track"
	p.X.Label.Text = "x [m]"
	p.Y.Label.Text = "y [m]"

	r, _ := aux.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = aux.At(i, 0)
		pts[i].Y = aux.At(i, 1)
	}

	track, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	track.Color = color.RGBA{B: 255, A: 255}

	p.Add(track)

	return p, nil
}

func makePoints(m *mat.Dense, col int, dt float64) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = float64(i) * dt
		pts[i].Y = m.At(i, col)
	}

	return pts
}
