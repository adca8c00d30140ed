// Package monitor renders post-run diagnostics: PNG trace plots of the
// sampler's per-iteration series and an interactive HTML report.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/particlefield/smcnuts/internal/smc"
)

// plotPalette cycles for per-dimension series in the mean plot.
var plotPalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
}

func plotColor(i int) color.Color { return plotPalette[i%len(plotPalette)] }

// Traces is the plottable subset of a finished sampler run.
type Traces struct {
	ESS            []float64
	Phi            []float64
	AcceptanceRate []float64
	LogLikelihood  []float64
	Mean           [][]float64 // (K+1, D)
	FinalPositions [][]float64 // (N, D), for the particle-cloud scatter
}

// Collect extracts the diagnostic traces from a sampler after Sample has
// returned.
func Collect(s *smc.Sampler) Traces {
	p := s.Particles()
	return Traces{
		ESS:            s.ESS,
		Phi:            s.Phi,
		AcceptanceRate: s.AcceptanceRate,
		LogLikelihood:  s.LogLikelihood,
		Mean:           s.MeanEstimate,
		FinalPositions: p.X,
	}
}

// TracePlotter writes PNG plots of run diagnostics into an output
// directory.
type TracePlotter struct {
	outputDir string
}

// NewTracePlotter creates the output directory if needed.
func NewTracePlotter(outputDir string) (*TracePlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &TracePlotter{outputDir: outputDir}, nil
}

// GeneratePlots writes one PNG per diagnostic series plus a per-dimension
// mean-estimate plot. Returns the number of plots written.
func (tp *TracePlotter) GeneratePlots(t Traces) (int, error) {
	series := []struct {
		name   string
		yLabel string
		values []float64
	}{
		{"ess", "ESS", t.ESS},
		{"phi", "Phi", t.Phi},
		{"acceptance", "Acceptance Rate", t.AcceptanceRate},
		{"log_likelihood", "Log Likelihood", t.LogLikelihood},
	}

	count := 0
	for _, s := range series {
		if len(s.values) == 0 {
			continue
		}
		if err := tp.lineplot(s.name, s.yLabel, s.values); err != nil {
			return count, fmt.Errorf("%s: %w", s.name, err)
		}
		count++
	}

	if len(t.Mean) > 0 {
		if err := tp.meanPlot(t.Mean); err != nil {
			return count, fmt.Errorf("mean: %w", err)
		}
		count++
	}

	return count, nil
}

func (tp *TracePlotter) lineplot(name, yLabel string, values []float64) error {
	p := plot.New()
	p.Title.Text = yLabel + " per Iteration"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, filepath.Join(tp.outputDir, name+".png"))
}

func (tp *TracePlotter) meanPlot(mean [][]float64) error {
	p := plot.New()
	p.Title.Text = "Mean Estimate per Iteration"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Mean"

	dims := len(mean[0])
	for d := 0; d < dims; d++ {
		pts := make(plotter.XYs, len(mean))
		for k := range mean {
			pts[k] = plotter.XY{X: float64(k), Y: mean[k][d]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotColor(d)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("dim %d", d), line)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, filepath.Join(tp.outputDir, "mean.png"))
}
