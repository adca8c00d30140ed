package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteReport renders an interactive HTML report of the run: line charts for
// each diagnostic trace and a scatter of the final particle cloud (first two
// dimensions).
func WriteReport(w io.Writer, title string, t Traces) error {
	page := components.NewPage()
	page.PageTitle = title

	page.AddCharts(
		traceLine("ESS", t.ESS),
		traceLine("Phi", t.Phi),
		traceLine("Acceptance Rate", t.AcceptanceRate),
		traceLine("Log Likelihood", t.LogLikelihood),
	)

	if cloud := particleScatter(t.FinalPositions); cloud != nil {
		page.AddCharts(cloud)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func traceLine(name string, values []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: name}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
	)

	x := make([]int, len(values))
	y := make([]opts.LineData, len(values))
	for i, v := range values {
		x[i] = i
		y[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(x).AddSeries(name, y)
	return line
}

func particleScatter(positions [][]float64) *charts.Scatter {
	if len(positions) == 0 || len(positions[0]) < 2 {
		return nil
	}

	data := make([]opts.ScatterData, 0, len(positions))
	for _, p := range positions {
		data = append(data, opts.ScatterData{Value: []interface{}{p[0], p[1]}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Final Particle Cloud", Subtitle: fmt.Sprintf("particles=%d", len(positions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x0"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "x1"}),
	)
	scatter.AddSeries("particles", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}
