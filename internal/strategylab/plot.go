package strategylab

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotAvgPnL draws one bar per strategy.
func PlotAvgPnL(sums []Summary, path string) error {
	if len(sums) == 0 {
		return fmt.Errorf("plot strategies: nothing to plot")
	}
	vals := make(plotter.Values, len(sums))
	names := make([]string, len(sums))
	for i, s := range sums {
		vals[i] = s.AvgPnL
		names[i] = s.Strategy
	}

	p := plot.New()
	p.Title.Text = "Average PnL per strategy"
	p.Y.Label.Text = "avg PnL"
	bars, err := plotter.NewBarChart(vals, vg.Points(20))
	if err != nil {
		return fmt.Errorf("plot strategies: %w", err)
	}
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(vg.Length(2+len(sums))*vg.Inch, 4*vg.Inch, path)
}
