package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
)

// PlotEquity renders cumulative P&L by exit time. The format follows the
// file extension (png, svg, pdf).
func PlotEquity(records []lifecycle.ClosedTradeRecord, path string) error {
	if len(records) == 0 {
		return fmt.Errorf("plot equity: no trades")
	}
	p := plot.New()
	p.Title.Text = "Equity curve"
	p.X.Label.Text = "exit time"
	p.Y.Label.Text = "cumulative P&L"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02\n15:04"}

	curve := EquityCurve(records)
	pts := make(plotter.XYs, len(curve))
	for i, v := range curve {
		pts[i].X = float64(records[i].ExitTime.Unix())
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("plot equity: %w", err)
	}
	p.Add(line, plotter.NewGrid())

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
