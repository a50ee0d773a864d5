package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/Rajchodisetti/sensex-scalper/internal/strategylab"
)

func main() {
	log.SetFlags(0)
	var dataPath, rulesPath, outDir string
	var plotPNG bool
	flag.StringVar(&dataPath, "data", "data/historical_data.csv", "historical rows with a PnL column")
	flag.StringVar(&rulesPath, "rules", "config/strategies.yaml", "strategy rule file")
	flag.StringVar(&outDir, "out", "results", "directory for the summary CSV and plot")
	flag.BoolVar(&plotPNG, "plot", false, "write an average PnL bar chart")
	flag.Parse()

	sums, err := strategylab.Run(dataPath, rulesPath)
	if err != nil {
		log.Fatalf("strategy lab: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tTRADES\tACCURACY\tAVG PNL\tSHARPE\tMAX DD")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n", s.Strategy, s.TotalTrades, s.Accuracy, s.AvgPnL, s.Sharpe, s.MaxDrawdown)
	}
	tw.Flush()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalf("output dir: %v", err)
	}
	f, err := os.Create(filepath.Join(outDir, "strategy_summary.csv"))
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	defer f.Close()
	if err := strategylab.WriteSummaries(f, sums); err != nil {
		log.Fatalf("summary: %v", err)
	}

	if plotPNG {
		if err := strategylab.PlotAvgPnL(sums, filepath.Join(outDir, "avg_pnl_per_strategy.png")); err != nil {
			log.Printf("plot: %v", err)
		}
	}
}
