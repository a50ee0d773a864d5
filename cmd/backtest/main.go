package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/engine"
	"github.com/Rajchodisetti/sensex-scalper/internal/feed"
	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/ledger"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/report"
)

func main() {
	log.SetFlags(0)
	var (
		cfgPath   string
		dataPath  string
		outDir    string
		seed      int64
		steps     int
		startDay  string
		basePrice float64
		plotPNG   bool
		upload    bool
		quiet     bool
	)
	flag.StringVar(&cfgPath, "config", "", "config path (defaults apply when empty)")
	flag.StringVar(&dataPath, "data", "", "tick file (.csv or .json); simulated when empty")
	flag.StringVar(&outDir, "out", "results", "directory for report, ledger and plot")
	flag.Int64Var(&seed, "seed", 42, "simulator seed")
	flag.IntVar(&steps, "steps", 375, "simulated ticks")
	flag.StringVar(&startDay, "date", "2024-03-04", "simulated session date (YYYY-MM-DD)")
	flag.Float64Var(&basePrice, "base", 80000, "simulated starting price")
	flag.BoolVar(&plotPNG, "plot", false, "write an equity curve PNG")
	flag.BoolVar(&upload, "upload", false, "upload artifacts to report.gcs_bucket")
	flag.BoolVar(&quiet, "quiet", false, "discard per-tick logs")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	cfg.ApplyEnv()
	cfg.Mode = "backtest"

	if quiet {
		observ.SetOutput(io.Discard)
	}

	series, err := loadSeries(cfg, dataPath, seed, steps, startDay, basePrice)
	if err != nil {
		log.Fatalf("load ticks: %v", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(outDir, runID)
	sink, err := ledger.NewJSONL(filepath.Join(runDir, "closed_trades.jsonl"))
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer sink.Close()

	eng, err := engine.New(cfg, engine.Options{Ledger: sink})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	observ.Log("backtest_start", map[string]any{"run_id": runID, "ticks": len(series), "source": sourceName(dataPath)})

	ctx := context.Background()
	rep, err := eng.Replay(ctx, feed.NewSlice(series))
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	body, err := rep.JSON()
	if err != nil {
		log.Fatalf("encode report: %v", err)
	}
	reportPath := filepath.Join(runDir, "report.json")
	if err := os.WriteFile(reportPath, body, 0644); err != nil {
		log.Fatalf("write report: %v", err)
	}
	artifacts := []string{reportPath, filepath.Join(runDir, "closed_trades.jsonl")}

	if plotPNG && rep.TotalTrades > 0 {
		png := filepath.Join(runDir, "equity.png")
		if cfg.Report.PlotPath != "" {
			png = cfg.Report.PlotPath
		}
		if err := report.PlotEquity(eng.Trades(), png); err != nil {
			log.Printf("plot: %v", err)
		} else {
			artifacts = append(artifacts, png)
		}
	}

	if upload {
		if cfg.Report.GCSBucket == "" {
			log.Fatalf("upload: report.gcs_bucket is not set")
		}
		up := report.NewUploader(cfg.Report.GCSBucket, cfg.Report.GCSPrefix)
		if err := up.Upload(ctx, runID, artifacts...); err != nil {
			log.Fatalf("upload: %v", err)
		}
	}

	fmt.Println(string(body))
	printSummary(rep)
}

func loadSeries(cfg config.Root, path string, seed int64, steps int, day string, base float64) ([]indicator.Observation, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return feed.LoadCSV(path)
	case ".json":
		return feed.LoadJSON(path)
	case "":
		if path != "" {
			return nil, fmt.Errorf("%s: unknown extension", path)
		}
	default:
		return nil, fmt.Errorf("%s: unknown extension", path)
	}

	date, err := time.ParseInLocation("2006-01-02", day, cfg.Session.Location())
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	open, err := config.ParseClock(cfg.Session.Open)
	if err != nil {
		return nil, err
	}
	return feed.Simulate(feed.SimConfig{
		Seed:      seed,
		Start:     date.Add(open),
		Steps:     steps,
		Interval:  time.Minute,
		BasePrice: base,
		Strikes:   5,
	}), nil
}

func sourceName(path string) string {
	if path == "" {
		return "simulated"
	}
	return path
}

func printSummary(r report.PerformanceReport) {
	w := os.Stderr
	fmt.Fprintf(w, "\ntrades %d  win rate %.1f%%  total P&L %.2f  return %.2f%%\n",
		r.TotalTrades, r.WinRate*100, r.TotalPnL, r.TotalReturnPct)
	fmt.Fprintf(w, "sharpe %.2f  max drawdown %.2f  open at end %d\n", r.Sharpe, r.MaxDrawdown, r.OpenPositions)
	for _, name := range r.Tiers() {
		t := r.ByTier[name]
		fmt.Fprintf(w, "  %-14s trades %3d  win %.0f%%  pnl %10.2f\n", name, t.Trades, t.WinRate*100, t.TotalPnL)
	}
	fmt.Fprintf(w, "recommendation: %s\n", r.Recommendation)
}
