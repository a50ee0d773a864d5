// Package strategylab backtests rule-file strategies against a table of
// historical rows that already carry a realized PnL column.
package strategylab

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/report"
	"github.com/Rajchodisetti/sensex-scalper/internal/rules"
)

// Row is one line of historical data. Values holds every numeric column
// under its header spelling.
type Row struct {
	Line   int
	Values map[string]float64
	PnL    float64
}

// Summary is one strategy's result.
type Summary struct {
	Strategy    string  `json:"strategy"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Accuracy    float64 `json:"accuracy"` // wins / trades
	TotalPnL    float64 `json:"total_pnl"`
	AvgPnL      float64 `json:"avg_pnl"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      []Row   `json:"-"`
}

// LoadData reads a CSV with a header row. A PnL column (any case) is
// required; cells that are not numbers are ignored.
func LoadData(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &config.ConfigError{Path: path, Err: err}
	}
	defer f.Close()
	rows, err := ReadData(f)
	if err != nil {
		return nil, &config.ConfigError{Path: path, Err: err}
	}
	return rows, nil
}

func ReadData(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pnlCol := -1
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if strings.EqualFold(header[i], "pnl") {
			pnlCol = i
		}
	}
	if pnlCol < 0 {
		return nil, fmt.Errorf("header has no PnL column")
	}

	var out []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		pnl, err := strconv.ParseFloat(strings.TrimSpace(rec[pnlCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: PnL: %w", line, err)
		}
		row := Row{Line: line, PnL: pnl, Values: make(map[string]float64, len(rec))}
		for i, cell := range rec {
			if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
				row.Values[header[i]] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Backtest selects the rows where every trigger holds and scores them as
// trades in row order.
func Backtest(s rules.Strategy, rows []Row) Summary {
	sum := Summary{Strategy: s.Name}
	var pnls []float64
	for _, row := range rows {
		if !rules.Match(s.Triggers, row.Values) {
			continue
		}
		sum.Trades = append(sum.Trades, row)
		pnls = append(pnls, row.PnL)
		sum.TotalPnL += row.PnL
		if row.PnL > 0 {
			sum.Wins++
		}
	}
	sum.TotalTrades = len(pnls)
	if sum.TotalTrades == 0 {
		return sum
	}
	sum.Accuracy = float64(sum.Wins) / float64(sum.TotalTrades)
	sum.AvgPnL = sum.TotalPnL / float64(sum.TotalTrades)
	sum.Sharpe = report.Sharpe(pnls)

	cum := make([]float64, len(pnls))
	run := 0.0
	for i, p := range pnls {
		run += p
		cum[i] = run
	}
	sum.MaxDrawdown = report.MaxDrawdown(cum)
	return sum
}

// Run loads both files and backtests every active strategy in file order.
func Run(dataPath, rulesPath string) ([]Summary, error) {
	strategies, err := rules.LoadFile(rulesPath)
	if err != nil {
		return nil, &config.ConfigError{Path: rulesPath, Reason: "invalid rule file", Err: err}
	}
	rows, err := LoadData(dataPath)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(strategies))
	for _, s := range strategies {
		sum := Backtest(s, rows)
		observ.Log("strategy_backtested", map[string]any{
			"strategy":  sum.Strategy,
			"trades":    sum.TotalTrades,
			"accuracy":  sum.Accuracy,
			"total_pnl": sum.TotalPnL,
		})
		out = append(out, sum)
	}
	return out, nil
}

// WriteSummaries writes one CSV line per strategy.
func WriteSummaries(w io.Writer, sums []Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"strategy", "total_trades", "accuracy", "avg_pnl", "win_rate", "sharpe", "max_drawdown"}); err != nil {
		return err
	}
	for _, s := range sums {
		rec := []string{
			s.Strategy,
			strconv.Itoa(s.TotalTrades),
			strconv.FormatFloat(s.Accuracy, 'f', 2, 64),
			strconv.FormatFloat(s.AvgPnL, 'f', 2, 64),
			fmt.Sprintf("%.0f%%", s.Accuracy*100),
			strconv.FormatFloat(s.Sharpe, 'f', 2, 64),
			strconv.FormatFloat(s.MaxDrawdown, 'f', 2, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
