package feed

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
)

// LoadCSV reads `timestamp,price,volume[,oi_<strike>...]` with a header row.
// Timestamps are RFC3339 or unix seconds. Rows are returned sorted by time.
func LoadCSV(path string) ([]indicator.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func ReadCSV(r io.Reader) ([]indicator.Observation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := map[string]int{}
	strikes := map[int]int{} // column -> strike
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		col[name] = i
		if s, ok := strings.CutPrefix(name, "oi_"); ok {
			strike, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("header %q: bad strike", h)
			}
			strikes[i] = strike
		}
	}
	tsCol, ok1 := col["timestamp"]
	priceCol, ok2 := col["price"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("header needs timestamp and price columns")
	}
	volCol, hasVol := col["volume"]

	var out []indicator.Observation
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
		ts, err := parseTime(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(rec[priceCol], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: price: %w", line, err)
		}
		obs := indicator.Observation{Timestamp: ts, Price: price}
		if hasVol && rec[volCol] != "" {
			if obs.Volume, err = strconv.ParseFloat(rec[volCol], 64); err != nil {
				return nil, fmt.Errorf("line %d: volume: %w", line, err)
			}
		}
		for i, strike := range strikes {
			if rec[i] == "" {
				continue
			}
			oi, err := strconv.ParseInt(rec[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: oi_%d: %w", line, strike, err)
			}
			if obs.OpenInterest == nil {
				obs.OpenInterest = map[int]int64{}
			}
			obs.OpenInterest[strike] = oi
		}
		out = append(out, obs)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unsupported format", s)
}

type fixture struct {
	Ticks []indicator.Observation `json:"ticks"`
}

// LoadJSON reads a fixture file of the form {"ticks": [...]}.
func LoadJSON(path string) ([]indicator.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	sort.SliceStable(fx.Ticks, func(i, j int) bool { return fx.Ticks[i].Timestamp.Before(fx.Ticks[j].Timestamp) })
	return fx.Ticks, nil
}
