package decision

import (
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/rules"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

type DistanceUnit string

const (
	Points  DistanceUnit = "points"
	Percent DistanceUnit = "percent"
)

// Tier is an immutable strategy configuration. Priority 0 is the most
// conservative tier and wins confidence ties.
type Tier struct {
	Name                string
	Priority            int
	MinConfidence       float64 // 0 = regime floor
	MinMovePoints       float64 // 0 = regime floor
	ProfitTarget        float64
	StopLoss            float64
	Unit                DistanceUnit
	MaxConcurrent       int
	MaxTradesPerSession int
	MaxHolding          time.Duration
	AllowForced         bool
	Triggers            []rules.Condition
}

// TiersFromConfig keeps file order as priority order.
func TiersFromConfig(cfg []config.Tier) []Tier {
	out := make([]Tier, 0, len(cfg))
	for i, c := range cfg {
		out = append(out, Tier{
			Name:                c.Name,
			Priority:            i,
			MinConfidence:       c.MinConfidence,
			MinMovePoints:       c.MinMovePoints,
			ProfitTarget:        c.ProfitTarget,
			StopLoss:            c.StopLoss,
			Unit:                DistanceUnit(c.DistanceUnit),
			MaxConcurrent:       c.MaxConcurrent,
			MaxTradesPerSession: c.MaxTradesPerSession,
			MaxHolding:          time.Duration(c.MaxHoldingMinutes) * time.Minute,
			AllowForced:         c.AllowForced,
			Triggers:            c.Triggers,
		})
	}
	return out
}

// Levels returns the target and stop prices for an entry.
func (t Tier) Levels(entry float64, dir Direction) (target, stop float64) {
	up, down := t.ProfitTarget, t.StopLoss
	if t.Unit == Percent {
		up = entry * t.ProfitTarget / 100
		down = entry * t.StopLoss / 100
	}
	sign := dir.Sign()
	return entry + sign*up, entry - sign*down
}

// Session locates ticks within the trading day.
type Session struct {
	Location   *time.Location
	Open       time.Duration // offset from midnight
	LateCutoff time.Duration
	SquareOff  time.Duration // 0 = no square-off
}

func SessionFromConfig(s config.Session) (Session, error) {
	open, err := config.ParseClock(s.Open)
	if err != nil {
		return Session{}, &config.ConfigError{Field: "session.open", Err: err}
	}
	late, err := config.ParseClock(s.LateCutoff)
	if err != nil {
		return Session{}, &config.ConfigError{Field: "session.late_cutoff", Err: err}
	}
	var sq time.Duration
	if s.SquareOff != "" {
		if sq, err = config.ParseClock(s.SquareOff); err != nil {
			return Session{}, &config.ConfigError{Field: "session.square_off", Err: err}
		}
	}
	return Session{Location: s.Location(), Open: open, LateCutoff: late, SquareOff: sq}, nil
}

func (s Session) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// TimeOfDay is the offset of ts from midnight in the session zone.
func (s Session) TimeOfDay(ts time.Time) time.Duration {
	local := ts.In(s.loc())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc())
	return local.Sub(midnight)
}

// Day is the session date of ts, YYYY-MM-DD.
func (s Session) Day(ts time.Time) string {
	return ts.In(s.loc()).Format("2006-01-02")
}

// PastSquareOff reports whether open positions must be flattened at ts.
func (s Session) PastSquareOff(ts time.Time) bool {
	return s.SquareOff > 0 && s.TimeOfDay(ts) >= s.SquareOff
}
