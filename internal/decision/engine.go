package decision

import (
	"encoding/json"
	"math"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/regime"
	"github.com/Rajchodisetti/sensex-scalper/internal/rules"
)

const maxConfidence = 0.98

// Signal is a trade proposal from one tier. It is never stored.
type Signal struct {
	Tier           string    `json:"tier"`
	Priority       int       `json:"priority"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	ReferencePrice float64   `json:"reference_price"`
	Timestamp      time.Time `json:"timestamp"`
	Forced         bool      `json:"forced"`
	ForcedBy       string    `json:"forced_by,omitempty"`
	Strike         int       `json:"strike,omitempty"`
}

type Outcome string

const (
	OutcomeSignal   Outcome = "signal"
	OutcomeNoSignal Outcome = "no_signal"
)

// Reason records which gates each tier passed or blocked on.
type Reason struct {
	Confidence    float64             `json:"confidence"`
	MomentumPct   float64             `json:"momentum_pct"`
	MovePoints    float64             `json:"move_points"`
	Regime        string              `json:"regime"`
	ForcedTrigger string              `json:"forced_trigger,omitempty"`
	GatesPassed   map[string][]string `json:"gates_passed"`
	GatesBlocked  map[string][]string `json:"gates_blocked"`
}

func (r Reason) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// Decision is the arbiter's outcome for one tick. Signal is meaningful only
// when Outcome is OutcomeSignal.
type Decision struct {
	Outcome    Outcome
	Signal     Signal
	Candidates []Signal
	Reason     Reason
}

// Input is what the arbiter sees for one tick.
type Input struct {
	Snapshot    indicator.Snapshot
	Threshold   regime.State
	TradesToday int
}

// ForcedPolicy decides when a tier with AllowForced may bypass its
// confidence and move gates.
type ForcedPolicy struct {
	Disabled        bool
	ConfidenceFloor float64
	LargeMovePoints float64
	FirstWindow     time.Duration
	Session         Session
}

func (p ForcedPolicy) trigger(in Input) string {
	if p.Disabled || in.Snapshot.Samples == 0 {
		return ""
	}
	tod := p.Session.TimeOfDay(in.Snapshot.Timestamp)
	window := p.FirstWindow
	if window == 0 {
		window = time.Minute
	}
	if in.TradesToday == 0 && tod >= p.Session.Open && tod < p.Session.Open+window {
		return "session_open"
	}
	if in.TradesToday == 0 && p.Session.LateCutoff > 0 && tod >= p.Session.LateCutoff {
		return "late_session"
	}
	if p.LargeMovePoints > 0 && math.Abs(in.Snapshot.LastMovePoints) >= p.LargeMovePoints {
		return "large_move"
	}
	return ""
}

// Arbiter evaluates every tier and selects at most one signal per tick.
type Arbiter struct {
	tiers        []Tier
	forced       ForcedPolicy
	oiPercentile float64
}

func NewArbiter(tiers []Tier, forced ForcedPolicy) *Arbiter {
	return &Arbiter{tiers: tiers, forced: forced, oiPercentile: 90}
}

func (a *Arbiter) Tiers() []Tier { return a.tiers }

// Confidence maps momentum (percent) to a confidence in [0, 0.98].
func Confidence(momentumPct float64) float64 {
	return math.Min(maxConfidence, math.Abs(momentumPct)*3)
}

// Decide runs every tier against the snapshot. The highest confidence wins;
// ties go to the tier with the lower priority value.
func (a *Arbiter) Decide(in Input) Decision {
	snap := in.Snapshot
	conf := Confidence(snap.MomentumPct)
	dir := Long
	if snap.MomentumPct < 0 {
		dir = Short
	}
	move := snap.MovePoints()
	forcedBy := a.forced.trigger(in)
	values := snap.Values()

	reason := Reason{
		Confidence:    conf,
		MomentumPct:   snap.MomentumPct,
		MovePoints:    move,
		Regime:        string(in.Threshold.Regime),
		ForcedTrigger: forcedBy,
		GatesPassed:   map[string][]string{},
		GatesBlocked:  map[string][]string{},
	}

	var candidates []Signal
	for _, t := range a.tiers {
		var passed, blocked []string
		confFloor := t.MinConfidence
		if confFloor == 0 {
			confFloor = in.Threshold.ConfidenceFloor
		}
		moveFloor := t.MinMovePoints
		if moveFloor == 0 {
			moveFloor = in.Threshold.MoveFloor
		}

		if snap.MomentumPct == 0 {
			blocked = append(blocked, "no_momentum")
		}
		if conf >= confFloor {
			passed = append(passed, "confidence")
		} else {
			blocked = append(blocked, "confidence")
		}
		if move >= moveFloor {
			passed = append(passed, "move")
		} else {
			blocked = append(blocked, "move")
		}
		triggersOK := rules.Match(t.Triggers, values)
		if len(t.Triggers) > 0 {
			if triggersOK {
				passed = append(passed, "triggers")
			} else {
				blocked = append(blocked, "triggers")
			}
		}

		sig := Signal{
			Tier:           t.Name,
			Priority:       t.Priority,
			Direction:      dir,
			Confidence:     conf,
			ReferencePrice: snap.Price,
			Timestamp:      snap.Timestamp,
		}
		switch {
		case len(blocked) == 0:
			candidates = append(candidates, sig)
		case t.AllowForced && forcedBy != "" && snap.MomentumPct != 0 && triggersOK:
			sig.Forced = true
			sig.ForcedBy = forcedBy
			sig.Confidence = math.Max(conf, a.forced.ConfidenceFloor)
			passed = append(passed, "forced:"+forcedBy)
			candidates = append(candidates, sig)
		}
		reason.GatesPassed[t.Name] = passed
		reason.GatesBlocked[t.Name] = blocked
	}

	d := Decision{Outcome: OutcomeNoSignal, Candidates: candidates, Reason: reason}
	if len(candidates) == 0 {
		observ.IncCounter("decisions_total", map[string]string{"outcome": string(OutcomeNoSignal)})
		return d
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence || (c.Confidence == best.Confidence && c.Priority < best.Priority) {
			best = c
		}
	}
	if strike, ok := indicator.NearestStrike(indicator.HighOIStrikes(snap.OpenInterest, a.oiPercentile), snap.Price); ok {
		best.Strike = strike
	}
	d.Outcome = OutcomeSignal
	d.Signal = best
	observ.IncCounter("decisions_total", map[string]string{"outcome": string(OutcomeSignal), "tier": best.Tier})
	return d
}
