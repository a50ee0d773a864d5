package risk

import (
	"math"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// RejectReason names the gate that vetoed an entry.
type RejectReason string

const (
	ReasonCircuitBreaker    RejectReason = "circuit_breaker"
	ReasonMaxConcurrent     RejectReason = "max_concurrent"
	ReasonMaxOpenPositions  RejectReason = "max_open_positions"
	ReasonMaxTrades         RejectReason = "max_trades"
	ReasonDailyLoss         RejectReason = "daily_loss"
	ReasonConsecutiveLosses RejectReason = "consecutive_losses"
	ReasonZeroSize          RejectReason = "zero_size"
)

type Config struct {
	Capital              float64
	MaxPositionFraction  float64
	MaxDailyLoss         float64
	MaxTradesPerSession  int
	MaxOpenPositions     int
	MaxConsecutiveLosses int // <=0 disables; config maps an unset value to 3
	LotSize              int
}

func ConfigFromRoot(r config.Risk) Config {
	return Config{
		Capital:              r.Capital,
		MaxPositionFraction:  r.MaxPositionFraction,
		MaxDailyLoss:         r.MaxDailyLoss,
		MaxTradesPerSession:  r.MaxTradesPerSession,
		MaxOpenPositions:     r.MaxOpenPositions,
		MaxConsecutiveLosses: r.MaxConsecutiveLosses,
		LotSize:              r.LotSize,
	}
}

// Exposure is the open-book view the lifecycle controller hands in.
type Exposure struct {
	OpenForTier       int
	OpenTotal         int
	CommittedNotional float64
}

// Order is a sized, approved entry.
type Order struct {
	Tier           string             `json:"tier"`
	Direction      decision.Direction `json:"direction"`
	Quantity       int64              `json:"quantity"`
	ReferencePrice float64            `json:"reference_price"`
	Notional       float64            `json:"notional"`
	Confidence     float64            `json:"confidence"`
	SizeMultiplier float64            `json:"size_multiplier"`
	Signal         decision.Signal    `json:"signal"`
}

// Authorization is Approved(Order) or Rejected(Reason). Reasons lists every
// violated gate in priority order; Reason is the first of them.
type Authorization struct {
	Approved bool           `json:"approved"`
	Order    Order          `json:"order"`
	Reason   RejectReason   `json:"reason,omitempty"`
	Reasons  []RejectReason `json:"reasons,omitempty"`
}

type gate struct {
	reason RejectReason
	blocks func(m *Manager, t decision.Tier, e Exposure) bool
}

// gates run in priority order; zero_size is checked after sizing.
var gates = []gate{
	{ReasonCircuitBreaker, func(m *Manager, _ decision.Tier, _ Exposure) bool { return m.state.BreakerEngaged }},
	{ReasonMaxConcurrent, func(_ *Manager, t decision.Tier, e Exposure) bool {
		return t.MaxConcurrent > 0 && e.OpenForTier >= t.MaxConcurrent
	}},
	{ReasonMaxOpenPositions, func(m *Manager, _ decision.Tier, e Exposure) bool {
		return m.cfg.MaxOpenPositions > 0 && e.OpenTotal >= m.cfg.MaxOpenPositions
	}},
	{ReasonMaxTrades, func(m *Manager, t decision.Tier, _ Exposure) bool {
		if m.cfg.MaxTradesPerSession > 0 && m.state.TradesOpened >= m.cfg.MaxTradesPerSession {
			return true
		}
		return t.MaxTradesPerSession > 0 && m.state.TradesByTier[t.Name] >= t.MaxTradesPerSession
	}},
	{ReasonDailyLoss, func(m *Manager, _ decision.Tier, _ Exposure) bool {
		return m.state.DailyLossHit || m.state.RealizedPnL <= -m.cfg.MaxDailyLoss
	}},
	{ReasonConsecutiveLosses, func(m *Manager, _ decision.Tier, _ Exposure) bool {
		return m.cfg.MaxConsecutiveLosses > 0 && m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses
	}},
}

// Manager is the only writer of SessionState. It is driven from the tick
// loop and is not safe for concurrent use.
type Manager struct {
	cfg     Config
	capital float64
	state   SessionState
}

func NewManager(cfg Config, sessionDate string) *Manager {
	if cfg.LotSize < 1 {
		cfg.LotSize = 1
	}
	return &Manager{cfg: cfg, capital: cfg.Capital, state: NewSessionState(sessionDate)}
}

// Capital is starting capital plus all realized P&L.
func (m *Manager) Capital() float64 { return m.capital }

func (m *Manager) Config() Config { return m.cfg }

// Session returns a copy of the current session state.
func (m *Manager) Session() SessionState { return m.state.Clone() }

// ResetSession starts a new trading day. The breaker flag is carried over;
// only an operator resume clears it.
func (m *Manager) ResetSession(date string) {
	engaged := m.state.BreakerEngaged
	m.state = NewSessionState(date)
	m.state.BreakerEngaged = engaged
	observ.Log("session_reset", map[string]any{"date": date})
	m.publish()
}

// Restore adopts a persisted state for the same day after a restart.
func (m *Manager) Restore(s SessionState) {
	m.state = s.Clone()
	if m.state.RealizedPnL <= -m.cfg.MaxDailyLoss {
		m.state.DailyLossHit = true
	}
	m.publish()
}

func (m *Manager) SetBreaker(engaged bool) {
	m.state.BreakerEngaged = engaged
	v := 0.0
	if engaged {
		v = 1
	}
	observ.SetGauge("breaker_engaged", v, nil)
}

// SizeMultiplier scales position size by signal confidence.
func SizeMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.8:
		return 1.0
	case confidence >= 0.6:
		return 0.75
	case confidence >= 0.4:
		return 0.5
	default:
		return 0.25
	}
}

// Authorize checks the gates in priority order and sizes the entry.
// It does not mutate session state; call Commit once the order is live.
func (m *Manager) Authorize(sig decision.Signal, tier decision.Tier, exp Exposure) Authorization {
	var reasons []RejectReason
	for _, g := range gates {
		if g.blocks(m, tier, exp) {
			reasons = append(reasons, g.reason)
		}
	}

	mult := SizeMultiplier(sig.Confidence)
	available := math.Max(0, m.capital-exp.CommittedNotional)
	notional := math.Min(m.cfg.MaxPositionFraction*m.capital, available) * mult
	qty := int64(0)
	if sig.ReferencePrice > 0 {
		qty = int64(math.Floor(notional / sig.ReferencePrice))
		lot := int64(m.cfg.LotSize)
		qty = qty / lot * lot
	}
	if qty <= 0 {
		reasons = append(reasons, ReasonZeroSize)
	}

	if len(reasons) > 0 {
		observ.IncCounter("entries_rejected_total", map[string]string{"reason": string(reasons[0])})
		return Authorization{Reason: reasons[0], Reasons: reasons}
	}
	return Authorization{
		Approved: true,
		Order: Order{
			Tier:           sig.Tier,
			Direction:      sig.Direction,
			Quantity:       qty,
			ReferencePrice: sig.ReferencePrice,
			Notional:       float64(qty) * sig.ReferencePrice,
			Confidence:     sig.Confidence,
			SizeMultiplier: mult,
			Signal:         sig,
		},
	}
}

// Commit counts an entry that reached the book.
func (m *Manager) Commit(o Order) {
	m.state.TradesOpened++
	if m.state.TradesByTier == nil {
		m.state.TradesByTier = map[string]int{}
	}
	m.state.TradesByTier[o.Tier]++
	observ.IncCounter("positions_opened_total", map[string]string{"tier": o.Tier})
	m.publish()
}

// RecordClose folds a closed trade's P&L into the session.
func (m *Manager) RecordClose(tier string, pnl float64) {
	m.state.TradesClosed++
	m.state.RealizedPnL += pnl
	m.capital += pnl
	if pnl < 0 {
		m.state.Losses++
		m.state.ConsecutiveLosses++
	} else {
		if pnl > 0 {
			m.state.Wins++
		}
		m.state.ConsecutiveLosses = 0
	}
	if !m.state.DailyLossHit && m.state.RealizedPnL <= -m.cfg.MaxDailyLoss {
		m.state.DailyLossHit = true
		observ.Warn("daily_loss_limit_reached", map[string]any{
			"realized_pnl":   m.state.RealizedPnL,
			"max_daily_loss": m.cfg.MaxDailyLoss,
			"tier":           tier,
		})
	}
	m.publish()
}

func (m *Manager) publish() {
	observ.SetGauge("session_realized_pnl", m.state.RealizedPnL, nil)
	observ.SetGauge("session_trades_opened", float64(m.state.TradesOpened), nil)
	observ.SetGauge("capital", m.capital, nil)
}
