package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
)

func testConfig() Config {
	return Config{
		Capital:              10_000_000,
		MaxPositionFraction:  0.10,
		MaxDailyLoss:         5000,
		MaxTradesPerSession:  10,
		MaxOpenPositions:     3,
		MaxConsecutiveLosses: 3,
		LotSize:              1,
	}
}

func testTier() decision.Tier {
	return decision.Tier{Name: "conservative", MaxConcurrent: 1, MaxTradesPerSession: 5, ProfitTarget: 25, StopLoss: 25, Unit: decision.Points, MaxHolding: 30 * time.Minute}
}

func signal(conf, price float64) decision.Signal {
	return decision.Signal{Tier: "conservative", Direction: decision.Long, Confidence: conf, ReferencePrice: price}
}

func TestSizeMultiplier(t *testing.T) {
	cases := []struct {
		conf float64
		want float64
	}{
		{0.95, 1.0}, {0.8, 1.0}, {0.79, 0.75}, {0.6, 0.75}, {0.55, 0.5}, {0.4, 0.5}, {0.3375, 0.25}, {0, 0.25},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SizeMultiplier(c.conf), "confidence %v", c.conf)
	}
}

func TestAuthorize_Sizing(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")

	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{})
	require.True(t, a.Approved)
	// 10% of 10M = 1M; x1.0; floor(1M/80000) = 12
	assert.Equal(t, int64(12), a.Order.Quantity)
	assert.Equal(t, 960000.0, a.Order.Notional)
	assert.Equal(t, 1.0, a.Order.SizeMultiplier)

	a = m.Authorize(signal(0.55, 80000), testTier(), Exposure{})
	require.True(t, a.Approved)
	assert.Equal(t, int64(6), a.Order.Quantity)

	// available capital caps the notional
	a = m.Authorize(signal(0.9, 80000), testTier(), Exposure{CommittedNotional: 9_500_000})
	require.True(t, a.Approved)
	assert.Equal(t, int64(6), a.Order.Quantity)
}

func TestAuthorize_LotSize(t *testing.T) {
	cfg := testConfig()
	cfg.LotSize = 5
	m := NewManager(cfg, "2024-03-04")
	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{})
	require.True(t, a.Approved)
	assert.Equal(t, int64(10), a.Order.Quantity)
}

func TestAuthorize_ZeroSize(t *testing.T) {
	cfg := testConfig()
	cfg.Capital = 3000
	m := NewManager(cfg, "2024-03-04")
	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{})
	assert.False(t, a.Approved)
	assert.Equal(t, ReasonZeroSize, a.Reason)
}

func TestAuthorize_ReasonOrder(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	m.SetBreaker(true)
	m.state.RealizedPnL = -6000
	m.state.TradesOpened = 10

	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{OpenForTier: 1})
	require.False(t, a.Approved)
	assert.Equal(t, ReasonCircuitBreaker, a.Reason)
	assert.Equal(t, []RejectReason{ReasonCircuitBreaker, ReasonMaxConcurrent, ReasonMaxTrades, ReasonDailyLoss}, a.Reasons)
}

func TestAuthorize_Gates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Manager)
		exp   Exposure
		want  RejectReason
	}{
		{"breaker", func(m *Manager) { m.SetBreaker(true) }, Exposure{}, ReasonCircuitBreaker},
		{"tier full", func(m *Manager) {}, Exposure{OpenForTier: 1, OpenTotal: 1}, ReasonMaxConcurrent},
		{"book full", func(m *Manager) {}, Exposure{OpenTotal: 3}, ReasonMaxOpenPositions},
		{"session trades", func(m *Manager) { m.state.TradesOpened = 10 }, Exposure{}, ReasonMaxTrades},
		{"tier trades", func(m *Manager) { m.state.TradesByTier["conservative"] = 5 }, Exposure{}, ReasonMaxTrades},
		{"daily loss at limit", func(m *Manager) { m.state.RealizedPnL = -5000 }, Exposure{}, ReasonDailyLoss},
		{"daily loss latched", func(m *Manager) { m.state.DailyLossHit = true }, Exposure{}, ReasonDailyLoss},
		{"consecutive losses", func(m *Manager) { m.state.ConsecutiveLosses = 3 }, Exposure{}, ReasonConsecutiveLosses},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testConfig(), "2024-03-04")
			tt.setup(m)
			a := m.Authorize(signal(0.9, 80000), testTier(), tt.exp)
			assert.False(t, a.Approved)
			assert.Equal(t, tt.want, a.Reason)
		})
	}
}

func TestDailyLossVeto(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	m.RecordClose("conservative", -3000)
	assert.True(t, m.Authorize(signal(0.9, 80000), testTier(), Exposure{}).Approved)

	m.RecordClose("moderate", 1000)
	m.RecordClose("conservative", -3000)
	assert.Equal(t, -5000.0, m.Session().RealizedPnL)

	for conf := 0.0; conf <= 1.0; conf += 0.1 {
		a := m.Authorize(signal(conf, 80000), testTier(), Exposure{})
		assert.False(t, a.Approved)
		assert.Equal(t, ReasonDailyLoss, a.Reason)
	}
}

func TestDailyLossVetoHoldsAfterRecovery(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	m.RecordClose("conservative", -5000)
	require.True(t, m.Session().DailyLossHit)
	assert.Equal(t, ReasonDailyLoss, m.Authorize(signal(0.9, 80000), testTier(), Exposure{}).Reason)

	// a later winner lifts P&L above the limit; entries stay vetoed
	m.RecordClose("moderate", 100)
	assert.Equal(t, -4900.0, m.Session().RealizedPnL)
	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{})
	assert.False(t, a.Approved)
	assert.Equal(t, ReasonDailyLoss, a.Reason)

	m.ResetSession("2024-03-05")
	assert.False(t, m.Session().DailyLossHit)
	assert.True(t, m.Authorize(signal(0.9, 80000), testTier(), Exposure{}).Approved)
}

func TestConsecutiveLossVetoDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveLosses = -1
	m := NewManager(cfg, "2024-03-04")
	for i := 0; i < 5; i++ {
		m.RecordClose("conservative", -10)
	}
	assert.True(t, m.Authorize(signal(0.9, 80000), testTier(), Exposure{}).Approved)
}

func TestRestoreLatchesDailyLoss(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	s := NewSessionState("2024-03-04")
	s.RealizedPnL = -6000
	m.Restore(s)
	assert.True(t, m.Session().DailyLossHit)
}

func TestCommitAndRecordClose(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	a := m.Authorize(signal(0.9, 80000), testTier(), Exposure{})
	require.True(t, a.Approved)
	m.Commit(a.Order)
	m.Commit(a.Order)

	s := m.Session()
	assert.Equal(t, 2, s.TradesOpened)
	assert.Equal(t, 2, s.TradesByTier["conservative"])

	m.RecordClose("conservative", -100)
	m.RecordClose("conservative", -100)
	assert.Equal(t, 2, m.Session().ConsecutiveLosses)
	m.RecordClose("conservative", 300)
	s = m.Session()
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.Equal(t, 100.0, s.RealizedPnL)
	assert.Equal(t, 10_000_100.0, m.Capital())
}

func TestSessionCopyIsIndependent(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	s := m.Session()
	s.TradesByTier["conservative"] = 99
	assert.Zero(t, m.Session().TradesByTier["conservative"])
}

func TestResetSession(t *testing.T) {
	m := NewManager(testConfig(), "2024-03-04")
	m.Commit(Order{Tier: "forced"})
	m.RecordClose("forced", -200)
	m.SetBreaker(true)

	m.ResetSession("2024-03-05")
	s := m.Session()
	assert.Equal(t, "2024-03-05", s.Date)
	assert.Zero(t, s.TradesOpened)
	assert.Zero(t, s.RealizedPnL)
	assert.True(t, s.BreakerEngaged)
	assert.Equal(t, 10_000_000.0-200, m.Capital())
}
