package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scalper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, "mode: backtest\n"))
	require.NoError(t, err)

	assert.Equal(t, 20, c.Indicators.Window)
	assert.Equal(t, 10, c.Indicators.VolatilitySamples)
	assert.Equal(t, 100.0, c.Regimes.High.MinVolatilityBps)
	assert.Equal(t, 0.70, c.Regimes.Low.ConfidenceFloor)
	assert.Equal(t, 75.0, c.Regimes.Low.MoveFloor)
	assert.Equal(t, 0.55, c.Forced.ConfidenceFloor)
	assert.Equal(t, 0.10, c.Risk.MaxPositionFraction)
	assert.Equal(t, 5000.0, c.Risk.MaxDailyLoss)
	assert.Equal(t, 3, c.Risk.MaxConsecutiveLosses)
	require.Len(t, c.Tiers, 4)
	assert.Equal(t, "conservative", c.Tiers[0].Name)
	assert.Equal(t, "points", c.Tiers[0].DistanceUnit)
	assert.True(t, c.Tiers[3].AllowForced)
}

func TestLoad_ConsecutiveLossesLimit(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{"mode: backtest\n", 3},
		{"risk:\n  max_consecutive_losses: 0\n", 3},
		{"risk:\n  max_consecutive_losses: 5\n", 5},
		{"risk:\n  max_consecutive_losses: -1\n", -1},
	}
	for _, tt := range tests {
		c, err := Load(writeConfig(t, tt.body))
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, c.Risk.MaxConsecutiveLosses, tt.body)
	}
}

func TestLoad_Tiers(t *testing.T) {
	body := `
tiers:
  - name: scalp
    min_confidence: 0.8
    profit_target: 0.2
    stop_loss: 0.1
    distance_unit: percent
    triggers:
      - {indicator: rsi, comparator: below, threshold: 35}
risk:
  capital: 500000
  max_daily_loss: 2500
`
	c, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Len(t, c.Tiers, 1)
	tier := c.Tiers[0]
	assert.Equal(t, "percent", tier.DistanceUnit)
	assert.Equal(t, 1, tier.MaxConcurrent)
	require.Len(t, tier.Triggers, 1)
	assert.Equal(t, "rsi", tier.Triggers[0].Indicator)
	assert.Equal(t, 2500.0, c.Risk.MaxDailyLoss)
}

func TestLoad_ConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown mode":      "mode: yolo\n",
		"bad clock":         "session: {open: \"9.15\"}\n",
		"bad unit":          "tiers:\n  - {name: a, profit_target: 1, stop_loss: 1, distance_unit: ticks}\n",
		"duplicate tier":    "tiers:\n  - {name: a, profit_target: 1, stop_loss: 1}\n  - {name: a, profit_target: 1, stop_loss: 1}\n",
		"zero target":       "tiers:\n  - {name: a, stop_loss: 1}\n",
		"bad trigger":       "tiers:\n  - name: a\n    profit_target: 1\n    stop_loss: 1\n    triggers: [{indicator: rsi, comparator: near, threshold: 1}]\n",
		"inverted regimes":  "regimes:\n  high: {min_volatility_bps: 10, confidence_floor: 0.5, move_floor: 1}\n",
		"fraction too big":  "risk: {max_position_fraction: 1.5}\n",
		"alpaca w/o symbol": "broker: {kind: alpaca}\n",
		"invalid yaml":      "tiers: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, body)
			_, err := Load(path)
			require.Error(t, err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "want *ConfigError, got %T", err)
			assert.Equal(t, path, ce.Path)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCALPER_FEED_URL", "ws://feed.example:9000/ticks")
	t.Setenv("SCALPER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SCALPER_CAPITAL", "250000")
	t.Setenv("SCALPER_CONTROL_SECRET", "s3cret")

	c := Default()
	c.ApplyEnv()
	assert.Equal(t, "ws://feed.example:9000/ticks", c.Feed.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Ledger.Kafka.Brokers)
	assert.Equal(t, 250000.0, c.Risk.Capital)
	assert.Equal(t, "paper", c.Broker.Kind)
	assert.Equal(t, "s3cret", c.Control.SigningSecret)
}

func TestLoad_ExampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "scalper.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "paper", c.Mode)
	assert.Equal(t, "15:20", c.Session.SquareOff)
	require.Len(t, c.Tiers, 4)
	assert.True(t, c.Tiers[3].AllowForced)
	require.Len(t, c.Tiers[2].Triggers, 1)
	assert.Equal(t, 5000.0, c.Risk.MaxDailyLoss)
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("14:00")
	require.NoError(t, err)
	assert.Equal(t, 14*time.Hour, d)
	_, err = ParseClock("25:99")
	assert.Error(t, err)
}

func TestSessionLocation(t *testing.T) {
	loc := Session{TZOffsetMinutes: 330}.Location()
	ts := time.Date(2024, 1, 2, 3, 45, 0, 0, time.UTC).In(loc)
	assert.Equal(t, 9, ts.Hour())
	assert.Equal(t, 15, ts.Minute())
}
