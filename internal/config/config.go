package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/sensex-scalper/internal/rules"
)

// ConfigError is fatal at load time; the process must not start.
type ConfigError struct {
	Path   string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

type Session struct {
	TZOffsetMinutes int    `yaml:"tz_offset_minutes"` // 330 = IST
	Open            string `yaml:"open"`              // "09:15"
	LateCutoff      string `yaml:"late_cutoff"`       // forced entry when nothing traded by then
	SquareOff       string `yaml:"square_off"`        // optional, open positions TIME_EXIT from here on
	StatePath       string `yaml:"state_path"`
}

type Indicators struct {
	Window            int `yaml:"window"`
	MomentumLookback  int `yaml:"momentum_lookback"`
	VolatilitySamples int `yaml:"volatility_samples"`
	ShortMA           int `yaml:"short_ma"`
	LongMA            int `yaml:"long_ma"`
	RSIPeriod         int `yaml:"rsi_period"`
}

type RegimeBand struct {
	MinVolatilityBps float64 `yaml:"min_volatility_bps"`
	ConfidenceFloor  float64 `yaml:"confidence_floor"`
	MoveFloor        float64 `yaml:"move_floor"`
}

type Regimes struct {
	High   RegimeBand `yaml:"high"`
	Medium RegimeBand `yaml:"medium"`
	Low    RegimeBand `yaml:"low"`
}

type Forced struct {
	Disabled        bool    `yaml:"disabled"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	LargeMovePoints float64 `yaml:"large_move_points"`
}

type Tier struct {
	Name                string            `yaml:"name"`
	MinConfidence       float64           `yaml:"min_confidence"`  // 0 = regime floor
	MinMovePoints       float64           `yaml:"min_move_points"` // 0 = regime floor
	ProfitTarget        float64           `yaml:"profit_target"`
	StopLoss            float64           `yaml:"stop_loss"`
	DistanceUnit        string            `yaml:"distance_unit"` // points | percent
	MaxConcurrent       int               `yaml:"max_concurrent"`
	MaxTradesPerSession int               `yaml:"max_trades_per_session"`
	MaxHoldingMinutes   int               `yaml:"max_holding_minutes"`
	AllowForced         bool              `yaml:"allow_forced"`
	Triggers            []rules.Condition `yaml:"triggers"`
}

type Risk struct {
	Capital              float64 `yaml:"capital"`
	MaxPositionFraction  float64 `yaml:"max_position_fraction"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"` // absolute currency
	MaxTradesPerSession  int     `yaml:"max_trades_per_session"`
	MaxOpenPositions     int     `yaml:"max_open_positions"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"` // 0 or unset means 3; negative disables
	LotSize              int     `yaml:"lot_size"`
}

type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Symbol    string `yaml:"symbol"`
}

type Broker struct {
	Kind           string  `yaml:"kind"` // paper | alpaca
	TimeoutMs      int     `yaml:"timeout_ms"`
	MaxStatusPolls int     `yaml:"max_status_polls"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	Alpaca         Alpaca  `yaml:"alpaca"`
}

type Reconnect struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

type Feed struct {
	URL           string    `yaml:"url"`
	ReadTimeoutMs int       `yaml:"read_timeout_ms"`
	WaitTimeoutMs int       `yaml:"wait_timeout_ms"`
	Reconnect     Reconnect `yaml:"reconnect"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Ledger struct {
	Path     string   `yaml:"path"`
	Kafka    Kafka    `yaml:"kafka"`
	Postgres Postgres `yaml:"postgres"`
}

type Breaker struct {
	EventLog string `yaml:"event_log"`
}

type Control struct {
	Addr          string   `yaml:"addr"`
	SigningSecret string   `yaml:"signing_secret"` // empty disables request signing
	AllowedUsers  []string `yaml:"allowed_users"`  // empty allows everyone
}

type Report struct {
	PlotPath  string `yaml:"plot_path"`
	GCSBucket string `yaml:"gcs_bucket"`
	GCSPrefix string `yaml:"gcs_prefix"`
}

type Root struct {
	Mode       string     `yaml:"mode"` // backtest | paper | live
	Symbol     string     `yaml:"symbol"`
	Session    Session    `yaml:"session"`
	Indicators Indicators `yaml:"indicators"`
	Regimes    Regimes    `yaml:"regimes"`
	Forced     Forced     `yaml:"forced"`
	Tiers      []Tier     `yaml:"tiers"`
	Risk       Risk       `yaml:"risk"`
	Broker     Broker     `yaml:"broker"`
	Feed       Feed       `yaml:"feed"`
	Ledger     Ledger     `yaml:"ledger"`
	Breaker    Breaker    `yaml:"breaker"`
	Control    Control    `yaml:"control"`
	Report     Report     `yaml:"report"`
}

// DefaultTiers is the tier set used when the config names none, in
// priority order.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "conservative", ProfitTarget: 25, StopLoss: 25, MaxConcurrent: 1, MaxTradesPerSession: 5, MaxHoldingMinutes: 30},
		{Name: "moderate", MinConfidence: 0.60, MinMovePoints: 40, ProfitTarget: 20, StopLoss: 20, MaxConcurrent: 1, MaxTradesPerSession: 5, MaxHoldingMinutes: 20},
		{Name: "aggressive", MinConfidence: 0.55, MinMovePoints: 25, ProfitTarget: 15, StopLoss: 15, MaxConcurrent: 1, MaxTradesPerSession: 5, MaxHoldingMinutes: 15},
		{Name: "forced", MinConfidence: 0.55, MinMovePoints: 20, ProfitTarget: 15, StopLoss: 15, MaxConcurrent: 1, MaxTradesPerSession: 3, MaxHoldingMinutes: 15, AllowForced: true},
	}
}

// Default returns a Root with every default applied.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, &ConfigError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, &ConfigError{Path: path, Reason: "invalid yaml", Err: err}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
		}
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "backtest"
	}
	if c.Symbol == "" {
		c.Symbol = "SENSEX"
	}

	if c.Session.TZOffsetMinutes == 0 {
		c.Session.TZOffsetMinutes = 330
	}
	if c.Session.Open == "" {
		c.Session.Open = "09:15"
	}
	if c.Session.LateCutoff == "" {
		c.Session.LateCutoff = "14:00"
	}
	if c.Session.StatePath == "" {
		c.Session.StatePath = "data/session_state.json"
	}

	if c.Indicators.Window == 0 {
		c.Indicators.Window = 20
	}
	if c.Indicators.MomentumLookback == 0 {
		c.Indicators.MomentumLookback = 5
	}
	if c.Indicators.VolatilitySamples == 0 {
		c.Indicators.VolatilitySamples = 10
	}
	if c.Indicators.ShortMA == 0 {
		c.Indicators.ShortMA = 5
	}
	if c.Indicators.LongMA == 0 {
		c.Indicators.LongMA = 20
	}
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}

	if c.Regimes.High == (RegimeBand{}) {
		c.Regimes.High = RegimeBand{MinVolatilityBps: 100, ConfidenceFloor: 0.55, MoveFloor: 25}
	}
	if c.Regimes.Medium == (RegimeBand{}) {
		c.Regimes.Medium = RegimeBand{MinVolatilityBps: 50, ConfidenceFloor: 0.60, MoveFloor: 40}
	}
	if c.Regimes.Low == (RegimeBand{}) {
		c.Regimes.Low = RegimeBand{ConfidenceFloor: 0.70, MoveFloor: 75}
	}

	if c.Forced.ConfidenceFloor == 0 {
		c.Forced.ConfidenceFloor = 0.55
	}
	if c.Forced.LargeMovePoints == 0 {
		c.Forced.LargeMovePoints = 20
	}

	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	for i := range c.Tiers {
		t := &c.Tiers[i]
		if t.DistanceUnit == "" {
			t.DistanceUnit = "points"
		}
		if t.MaxConcurrent == 0 {
			t.MaxConcurrent = 1
		}
		if t.MaxTradesPerSession == 0 {
			t.MaxTradesPerSession = 10
		}
		if t.MaxHoldingMinutes == 0 {
			t.MaxHoldingMinutes = 30
		}
	}

	if c.Risk.Capital == 0 {
		c.Risk.Capital = 100000
	}
	if c.Risk.MaxPositionFraction == 0 {
		c.Risk.MaxPositionFraction = 0.10
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = c.Risk.Capital * 0.05
	}
	if c.Risk.MaxTradesPerSession == 0 {
		c.Risk.MaxTradesPerSession = 20
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 2
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if c.Risk.LotSize == 0 {
		c.Risk.LotSize = 1
	}

	if c.Broker.Kind == "" {
		c.Broker.Kind = "paper"
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 3000
	}
	if c.Broker.MaxStatusPolls == 0 {
		c.Broker.MaxStatusPolls = 5
	}
	if c.Broker.RatePerSecond == 0 {
		c.Broker.RatePerSecond = 5
	}
	if c.Broker.Burst == 0 {
		c.Broker.Burst = 2
	}

	if c.Feed.URL == "" {
		c.Feed.URL = "ws://localhost:8091/ticks"
	}
	if c.Feed.ReadTimeoutMs == 0 {
		c.Feed.ReadTimeoutMs = 60000
	}
	if c.Feed.WaitTimeoutMs == 0 {
		c.Feed.WaitTimeoutMs = 1000
	}
	if c.Feed.Reconnect.InitialDelayMs == 0 {
		c.Feed.Reconnect.InitialDelayMs = 250
	}
	if c.Feed.Reconnect.MaxDelayMs == 0 {
		c.Feed.Reconnect.MaxDelayMs = 10000
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/closed_trades.jsonl"
	}
	if c.Ledger.Kafka.Topic == "" {
		c.Ledger.Kafka.Topic = "scalper.closed-trades"
	}
	if c.Breaker.EventLog == "" {
		c.Breaker.EventLog = "data/breaker_events.jsonl"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8090"
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c Root) Validate() error {
	bad := func(field, reason string) error {
		return &ConfigError{Field: field, Reason: reason}
	}

	switch c.Mode {
	case "backtest", "paper", "live":
	default:
		return bad("mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}

	for field, v := range map[string]string{"session.open": c.Session.Open, "session.late_cutoff": c.Session.LateCutoff} {
		if _, err := ParseClock(v); err != nil {
			return &ConfigError{Field: field, Err: err}
		}
	}
	if c.Session.SquareOff != "" {
		if _, err := ParseClock(c.Session.SquareOff); err != nil {
			return &ConfigError{Field: "session.square_off", Err: err}
		}
	}

	ind := c.Indicators
	if ind.Window < 2 {
		return bad("indicators.window", "must be at least 2")
	}
	if ind.VolatilitySamples >= ind.Window || ind.MomentumLookback >= ind.Window {
		return bad("indicators", "lookbacks must be smaller than the window")
	}

	if c.Regimes.High.MinVolatilityBps <= c.Regimes.Medium.MinVolatilityBps {
		return bad("regimes.high.min_volatility_bps", "must exceed the medium band")
	}
	for name, b := range map[string]RegimeBand{"high": c.Regimes.High, "medium": c.Regimes.Medium, "low": c.Regimes.Low} {
		if b.ConfidenceFloor <= 0 || b.ConfidenceFloor > 1 {
			return bad("regimes."+name+".confidence_floor", "must be in (0,1]")
		}
		if b.MoveFloor < 0 {
			return bad("regimes."+name+".move_floor", "must not be negative")
		}
	}

	seen := map[string]bool{}
	for i, t := range c.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			return bad(field+".name", "required")
		}
		if seen[t.Name] {
			return bad(field+".name", fmt.Sprintf("duplicate tier %q", t.Name))
		}
		seen[t.Name] = true
		if t.ProfitTarget <= 0 || t.StopLoss <= 0 {
			return bad(field, "profit_target and stop_loss must be positive")
		}
		if t.DistanceUnit != "points" && t.DistanceUnit != "percent" {
			return bad(field+".distance_unit", fmt.Sprintf("unknown unit %q", t.DistanceUnit))
		}
		if t.MinConfidence < 0 || t.MinConfidence > 1 {
			return bad(field+".min_confidence", "must be in [0,1]")
		}
		if t.MaxConcurrent < 1 || t.MaxTradesPerSession < 1 || t.MaxHoldingMinutes < 1 {
			return bad(field, "limits must be positive")
		}
		for j, cond := range t.Triggers {
			if err := cond.Validate(); err != nil {
				return &ConfigError{Field: fmt.Sprintf("%s.triggers[%d]", field, j), Err: err}
			}
		}
	}

	r := c.Risk
	if r.Capital <= 0 {
		return bad("risk.capital", "must be positive")
	}
	if r.MaxPositionFraction <= 0 || r.MaxPositionFraction > 1 {
		return bad("risk.max_position_fraction", "must be in (0,1]")
	}
	if r.MaxDailyLoss <= 0 {
		return bad("risk.max_daily_loss", "must be positive")
	}
	if r.LotSize < 1 {
		return bad("risk.lot_size", "must be at least 1")
	}

	switch c.Broker.Kind {
	case "paper":
	case "alpaca":
		if c.Broker.Alpaca.Symbol == "" {
			return bad("broker.alpaca.symbol", "required for the alpaca broker")
		}
	default:
		return bad("broker.kind", fmt.Sprintf("unknown broker %q", c.Broker.Kind))
	}
	return nil
}

// ApplyEnv overlays endpoints and secrets from SCALPER_* environment
// variables. Values already in the file win only when the variable is unset.
func (c *Root) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix("SCALPER")
	v.AutomaticEnv()

	setString := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	setString("mode", &c.Mode)
	setString("feed_url", &c.Feed.URL)
	setString("broker_kind", &c.Broker.Kind)
	setString("alpaca_api_key", &c.Broker.Alpaca.APIKey)
	setString("alpaca_api_secret", &c.Broker.Alpaca.APISecret)
	setString("alpaca_base_url", &c.Broker.Alpaca.BaseURL)
	setString("postgres_dsn", &c.Ledger.Postgres.DSN)
	setString("kafka_topic", &c.Ledger.Kafka.Topic)
	setString("gcs_bucket", &c.Report.GCSBucket)
	setString("control_addr", &c.Control.Addr)
	setString("control_secret", &c.Control.SigningSecret)
	if s := v.GetString("kafka_brokers"); s != "" {
		c.Ledger.Kafka.Brokers = strings.Split(s, ",")
	}
	if v.IsSet("capital") {
		if f := v.GetFloat64("capital"); f > 0 {
			c.Risk.Capital = f
		}
	}
}

// Location is the session's fixed-offset zone.
func (s Session) Location() *time.Location {
	return time.FixedZone("session", s.TZOffsetMinutes*60)
}

// ParseClock turns "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
