package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// maxSamples bounds every histogram series; a session produces tens of
// thousands of ticks and only the recent tail matters for p95.
const maxSamples = 2048

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	s := append(m[k], value)
	if len(s) > maxSamples {
		s = s[len(s)-maxSamples:]
	}
	m[k] = s
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Microseconds())/1000.0, labels)
}

// CounterValue sums a counter across all label sets.
func CounterValue(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return sumCounter(name)
}

// GaugeValue returns the gauge for the given labels and whether it was ever set.
func GaugeValue(name string, labels map[string]string) (float64, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		return 0, false
	}
	v, ok := m[canonLabels(labels)]
	return v, ok
}

// Reset drops every series. Tests only.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = fresh.counters
	reg.gauges = fresh.gauges
	reg.hist = fresh.hist
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the body of the /health endpoint
type HealthStatus struct {
	Status    string         `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Metrics   HealthMetrics  `json:"metrics"`
	Details   map[string]any `json:"details"`
}

// HealthMetrics holds the engine figures an operator checks first
type HealthMetrics struct {
	TicksProcessed       int64   `json:"ticks_processed"`
	TicksSkipped         int64   `json:"ticks_skipped"`
	TickLatencyP95Ms     float64 `json:"tick_latency_p95_ms"`
	OpenPositions        float64 `json:"open_positions"`
	BrokerFailures       int64   `json:"broker_failures"`
	IrreconcilableOrders int64   `json:"irreconcilable_orders"`
	BreakerEngaged       bool    `json:"breaker_engaged"`
	RealizedPnL          float64 `json:"realized_pnl"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler reports engine health: failed when an order could not be
// reconciled, degraded when the breaker is engaged or ticks are slow.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		metrics := calculateHealthMetrics()
		details := gatherHealthDetails()
		reg.mu.Unlock()

		health := HealthStatus{
			Status:    overallStatus(metrics),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   metrics,
			Details:   details,
		}

		statusCode := http.StatusOK
		if health.Status == "failed" {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func overallStatus(m HealthMetrics) string {
	if m.IrreconcilableOrders > 0 {
		return "failed"
	}
	if m.BreakerEngaged || m.TickLatencyP95Ms > 200 {
		return "degraded"
	}
	return "healthy"
}

func calculateHealthMetrics() HealthMetrics {
	m := HealthMetrics{
		TicksProcessed:       sumCounter("ticks_processed_total"),
		TicksSkipped:         sumCounter("ticks_skipped_total"),
		BrokerFailures:       sumCounter("broker_submission_failures_total"),
		IrreconcilableOrders: sumCounter("orders_irreconcilable_total"),
	}
	if series, ok := reg.hist["tick_latency_ms"]; ok {
		m.TickLatencyP95Ms = p95(series[""])
	}
	if g, ok := reg.gauges["open_positions"]; ok {
		m.OpenPositions = g[""]
	}
	if g, ok := reg.gauges["breaker_engaged"]; ok {
		m.BreakerEngaged = g[""] == 1
	}
	if g, ok := reg.gauges["session_realized_pnl"]; ok {
		m.RealizedPnL = g[""]
	}
	return m
}

func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func gatherHealthDetails() map[string]any {
	details := map[string]any{}
	if byTier, ok := reg.counters["positions_opened_total"]; ok {
		opened := map[string]int64{}
		for k, v := range byTier {
			opened[k] = v
		}
		details["positions_opened"] = opened
	}
	if reasons, ok := reg.counters["entries_rejected_total"]; ok {
		rejected := map[string]int64{}
		for k, v := range reasons {
			rejected[k] = v
		}
		details["entries_rejected"] = rejected
	}
	return details
}

// Health is a bare liveness probe
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
