package observ

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonLabels_StableOrder(t *testing.T) {
	a := canonLabels(map[string]string{"tier": "forced", "reason": "max_trades"})
	b := canonLabels(map[string]string{"reason": "max_trades", "tier": "forced"})
	assert.Equal(t, a, b)
	assert.Equal(t, "reason=max_trades,tier=forced", a)
	assert.Equal(t, "", canonLabels(nil))
}

func TestLog_WritesEventLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Log("position_opened", map[string]any{"tier": "conservative", "qty": 3})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "position_opened", line["event"])
	assert.Equal(t, "conservative", line["tier"])
	assert.EqualValues(t, 3, line["qty"])
	assert.Contains(t, line, "ts")
}

func TestHealthHandler_Status(t *testing.T) {
	cases := []struct {
		name   string
		setup  func()
		status string
		code   int
	}{
		{"healthy", func() { IncCounter("ticks_processed_total", nil) }, "healthy", http.StatusOK},
		{"breaker engaged", func() { SetGauge("breaker_engaged", 1, nil) }, "degraded", http.StatusOK},
		{"irreconcilable", func() { IncCounter("orders_irreconcilable_total", nil) }, "failed", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			Reset()
			tc.setup()
			rec := httptest.NewRecorder()
			HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.code, rec.Code)
			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
		})
	}
	Reset()
}

func TestObserve_BoundsSeries(t *testing.T) {
	Reset()
	for i := 0; i < maxSamples+10; i++ {
		Observe("tick_latency_ms", float64(i), nil)
	}
	reg.mu.Lock()
	n := len(reg.hist["tick_latency_ms"][""])
	first := reg.hist["tick_latency_ms"][""][0]
	reg.mu.Unlock()
	assert.Equal(t, maxSamples, n)
	assert.Equal(t, float64(10), first)
	Reset()
}
