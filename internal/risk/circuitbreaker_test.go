package risk

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerCommandsApplyOnDrain(t *testing.T) {
	cb := NewCircuitBreaker("")

	_, err := cb.Submit(CmdPause, "ops", "news event")
	require.NoError(t, err)
	assert.Equal(t, StateNormal, cb.State(), "state must not change before the tick boundary")
	assert.Equal(t, 1, cb.Pending())

	reqs := cb.Drain()
	require.Len(t, reqs, 1)
	assert.Equal(t, CmdPause, reqs[0].Command)
	assert.Equal(t, StatePaused, cb.State())
	assert.True(t, cb.Engaged())
	assert.Nil(t, cb.Drain())

	_, err = cb.Submit(CmdResume, "ops", "")
	require.NoError(t, err)
	cb.Drain()
	assert.Equal(t, StateNormal, cb.State())
	assert.False(t, cb.Engaged())
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	testCases := []struct {
		name     string
		commands []Command
		expected CircuitBreakerState
	}{
		{"pause", []Command{CmdPause}, StatePaused},
		{"pause then resume", []Command{CmdPause, CmdResume}, StateNormal},
		{"force close halts", []Command{CmdForceCloseAll}, StateHalted},
		{"pause does not soften halt", []Command{CmdForceCloseAll, CmdPause}, StateHalted},
		{"resume after halt", []Command{CmdForceCloseAll, CmdResume}, StateNormal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cb := NewCircuitBreaker("")
			for _, c := range tc.commands {
				_, err := cb.Submit(c, "ops", "")
				require.NoError(t, err)
			}
			reqs := cb.Drain()
			assert.Len(t, reqs, len(tc.commands))
			assert.Equal(t, tc.expected, cb.State())
		})
	}
}

func TestCircuitBreakerRejectsUnknownCommand(t *testing.T) {
	cb := NewCircuitBreaker("")
	_, err := cb.Submit(Command("shutdown"), "ops", "")
	assert.Error(t, err)
	assert.Zero(t, cb.Pending())
}

func TestCircuitBreakerEventReplay(t *testing.T) {
	eventLog := filepath.Join(t.TempDir(), "breaker_events.jsonl")

	cb := NewCircuitBreaker(eventLog)
	_, err := cb.Submit(CmdForceCloseAll, "ops", "exchange outage")
	require.NoError(t, err)
	reqs := cb.Drain()
	cb.RecordForceClose(reqs[0], 2)

	restored := NewCircuitBreaker(eventLog)
	assert.Equal(t, StateHalted, restored.State())
	events := restored.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, EventCommandReceived, events[0].Type)
	assert.Equal(t, EventStateChanged, events[1].Type)
	assert.Equal(t, EventForceClosed, events[2].Type)

	// ids keep increasing across restarts
	_, err = restored.Submit(CmdResume, "ops", "")
	require.NoError(t, err)
	last := restored.Events(1)
	require.Len(t, last, 1)
	assert.Equal(t, "cb_4", last[0].ID)
}

func TestCircuitBreakerConcurrentSubmit(t *testing.T) {
	cb := NewCircuitBreaker("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cb.Submit(CmdPause, "ops", "")
		}()
	}
	wg.Wait()
	assert.Len(t, cb.Drain(), 50)
	assert.Equal(t, StatePaused, cb.State())
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("force_close_all")
	require.NoError(t, err)
	assert.Equal(t, CmdForceCloseAll, c)
	_, err = ParseCommand("halt")
	assert.Error(t, err)
}
