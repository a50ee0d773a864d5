package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// CircuitBreakerState is the operator-controlled trading state.
type CircuitBreakerState string

const (
	StateNormal CircuitBreakerState = "normal" // entries allowed
	StatePaused CircuitBreakerState = "paused" // no new entries, open positions run to exit
	StateHalted CircuitBreakerState = "halted" // everything flattened, no new entries
)

// Command is an operator request. Commands are queued and only take effect
// when the tick loop drains them at the start of a tick.
type Command string

const (
	CmdPause         Command = "pause"
	CmdResume        Command = "resume"
	CmdForceCloseAll Command = "force_close_all"
)

func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CmdPause, CmdResume, CmdForceCloseAll:
		return c, nil
	}
	return "", fmt.Errorf("unknown breaker command %q", s)
}

// Request is one queued command.
type Request struct {
	Command       Command   `json:"command"`
	UserID        string    `json:"user_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	CorrelationID string    `json:"correlation_id"`
}

// CircuitBreakerEvent is one line of the append-only event log
type CircuitBreakerEvent struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlation_id"`
	UserID        string         `json:"user_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

const (
	EventCommandReceived = "command_received"
	EventStateChanged    = "state_changed"
	EventForceClosed     = "force_closed"
)

// CircuitBreaker is the one piece of state written from outside the tick
// loop. Submit may be called from any goroutine; Drain belongs to the loop.
type CircuitBreaker struct {
	mu sync.Mutex

	state          CircuitBreakerState
	stateEnteredAt time.Time
	pending        []Request

	// event sourcing; an empty eventLog keeps events in memory only
	events      []CircuitBreakerEvent
	eventLog    string
	lastEventID int64

	now func() time.Time
}

// NewCircuitBreaker restores state from eventLogPath when it exists.
func NewCircuitBreaker(eventLogPath string) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:    StateNormal,
		eventLog: eventLogPath,
		now:      time.Now,
	}
	cb.stateEnteredAt = cb.now()

	if err := cb.loadEvents(); err != nil {
		observ.IncCounter("circuit_breaker_load_errors_total", nil)
		observ.Error("breaker_load_failed", map[string]any{"path": eventLogPath, "error": err.Error()})
	}
	cb.replayEvents()
	cb.publish()
	return cb
}

// Submit queues a command. It never blocks on the tick loop.
func (cb *CircuitBreaker) Submit(cmd Command, userID, reason string) (Request, error) {
	if _, err := ParseCommand(string(cmd)); err != nil {
		return Request{}, err
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	at := cb.now()
	req := Request{
		Command:       cmd,
		UserID:        userID,
		Reason:        reason,
		ReceivedAt:    at,
		CorrelationID: fmt.Sprintf("%s_%d", cmd, at.UnixNano()),
	}
	cb.pending = append(cb.pending, req)
	err := cb.addEvent(EventCommandReceived, map[string]any{"command": string(cmd)}, req.CorrelationID, userID, reason)

	observ.Log("breaker_command", map[string]any{"command": string(cmd), "user_id": userID, "reason": reason})
	observ.IncCounter("breaker_commands_total", map[string]string{"command": string(cmd)})
	return req, err
}

// Drain applies queued commands in arrival order and returns them so the
// caller can act on force_close_all.
func (cb *CircuitBreaker) Drain() []Request {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.pending) == 0 {
		return nil
	}
	reqs := cb.pending
	cb.pending = nil
	for _, r := range reqs {
		switch r.Command {
		case CmdPause:
			if cb.state == StateNormal {
				cb.setState(StatePaused, r)
			}
		case CmdResume:
			cb.setState(StateNormal, r)
		case CmdForceCloseAll:
			cb.setState(StateHalted, r)
		}
	}
	return reqs
}

// RecordForceClose logs how many positions a force_close_all flattened.
func (cb *CircuitBreaker) RecordForceClose(req Request, closed int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	_ = cb.addEvent(EventForceClosed, map[string]any{"positions_closed": closed}, req.CorrelationID, req.UserID, req.Reason)
}

func (cb *CircuitBreaker) setState(next CircuitBreakerState, r Request) {
	prev := cb.state
	if prev == next {
		return
	}
	observ.Observe("circuit_breaker_state_duration_seconds", cb.now().Sub(cb.stateEnteredAt).Seconds(),
		map[string]string{"state": string(prev)})
	cb.state = next
	cb.stateEnteredAt = cb.now()
	_ = cb.addEvent(EventStateChanged, map[string]any{
		"previous_state": string(prev),
		"new_state":      string(next),
	}, r.CorrelationID, r.UserID, string(r.Command))
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{"from": string(prev), "to": string(next)})
	cb.publish()
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Engaged reports whether new entries are vetoed.
func (cb *CircuitBreaker) Engaged() bool {
	return cb.State() != StateNormal
}

func (cb *CircuitBreaker) Pending() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.pending)
}

func (cb *CircuitBreaker) GetStatus() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"state":                 string(cb.state),
		"state_entered_at":      cb.stateEnteredAt,
		"pending_commands":      len(cb.pending),
		"time_in_current_state": cb.now().Sub(cb.stateEnteredAt).String(),
		"events":                len(cb.events),
	}
}

func (cb *CircuitBreaker) publish() {
	v := 0.0
	if cb.state != StateNormal {
		v = 1
	}
	observ.SetGauge("breaker_engaged", v, nil)
	observ.SetGauge("circuit_breaker_state", stateToFloat(cb.state), nil)
}

func stateToFloat(s CircuitBreakerState) float64 {
	switch s {
	case StateNormal:
		return 0
	case StatePaused:
		return 1
	case StateHalted:
		return 2
	default:
		return -1
	}
}
