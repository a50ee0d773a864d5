package risk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// addEvent records and persists an event. Callers hold cb.mu.
func (cb *CircuitBreaker) addEvent(eventType string, data map[string]any, correlationID, userID, reason string) error {
	cb.lastEventID++
	event := CircuitBreakerEvent{
		ID:            fmt.Sprintf("cb_%d", cb.lastEventID),
		Timestamp:     cb.now().UTC(),
		Type:          eventType,
		Data:          data,
		CorrelationID: correlationID,
		UserID:        userID,
		Reason:        reason,
	}
	cb.events = append(cb.events, event)
	observ.IncCounter("circuit_breaker_events_total", map[string]string{"event_type": eventType})

	if err := cb.persistEvent(event); err != nil {
		observ.IncCounter("circuit_breaker_persist_errors_total", map[string]string{"event_type": eventType})
		return err
	}
	return nil
}

// persistEvent appends an event to the append-only event log
func (cb *CircuitBreaker) persistEvent(event CircuitBreakerEvent) error {
	if cb.eventLog == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cb.eventLog), 0755); err != nil {
		return fmt.Errorf("failed to create event log directory: %w", err)
	}
	file, err := os.OpenFile(cb.eventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%s\n", eventJSON); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// loadEvents loads all events from the event log file
func (cb *CircuitBreaker) loadEvents() error {
	if cb.eventLog == "" {
		return nil
	}
	file, err := os.Open(cb.eventLog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var events []CircuitBreakerEvent
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event CircuitBreakerEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			observ.IncCounter("circuit_breaker_parse_errors_total", nil)
			continue
		}
		events = append(events, event)
		if id, err := strconv.ParseInt(strings.TrimPrefix(event.ID, "cb_"), 10, 64); err == nil && id > cb.lastEventID {
			cb.lastEventID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading event log: %w", err)
	}
	cb.events = events
	observ.SetGauge("circuit_breaker_events_loaded", float64(len(events)), nil)
	return nil
}

// replayEvents rebuilds state from state_changed events. Commands that were
// received but never drained are dropped; the operator must resend them.
func (cb *CircuitBreaker) replayEvents() {
	for _, event := range cb.events {
		if event.Type != EventStateChanged {
			continue
		}
		next, ok := event.Data["new_state"].(string)
		if !ok {
			observ.IncCounter("circuit_breaker_replay_errors_total", map[string]string{"event_id": event.ID})
			continue
		}
		cb.state = CircuitBreakerState(next)
		cb.stateEnteredAt = event.Timestamp
	}
}

// Events returns up to max most recent events, newest last.
func (cb *CircuitBreaker) Events(max int) []CircuitBreakerEvent {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	start := 0
	if max > 0 && len(cb.events) > max {
		start = len(cb.events) - max
	}
	out := make([]CircuitBreakerEvent, len(cb.events)-start)
	copy(out, cb.events[start:])
	return out
}
