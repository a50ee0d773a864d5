// Package stubs serves a recorded or simulated tick session over the same
// websocket envelope protocol the live feed speaks, for local runs and tests.
package stubs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/transport"
)

// TickServer streams observations as numbered tick envelopes. Event ids
// are 1-based positions in the session, so a client reconnecting with
// last_event_id=n continues at n+1.
type TickServer struct {
	events    []transport.EventEnvelope
	pace      time.Duration
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients int
}

// NewTickServer encodes the session up front. pace is the delay between
// ticks; zero sends as fast as the client reads.
func NewTickServer(obs []indicator.Observation, pace time.Duration) (*TickServer, error) {
	events := make([]transport.EventEnvelope, 0, len(obs))
	for i, o := range obs {
		payload, err := json.Marshal(o)
		if err != nil {
			return nil, err
		}
		events = append(events, transport.EventEnvelope{
			V:       1,
			Type:    "tick",
			ID:      strconv.Itoa(i + 1),
			TS:      o.Timestamp.UTC(),
			Payload: payload,
		})
	}
	return &TickServer{events: events, pace: pace, heartbeat: 10 * time.Second}, nil
}

func (s *TickServer) Len() int { return len(s.events) }

// Clients returns the number of connected websocket clients.
func (s *TickServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

// Handler routes the tick stream, backfill and health endpoints.
func (s *TickServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ticks", s.serveTicks)
	mux.HandleFunc("GET /backfill", s.serveBackfill)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// resumeIndex maps a last delivered id to the next index to send.
func (s *TickServer) resumeIndex(lastID string) int {
	if lastID == "" {
		return 0
	}
	n, err := strconv.Atoi(lastID)
	if err != nil || n < 0 {
		return 0
	}
	if n > len(s.events) {
		return len(s.events)
	}
	return n
}

func (s *TickServer) serveTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observ.Warn("stub_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.mu.Unlock()
	}()

	start := s.resumeIndex(r.URL.Query().Get("last_event_id"))
	observ.Log("stub_client_connected", map[string]any{"remote": r.RemoteAddr, "resume_from": start})

	// drain client frames so close and pong control messages are handled
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := start; i < len(s.events); i++ {
		if err := conn.WriteJSON(s.events[i]); err != nil {
			return
		}
		if s.pace > 0 {
			select {
			case <-time.After(s.pace):
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
	observ.Log("stub_session_sent", map[string]any{"events": len(s.events) - start})

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			hb := transport.EventEnvelope{V: 1, Type: "heartbeat", TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)}
			if err := conn.WriteJSON(hb); err != nil {
				return
			}
		}
	}
}

// BackfillResponse is the body of GET /backfill.
type BackfillResponse struct {
	Events  []transport.EventEnvelope `json:"events"`
	SinceID string                    `json:"since_id"`
	Count   int                       `json:"count"`
	Total   int                       `json:"total"`
	HasMore bool                      `json:"has_more"`
}

func (s *TickServer) serveBackfill(w http.ResponseWriter, r *http.Request) {
	sinceID := r.URL.Query().Get("since_id")
	limit := 1000
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	start := s.resumeIndex(sinceID)
	end := min(start+limit, len(s.events))

	resp := BackfillResponse{
		Events:  s.events[start:end],
		SinceID: sinceID,
		Count:   end - start,
		Total:   len(s.events),
		HasMore: end < len(s.events),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
