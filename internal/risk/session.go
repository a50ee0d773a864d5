package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionState is day-scoped. Counters only grow within a day.
type SessionState struct {
	Date              string         `json:"date"`
	TradesOpened      int            `json:"trades_opened"`
	TradesByTier      map[string]int `json:"trades_by_tier"`
	TradesClosed      int            `json:"trades_closed"`
	Wins              int            `json:"wins"`
	Losses            int            `json:"losses"`
	RealizedPnL       float64        `json:"realized_pnl"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	// DailyLossHit latches once realized P&L reaches the daily loss limit
	// and stays set until the next session.
	DailyLossHit      bool           `json:"daily_loss_hit"`
	BreakerEngaged    bool           `json:"breaker_engaged"`
}

func NewSessionState(date string) SessionState {
	return SessionState{Date: date, TradesByTier: map[string]int{}}
}

func (s SessionState) Clone() SessionState {
	c := s
	c.TradesByTier = make(map[string]int, len(s.TradesByTier))
	for k, v := range s.TradesByTier {
		c.TradesByTier[k] = v
	}
	return c
}

type persistedSession struct {
	Version   int64        `json:"version"`
	UpdatedAt string       `json:"updated_at"`
	State     SessionState `json:"state"`
}

// SessionStore keeps SessionState on disk so a restart within the same day
// resumes its counters.
type SessionStore struct {
	path    string
	version int64
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Load returns the stored state when it belongs to date.
func (s *SessionStore) Load(date string) (SessionState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionState{}, false, nil
		}
		return SessionState{}, false, fmt.Errorf("failed to read session state: %w", err)
	}
	var p persistedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return SessionState{}, false, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	s.version = p.Version
	if p.State.Date != date {
		return SessionState{}, false, nil
	}
	if p.State.TradesByTier == nil {
		p.State.TradesByTier = map[string]int{}
	}
	return p.State, true, nil
}

// Save writes atomically via temp file + rename.
func (s *SessionStore) Save(state SessionState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	s.version++
	data, err := json.MarshalIndent(persistedSession{
		Version:   s.version,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		State:     state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp session state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename session state: %w", err)
	}
	return nil
}
