package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventEnvelope wraps all wire events with metadata for ordering and resume
type EventEnvelope struct {
	V       int             `json:"v"`       // Version for future compatibility
	Type    string          `json:"type"`    // Event type: tick, heartbeat
	ID      string          `json:"id"`      // Monotonic ID for ordering and deduplication
	TS      time.Time       `json:"ts_utc"`  // Server timestamp when event was emitted
	Payload json.RawMessage `json:"payload"` // Raw event data
}

// Client represents a wire transport client
type Client interface {
	// Start begins consuming events and returns a channel of envelopes.
	// Context cancellation stops the client gracefully.
	Start(ctx context.Context) (<-chan EventEnvelope, error)

	// Close shuts down the client and cleans up resources
	Close() error

	// LastEventID returns the last successfully delivered event ID for resume
	LastEventID() string

	// ConnectionState returns current connection state for metrics
	ConnectionState() ConnectionState

	// Err reports why the event channel was closed. It is nil while the
	// client runs and after a normal Close.
	Err() error
}

// ErrReconnectsExhausted closes the event channel once MaxAttempts
// consecutive connection attempts have failed.
var ErrReconnectsExhausted = errors.New("transport: reconnect attempts exhausted")

// ConnectionState represents the current state of a transport connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // 0 = down
	StateConnecting                          // 1 = connecting
	StateConnected                           // 2 = up
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type Config struct {
	URL              string
	ReadTimeout      time.Duration
	MaxChannelBuffer int
	Reconnect        ReconnectConfig
}

type ReconnectConfig struct {
	InitialDelayMs int
	MaxDelayMs     int
	MaxAttempts    int // <=0 for infinite
	JitterMs       int
}

// NewClient picks a client by URL scheme.
func NewClient(config Config) (Client, error) {
	if strings.HasPrefix(config.URL, "ws://") || strings.HasPrefix(config.URL, "wss://") {
		return NewWSClient(config), nil
	}
	return nil, fmt.Errorf("unsupported transport url %q", config.URL)
}
