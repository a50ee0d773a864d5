package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// WSClient implements Client over a WebSocket stream of JSON envelopes.
// On reconnect it passes last_event_id so the server can resume.
type WSClient struct {
	config    Config
	dialer    *websocket.Dialer
	eventChan chan EventEnvelope

	mu          sync.RWMutex
	lastEventID string
	err         error
	state       int32 // atomic ConnectionState

	connMu sync.Mutex
	conn   *websocket.Conn

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	eventsOnce sync.Once

	// Metrics
	reconnectAttempts   int64
	messagesReceived    int64
	dupesDropped        int64
	gapsDetected        int64
	consecutiveFailures int64
}

func NewWSClient(config Config) *WSClient {
	if config.MaxChannelBuffer <= 0 {
		config.MaxChannelBuffer = 1024
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.Reconnect.InitialDelayMs <= 0 {
		config.Reconnect.InitialDelayMs = 250
	}
	if config.Reconnect.MaxDelayMs < config.Reconnect.InitialDelayMs {
		config.Reconnect.MaxDelayMs = config.Reconnect.InitialDelayMs
	}
	c := &WSClient{
		config:    config,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		eventChan: make(chan EventEnvelope, config.MaxChannelBuffer),
	}
	atomic.StoreInt32(&c.state, int32(StateDisconnected))
	return c
}

func (c *WSClient) Start(ctx context.Context) (<-chan EventEnvelope, error) {
	if _, err := url.Parse(c.config.URL); err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	return c.eventChan, nil
}

// Close stops the client and closes the event channel.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeConn()
		c.wg.Wait()
		c.closeEvents()
	})
	return nil
}

// closeEvents closes the event channel; only the consume loop sends on it.
func (c *WSClient) closeEvents() {
	c.eventsOnce.Do(func() { close(c.eventChan) })
}

func (c *WSClient) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *WSClient) LastEventID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEventID
}

func (c *WSClient) ConnectionState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

func (c *WSClient) setState(s ConnectionState) {
	atomic.StoreInt32(&c.state, int32(s))
	observ.SetGauge("feed_connection_state", float64(s), nil)
}

// consumeLoop handles connection and reconnection with exponential backoff
func (c *WSClient) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.config.Reconnect.InitialDelayMs

	for ctx.Err() == nil {
		c.setState(StateConnecting)
		err := c.connectAndConsume(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		failures := atomic.AddInt64(&c.consecutiveFailures, 1)
		if max := c.config.Reconnect.MaxAttempts; max > 0 && failures > int64(max) {
			observ.Error("feed_reconnect_exhausted", map[string]any{"url": c.config.URL, "attempts": failures, "error": fmt.Sprint(err)})
			c.mu.Lock()
			c.err = fmt.Errorf("%w after %d attempts: %v", ErrReconnectsExhausted, failures, err)
			c.mu.Unlock()
			c.closeEvents()
			return
		}

		jitter := 0
		if c.config.Reconnect.JitterMs > 0 {
			jitter = rand.Intn(c.config.Reconnect.JitterMs)
		}
		delay := time.Duration(backoff+jitter) * time.Millisecond
		observ.Warn("feed_disconnected", map[string]any{"url": c.config.URL, "error": fmt.Sprint(err), "retry_ms": delay.Milliseconds()})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > c.config.Reconnect.MaxDelayMs {
			backoff = c.config.Reconnect.MaxDelayMs
		}
		atomic.AddInt64(&c.reconnectAttempts, 1)
		observ.IncCounter("feed_reconnects_total", nil)
	}
}

func (c *WSClient) dialURL() string {
	last := c.LastEventID()
	if last == "" {
		return c.config.URL
	}
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return c.config.URL
	}
	q := u.Query()
	q.Set("last_event_id", last)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *WSClient) connectAndConsume(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer c.closeConn()

	c.setState(StateConnected)
	atomic.StoreInt64(&c.consecutiveFailures, 0)
	observ.Log("feed_connected", map[string]any{"url": c.config.URL, "last_event_id": c.LastEventID()})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.closeConn()
		case <-stop:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env EventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			observ.IncCounter("feed_decode_errors_total", nil)
			continue
		}
		if !c.accept(env) {
			continue
		}
		select {
		case c.eventChan <- env:
			atomic.AddInt64(&c.messagesReceived, 1)
			c.mu.Lock()
			c.lastEventID = env.ID
			c.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// accept drops replays of already delivered ids and counts gaps. Ids that
// are not numeric are passed through.
func (c *WSClient) accept(env EventEnvelope) bool {
	last := c.LastEventID()
	if last == "" || env.ID == "" {
		return true
	}
	lastNum, err1 := strconv.ParseInt(last, 10, 64)
	curNum, err2 := strconv.ParseInt(env.ID, 10, 64)
	if err1 != nil || err2 != nil {
		return env.ID != last
	}
	if curNum <= lastNum {
		atomic.AddInt64(&c.dupesDropped, 1)
		return false
	}
	if curNum > lastNum+1 {
		atomic.AddInt64(&c.gapsDetected, 1)
		observ.Warn("feed_gap", map[string]any{"last": last, "current": env.ID})
	}
	return true
}

func (c *WSClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// GetMetrics returns current client metrics
func (c *WSClient) GetMetrics() map[string]any {
	return map[string]any{
		"connection_state":     c.ConnectionState().String(),
		"reconnect_attempts":   atomic.LoadInt64(&c.reconnectAttempts),
		"messages_received":    atomic.LoadInt64(&c.messagesReceived),
		"dupes_dropped":        atomic.LoadInt64(&c.dupesDropped),
		"gaps_detected":        atomic.LoadInt64(&c.gapsDetected),
		"consecutive_failures": atomic.LoadInt64(&c.consecutiveFailures),
		"last_event_id":        c.LastEventID(),
	}
}
