// Package control is the operator surface for the circuit breaker. Commands
// are queued on the breaker and take effect at the start of the next tick.
package control

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/risk"
)

const (
	headerSignature = "X-Control-Signature"
	headerTimestamp = "X-Control-Timestamp"
	maxSkew         = 5 * time.Minute
)

// CommandRequest is the body of a POST /control/{command}.
type CommandRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type CommandResponse struct {
	Accepted      bool   `json:"accepted"`
	Command       string `json:"command,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Pending       int    `json:"pending,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Server struct {
	breaker      *risk.CircuitBreaker
	secret       string
	allowedUsers map[string]bool

	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func New(cb *risk.CircuitBreaker, cfg config.Control) *Server {
	s := &Server{
		breaker: cb,
		secret:  cfg.SigningSecret,
		nonces:  map[string]time.Time{},
		now:     time.Now,
	}
	if len(cfg.AllowedUsers) > 0 {
		s.allowedUsers = map[string]bool{}
		for _, u := range cfg.AllowedUsers {
			s.allowedUsers[u] = true
		}
	}
	return s
}

// Handler routes the control, metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /control/{command}", s.handleCommand)
	mux.HandleFunc("GET /control/status", s.handleStatus)
	mux.Handle("GET /metrics", observ.Handler())
	mux.Handle("GET /health", observ.HealthHandler())
	mux.Handle("GET /healthz", observ.Health())
	return mux
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	observ.Log("control_listening", map[string]any{"addr": addr, "signed": s.secret != ""})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := risk.ParseCommand(r.PathValue("command"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, CommandResponse{Error: err.Error()})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "failed to read body"})
		return
	}
	if !s.verifySignature(body, r.Header.Get(headerSignature), r.Header.Get(headerTimestamp)) {
		observ.IncCounter("control_rejected_total", map[string]string{"reason": "signature"})
		writeJSON(w, http.StatusUnauthorized, CommandResponse{Error: "invalid signature"})
		return
	}

	var req CommandRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "invalid json body"})
			return
		}
	}
	if !s.userAllowed(req.UserID) {
		observ.IncCounter("control_rejected_total", map[string]string{"reason": "rbac"})
		observ.Warn("control_denied", map[string]any{"user_id": req.UserID, "command": string(cmd)})
		writeJSON(w, http.StatusForbidden, CommandResponse{Error: "user not allowed"})
		return
	}

	queued, err := s.breaker.Submit(cmd, req.UserID, req.Reason)
	resp := CommandResponse{
		Accepted:      true,
		Command:       string(cmd),
		CorrelationID: queued.CorrelationID,
		Pending:       s.breaker.Pending(),
	}
	if err != nil {
		// queued, but the event log write failed
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.breaker.GetStatus()
	status["recent_events"] = s.breaker.Events(20)
	writeJSON(w, http.StatusOK, status)
}

// verifySignature checks "v0=" + hex(HMAC-SHA256(secret, "v0:<ts>:<body>")),
// rejecting stale timestamps and replays. No secret means no check.
func (s *Server) verifySignature(body []byte, signature, timestamp string) bool {
	if s.secret == "" {
		return true
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := s.now()
	if d := now.Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for n, seen := range s.nonces {
		if now.Sub(seen) > 2*maxSkew {
			delete(s.nonces, n)
		}
	}
	nonce := signature + timestamp
	if _, replay := s.nonces[nonce]; replay {
		return false
	}
	s.nonces[nonce] = now
	return true
}

func (s *Server) userAllowed(userID string) bool {
	return s.allowedUsers == nil || s.allowedUsers[userID]
}

// Sign produces the signature header value for body at ts.
func Sign(secret string, ts time.Time, body []byte) (signature, timestamp string) {
	timestamp = strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil)), timestamp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
