package broker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// Guard bounds every broker call with a timeout and a submission rate.
// Submit returns either a filled or pending Ack, or a *SubmissionError.
type Guard struct {
	inner   Broker
	timeout time.Duration
	limiter *rate.Limiter
}

func NewGuard(inner Broker, timeout time.Duration, perSecond float64, burst int) *Guard {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Guard{inner: inner, timeout: timeout, limiter: rate.NewLimiter(limit, burst)}
}

func GuardFromConfig(inner Broker, cfg config.Broker) *Guard {
	return NewGuard(inner, time.Duration(cfg.TimeoutMs)*time.Millisecond, cfg.RatePerSecond, cfg.Burst)
}

func (g *Guard) Submit(ctx context.Context, in OrderIntent) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() { observ.RecordDuration("broker_submit", time.Since(start), map[string]string{"kind": string(in.Kind)}) }()

	if err := g.limiter.Wait(ctx); err != nil {
		return Ack{}, g.fail(in, NewRateLimitError(in.ClientOrderID, err))
	}
	ack, err := g.inner.Submit(ctx, in)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Ack{}, g.fail(in, NewTimeoutError(in.ClientOrderID, err))
	case err != nil:
		var se *SubmissionError
		if errors.As(err, &se) {
			return Ack{}, g.fail(in, se)
		}
		return Ack{}, g.fail(in, NewBrokerError(in.ClientOrderID, err))
	case ack.Status == StatusRejected:
		return ack, g.fail(in, NewRejectedError(in.ClientOrderID, "broker rejected order"))
	}
	return ack, nil
}

func (g *Guard) Lookup(ctx context.Context, clientOrderID string) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.Lookup(ctx, clientOrderID)
}

func (g *Guard) fail(in OrderIntent, se *SubmissionError) *SubmissionError {
	observ.IncCounter("broker_submission_failures_total", map[string]string{"type": se.Type, "kind": string(in.Kind)})
	event := "order_submission_failed"
	if se.Unknown {
		event = "order_unknown_outcome"
	}
	observ.Warn(event, map[string]any{
		"client_order_id": in.ClientOrderID,
		"tier":            in.Tier,
		"kind":            string(in.Kind),
		"type":            se.Type,
		"error":           se.Error(),
	})
	return se
}
