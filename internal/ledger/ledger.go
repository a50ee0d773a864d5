package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
)

// Sink receives every closed trade exactly once, in close order.
type Sink interface {
	Append(ctx context.Context, rec lifecycle.ClosedTradeRecord) error
	Close() error
}

// Memory keeps records for report aggregation.
type Memory struct {
	mu      sync.Mutex
	records []lifecycle.ClosedTradeRecord
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, rec lifecycle.ClosedTradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy in append order.
func (m *Memory) Records() []lifecycle.ClosedTradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]lifecycle.ClosedTradeRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Memory) Close() error { return nil }

// Multi fans out to every sink. All sinks are attempted; errors are joined.
type Multi []Sink

func (ms Multi) Append(ctx context.Context, rec lifecycle.ClosedTradeRecord) error {
	var errs []error
	for _, s := range ms {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ms Multi) Close() error {
	var errs []error
	for _, s := range ms {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
