package feed

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/transport"
)

const EventTick = "tick"

// Stream adapts a transport client to a Source. Next waits at most wait
// for an event and returns ErrNoData when none arrives.
// A closed channel ends the stream with the client's terminal error, or
// io.EOF when the client was closed normally.
type Stream struct {
	client transport.Client
	events <-chan transport.EventEnvelope
	wait   time.Duration
}

// NewStream starts the client and reads from it.
func NewStream(ctx context.Context, c transport.Client, wait time.Duration) (*Stream, error) {
	ch, err := c.Start(ctx)
	if err != nil {
		return nil, err
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &Stream{client: c, events: ch, wait: wait}, nil
}

func (s *Stream) Next(ctx context.Context) (indicator.Observation, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return indicator.Observation{}, ctx.Err()
		case <-timer.C:
			return indicator.Observation{}, ErrNoData
		case env, ok := <-s.events:
			if !ok {
				if err := s.client.Err(); err != nil {
					return indicator.Observation{}, err
				}
				return indicator.Observation{}, io.EOF
			}
			if env.Type != EventTick {
				continue
			}
			var obs indicator.Observation
			if err := json.Unmarshal(env.Payload, &obs); err != nil {
				observ.IncCounter("feed_decode_errors_total", map[string]string{"type": env.Type})
				continue
			}
			if obs.Timestamp.IsZero() {
				obs.Timestamp = env.TS
			}
			return obs, nil
		}
	}
}
