package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// Paper fills every market order immediately at its reference price.
// Results depend only on the intents, so backtests are repeatable.
type Paper struct {
	mu     sync.Mutex
	orders map[string]Ack
	seq    int64
}

func NewPaper() *Paper {
	return &Paper{orders: map[string]Ack{}}
}

func (p *Paper) Submit(ctx context.Context, in OrderIntent) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ack, ok := p.orders[in.ClientOrderID]; ok {
		return ack, nil
	}
	if in.Quantity <= 0 || in.ReferencePrice <= 0 {
		ack := Ack{ClientOrderID: in.ClientOrderID, Status: StatusRejected}
		p.orders[in.ClientOrderID] = ack
		return ack, nil
	}
	p.seq++
	ack := Ack{
		OrderID:       fmt.Sprintf("paper-%d", p.seq),
		ClientOrderID: in.ClientOrderID,
		Status:        StatusFilled,
		FillPrice:     in.ReferencePrice,
	}
	p.orders[in.ClientOrderID] = ack
	observ.IncCounter("paper_fills_total", map[string]string{"kind": string(in.Kind), "side": string(in.Side)})
	return ack, nil
}

func (p *Paper) Lookup(ctx context.Context, clientOrderID string) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ack, ok := p.orders[clientOrderID]
	if !ok {
		return Ack{}, fmt.Errorf("paper: unknown client order id %s", clientOrderID)
	}
	return ack, nil
}
