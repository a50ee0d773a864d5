package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
)

// orderAPI is the slice of the Alpaca trading client this adapter uses.
type orderAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrderByClientOrderID(clientOrderID string) (*alpaca.Order, error)
}

// Alpaca routes orders to an Alpaca account. Market/day orders only.
type Alpaca struct {
	api    orderAPI
	symbol string
}

// NewAlpaca builds a trading client. Empty credentials fall back to the
// APCA_* environment variables read by the client itself.
func NewAlpaca(cfg config.Alpaca) *Alpaca {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return &Alpaca{api: client, symbol: cfg.Symbol}
}

func (a *Alpaca) Submit(ctx context.Context, in OrderIntent) (Ack, error) {
	qty := decimal.NewFromInt(in.Quantity)
	symbol := in.Symbol
	if a.symbol != "" {
		symbol = a.symbol
	}
	req := alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          alpaca.Side(in.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: in.ClientOrderID,
	}
	return call(ctx, func() (*alpaca.Order, error) { return a.api.PlaceOrder(req) })
}

func (a *Alpaca) Lookup(ctx context.Context, clientOrderID string) (Ack, error) {
	return call(ctx, func() (*alpaca.Order, error) { return a.api.GetOrderByClientOrderID(clientOrderID) })
}

// call runs a blocking client request and gives up when ctx ends. The
// request itself may still land; callers treat that as an unknown outcome.
func call(ctx context.Context, fn func() (*alpaca.Order, error)) (Ack, error) {
	type result struct {
		o   *alpaca.Order
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := fn()
		done <- result{o, err}
	}()
	select {
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Ack{}, r.err
		}
		if r.o == nil {
			return Ack{}, fmt.Errorf("alpaca: empty order response")
		}
		return ackFromOrder(r.o), nil
	}
}

func ackFromOrder(o *alpaca.Order) Ack {
	ack := Ack{OrderID: o.ID, ClientOrderID: o.ClientOrderID, Status: mapStatus(o.Status)}
	if o.FilledAvgPrice != nil {
		ack.FillPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return ack
}

func mapStatus(s string) Status {
	switch s {
	case "filled":
		return StatusFilled
	case "rejected", "canceled", "expired", "suspended":
		return StatusRejected
	default:
		return StatusPending
	}
}
