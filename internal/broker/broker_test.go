package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
)

func intent(id string) OrderIntent {
	return OrderIntent{
		ClientOrderID:  id,
		Symbol:         "SENSEX",
		Tier:           "conservative",
		Direction:      decision.Long,
		Side:           Buy,
		Quantity:       2,
		ReferencePrice: 80000,
		Kind:           KindEntry,
		OrderKind:      "market",
	}
}

// scripted answers Submit and Lookup from fixed tables.
type scripted struct {
	submitDelay time.Duration
	submitAck   Ack
	submitErr   error
	lookups     []Ack
	lookupErr   error
	calls       int
}

func (s *scripted) Submit(ctx context.Context, in OrderIntent) (Ack, error) {
	if s.submitDelay > 0 {
		select {
		case <-time.After(s.submitDelay):
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		}
	}
	return s.submitAck, s.submitErr
}

func (s *scripted) Lookup(ctx context.Context, id string) (Ack, error) {
	s.calls++
	if s.lookupErr != nil {
		return Ack{}, s.lookupErr
	}
	if len(s.lookups) == 0 {
		return Ack{ClientOrderID: id, Status: StatusPending}, nil
	}
	a := s.lookups[0]
	s.lookups = s.lookups[1:]
	return a, nil
}

func TestPaperFillsAtReference(t *testing.T) {
	p := NewPaper()
	ack, err := p.Submit(context.Background(), intent("a"))
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, ack.Status)
	assert.Equal(t, 80000.0, ack.FillPrice)
	assert.Equal(t, "paper-1", ack.OrderID)

	// idempotent on client order id
	again, err := p.Submit(context.Background(), intent("a"))
	require.NoError(t, err)
	assert.Equal(t, ack, again)

	got, err := p.Lookup(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, ack, got)

	_, err = p.Lookup(context.Background(), "missing")
	assert.Error(t, err)

	bad := intent("b")
	bad.Quantity = 0
	ack, err = p.Submit(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, ack.Status)
}

func TestGuardClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		inner       *scripted
		wantType    string
		wantUnknown bool
	}{
		{"timeout is unknown", &scripted{submitDelay: time.Second}, "timeout", true},
		{"broker error", &scripted{submitErr: errors.New("503")}, "broker_error", false},
		{"rejected", &scripted{submitAck: Ack{Status: StatusRejected}}, "rejected", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.inner, 20*time.Millisecond, 0, 1)
			_, err := g.Submit(context.Background(), intent("x"))
			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantType, se.Type)
			assert.Equal(t, tt.wantUnknown, se.Unknown)
			assert.Equal(t, "x", se.ClientOrderID)
		})
	}
}

func TestGuardPassesFills(t *testing.T) {
	g := NewGuard(NewPaper(), time.Second, 100, 2)
	ack, err := g.Submit(context.Background(), intent("ok"))
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, ack.Status)
}

func TestGuardRateLimitHonoursDeadline(t *testing.T) {
	g := NewGuard(NewPaper(), 10*time.Millisecond, 0.01, 1)
	_, err := g.Submit(context.Background(), intent("first"))
	require.NoError(t, err)

	_, err = g.Submit(context.Background(), intent("second"))
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rate_limit", se.Type)
	assert.False(t, se.Unknown)
}

func TestReconciler(t *testing.T) {
	t.Run("filled on second poll", func(t *testing.T) {
		b := &scripted{lookups: []Ack{{Status: StatusPending}, {OrderID: "o1", Status: StatusFilled, FillPrice: 80001}}}
		r := NewReconciler(b, 3)
		r.Track(intent("c1"), "payload")

		assert.Empty(t, r.Poll(context.Background()))
		res := r.Poll(context.Background())
		require.Len(t, res, 1)
		assert.Equal(t, OutcomeFilled, res[0].Outcome)
		assert.Equal(t, 80001.0, res[0].Ack.FillPrice)
		assert.Equal(t, "payload", res[0].Payload)
		assert.Zero(t, r.Pending())
	})

	t.Run("rejected", func(t *testing.T) {
		r := NewReconciler(&scripted{lookups: []Ack{{Status: StatusRejected}}}, 3)
		r.Track(intent("c2"), nil)
		res := r.Poll(context.Background())
		require.Len(t, res, 1)
		assert.Equal(t, OutcomeRejected, res[0].Outcome)
	})

	t.Run("exhausted", func(t *testing.T) {
		b := &scripted{lookupErr: errors.New("connection reset")}
		r := NewReconciler(b, 2)
		r.Track(intent("c3"), nil)
		assert.Empty(t, r.Poll(context.Background()))
		res := r.Poll(context.Background())
		require.Len(t, res, 1)
		assert.Equal(t, OutcomeIrreconcilable, res[0].Outcome)
		var ie *IrreconcilableError
		require.ErrorAs(t, res[0].Err, &ie)
		assert.Equal(t, 2, ie.Polls)
		assert.Equal(t, 2, b.calls)
		assert.Zero(t, r.Pending())
	})
}

func TestClientOrderIDIsStable(t *testing.T) {
	ts := time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)
	a := ClientOrderID("forced", KindEntry, ts, 1)
	assert.Equal(t, a, ClientOrderID("forced", KindEntry, ts, 1))
	assert.NotEqual(t, a, ClientOrderID("forced", KindExit, ts, 1))
	assert.NotEqual(t, a, ClientOrderID("forced", KindEntry, ts, 2))
	assert.LessOrEqual(t, len(a), 48)
}

func TestSideFor(t *testing.T) {
	assert.Equal(t, Buy, SideFor(decision.Long, KindEntry))
	assert.Equal(t, Sell, SideFor(decision.Long, KindExit))
	assert.Equal(t, Sell, SideFor(decision.Short, KindEntry))
	assert.Equal(t, Buy, SideFor(decision.Short, KindExit))
}

type fakeOrderAPI struct {
	placed []alpaca.PlaceOrderRequest
	order  *alpaca.Order
	err    error
}

func (f *fakeOrderAPI) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = append(f.placed, req)
	return f.order, f.err
}

func (f *fakeOrderAPI) GetOrderByClientOrderID(id string) (*alpaca.Order, error) {
	return f.order, f.err
}

func TestAlpacaSubmitMapsOrder(t *testing.T) {
	px := decimal.NewFromFloat(412.5)
	api := &fakeOrderAPI{order: &alpaca.Order{ID: "alp-1", ClientOrderID: "c1", Status: "filled", FilledAvgPrice: &px}}
	a := &Alpaca{api: api, symbol: "SPY"}

	in := intent("c1")
	in.Side = Sell
	ack, err := a.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, Ack{OrderID: "alp-1", ClientOrderID: "c1", Status: StatusFilled, FillPrice: 412.5}, ack)

	require.Len(t, api.placed, 1)
	req := api.placed[0]
	assert.Equal(t, "SPY", req.Symbol)
	assert.Equal(t, "c1", req.ClientOrderID)
	assert.Equal(t, alpaca.Side("sell"), req.Side)
	assert.True(t, req.Qty.Equal(decimal.NewFromInt(2)))
}

func TestAlpacaStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"filled":           StatusFilled,
		"new":              StatusPending,
		"partially_filled": StatusPending,
		"accepted":         StatusPending,
		"rejected":         StatusRejected,
		"canceled":         StatusRejected,
		"expired":          StatusRejected,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), in)
	}
}

func TestAlpacaLookupError(t *testing.T) {
	a := &Alpaca{api: &fakeOrderAPI{err: errors.New("404")}}
	_, err := a.Lookup(context.Background(), "c9")
	assert.Error(t, err)
}
