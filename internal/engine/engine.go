// Package engine runs one tick of the scalper: breaker commands, indicators,
// regime, exits, reconciliation, the arbiter and risk, then entry. Backtest
// and live mode share ProcessTick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/broker"
	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/ledger"
	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/regime"
	"github.com/Rajchodisetti/sensex-scalper/internal/report"
	"github.com/Rajchodisetti/sensex-scalper/internal/risk"
)

// Options carries the collaborators. Zero values give a self-contained
// paper engine: immediate fills, in-memory breaker, no persistence.
type Options struct {
	Broker  broker.Broker
	Ledger  ledger.Sink
	Breaker *risk.CircuitBreaker
	Store   *risk.SessionStore
}

// TickResult describes what one tick did.
type TickResult struct {
	Timestamp     time.Time
	Skipped       *DataGapError
	Commands      []risk.Request
	Regime        regime.State
	Decision      decision.Decision
	Authorization *risk.Authorization
	EntryErr      error
	Opened        []lifecycle.Position
	Closed        []lifecycle.ClosedTradeRecord
}

type pendingEntry struct {
	order risk.Order
	tier  decision.Tier
	at    time.Time
}

type pendingExit struct {
	exit lifecycle.ExitDecision
	at   time.Time
}

// Engine is single-threaded. Only the breaker may be touched from other
// goroutines, and only through Submit.
type Engine struct {
	cfg     config.Root
	symbol  string
	session decision.Session
	params  indicator.Params

	window    *indicator.Window
	adapter   *regime.Adapter
	arbiter   *decision.Arbiter
	tiers     map[string]decision.Tier
	risk      *risk.Manager
	positions *lifecycle.Controller

	broker     broker.Broker
	reconciler *broker.Reconciler
	breaker    *risk.CircuitBreaker
	store      *risk.SessionStore
	sink       ledger.Sink
	trades     *ledger.Memory

	lastTS       time.Time
	seq          int64
	pendingTier  map[string]int
	exiting      map[string]bool
	exitAttempts map[string]int64
	dirty        bool
}

func New(cfg config.Root, opts Options) (*Engine, error) {
	session, err := decision.SessionFromConfig(cfg.Session)
	if err != nil {
		return nil, err
	}
	tiers := decision.TiersFromConfig(cfg.Tiers)
	if len(tiers) == 0 {
		return nil, &config.ConfigError{Field: "tiers", Reason: "no tiers configured"}
	}
	byName := make(map[string]decision.Tier, len(tiers))
	for _, t := range tiers {
		byName[t.Name] = t
	}

	b := opts.Broker
	if b == nil {
		b = broker.NewPaper()
	}
	cb := opts.Breaker
	if cb == nil {
		cb = risk.NewCircuitBreaker("")
	}
	polls := cfg.Broker.MaxStatusPolls
	params := indicator.Params{
		MomentumLookback:  cfg.Indicators.MomentumLookback,
		VolatilitySamples: cfg.Indicators.VolatilitySamples,
		ShortMA:           cfg.Indicators.ShortMA,
		LongMA:            cfg.Indicators.LongMA,
		RSIPeriod:         cfg.Indicators.RSIPeriod,
	}

	e := &Engine{
		cfg:     cfg,
		symbol:  cfg.Symbol,
		session: session,
		params:  params,
		window:  indicator.NewWindow(cfg.Indicators.Window),
		adapter: regime.NewAdapter(regime.TableFromConfig(cfg.Regimes)),
		arbiter: decision.NewArbiter(tiers, decision.ForcedPolicy{
			Disabled:        cfg.Forced.Disabled,
			ConfidenceFloor: cfg.Forced.ConfidenceFloor,
			LargeMovePoints: cfg.Forced.LargeMovePoints,
			Session:         session,
		}),
		tiers:        byName,
		risk:         risk.NewManager(risk.ConfigFromRoot(cfg.Risk), ""),
		positions:    lifecycle.NewController(session),
		broker:       b,
		reconciler:   broker.NewReconciler(b, polls),
		breaker:      cb,
		store:        opts.Store,
		sink:         opts.Ledger,
		trades:       ledger.NewMemory(),
		pendingTier:  map[string]int{},
		exiting:      map[string]bool{},
		exitAttempts: map[string]int64{},
	}
	e.risk.SetBreaker(cb.Engaged())
	return e, nil
}

// ProcessTick handles one observation. A DataGapError is reported in the
// result, not returned. The returned error collects failures an operator
// must see (irreconcilable orders, ledger or state writes); the tick itself
// has been fully applied when it is non-nil.
func (e *Engine) ProcessTick(ctx context.Context, obs indicator.Observation) (TickResult, error) {
	start := time.Now()
	res := TickResult{Timestamp: obs.Timestamp}
	res.Commands = e.applyCommands()

	if gap := e.checkGap(obs); gap != nil {
		res.Skipped = gap
		observ.Warn("tick_skipped", map[string]any{"reason": gap.Reason, "error": gap.Error()})
		observ.IncCounter("ticks_skipped_total", map[string]string{"reason": gap.Reason})
		return res, nil
	}
	e.lastTS = obs.Timestamp

	var errs []error
	if err := e.rollSession(obs.Timestamp); err != nil {
		errs = append(errs, err)
	}

	e.window.Push(obs)
	snap := e.window.Snapshot(e.params)
	res.Regime = e.adapter.Update(snap)

	closed, err := e.runExits(ctx, obs)
	res.Closed = append(res.Closed, closed...)
	errs = append(errs, err)

	opened, closed, err := e.reconcile(ctx, obs)
	res.Opened = append(res.Opened, opened...)
	res.Closed = append(res.Closed, closed...)
	errs = append(errs, err)

	res.Decision = e.arbiter.Decide(decision.Input{
		Snapshot:    snap,
		Threshold:   res.Regime,
		TradesToday: e.risk.Session().TradesOpened,
	})
	if res.Decision.Outcome == decision.OutcomeSignal {
		auth, pos, err := e.enter(ctx, res.Decision.Signal, obs.Timestamp)
		res.Authorization = &auth
		res.EntryErr = err
		if pos != nil {
			res.Opened = append(res.Opened, *pos)
		}
	}

	errs = append(errs, e.persist())
	observ.IncCounter("ticks_processed_total", nil)
	observ.RecordDuration("tick_latency", time.Since(start), nil)
	return res, errors.Join(errs...)
}

// Idle applies queued breaker commands when the feed has nothing to offer.
func (e *Engine) Idle() []risk.Request {
	return e.applyCommands()
}

func (e *Engine) applyCommands() []risk.Request {
	reqs := e.breaker.Drain()
	for _, r := range reqs {
		if r.Command == risk.CmdForceCloseAll {
			n := e.positions.RequestManualClose("force_close_all")
			e.breaker.RecordForceClose(r, n)
			observ.Warn("force_close_all", map[string]any{"positions": n, "user_id": r.UserID, "reason": r.Reason})
		}
	}
	e.risk.SetBreaker(e.breaker.Engaged())
	return reqs
}

func (e *Engine) checkGap(obs indicator.Observation) *DataGapError {
	switch {
	case obs.Timestamp.IsZero():
		return &DataGapError{Price: obs.Price, Reason: "missing_timestamp"}
	case obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0):
		return &DataGapError{Timestamp: obs.Timestamp, Price: obs.Price, Reason: "bad_price"}
	case !e.lastTS.IsZero() && !obs.Timestamp.After(e.lastTS):
		return &DataGapError{Timestamp: obs.Timestamp, Previous: e.lastTS, Price: obs.Price, Reason: "out_of_order"}
	}
	return nil
}

// rollSession starts a new risk session when the tick's day changes. On
// the first tick a same-day persisted session is restored instead.
func (e *Engine) rollSession(ts time.Time) error {
	day := e.session.Day(ts)
	current := e.risk.Session().Date
	if day == current {
		return nil
	}
	e.dirty = true
	if current == "" && e.store != nil {
		st, ok, err := e.store.Load(day)
		if err != nil {
			e.risk.ResetSession(day)
			e.risk.SetBreaker(e.breaker.Engaged())
			return fmt.Errorf("restore session %s: %w", day, err)
		}
		if ok {
			e.risk.Restore(st)
			e.risk.SetBreaker(e.breaker.Engaged())
			observ.Log("session_restored", map[string]any{"date": day, "trades_opened": st.TradesOpened, "realized_pnl": st.RealizedPnL})
			return nil
		}
	}
	if current != "" {
		e.window.Reset()
	}
	e.risk.ResetSession(day)
	e.risk.SetBreaker(e.breaker.Engaged())
	return nil
}

func (e *Engine) runExits(ctx context.Context, obs indicator.Observation) ([]lifecycle.ClosedTradeRecord, error) {
	var (
		out  []lifecycle.ClosedTradeRecord
		errs []error
	)
	for _, x := range e.positions.Due(obs.Price, obs.Timestamp) {
		if e.exiting[x.PositionID] {
			continue
		}
		e.exitAttempts[x.PositionID]++
		intent := broker.OrderIntent{
			ClientOrderID:  broker.ClientOrderID(x.PositionID, broker.KindExit, time.Time{}, e.exitAttempts[x.PositionID]),
			Symbol:         e.symbol,
			Tier:           x.Tier,
			Direction:      x.Direction,
			Side:           broker.SideFor(x.Direction, broker.KindExit),
			Quantity:       x.Quantity,
			ReferencePrice: x.Price,
			Kind:           broker.KindExit,
			OrderKind:      "market",
			PositionID:     x.PositionID,
		}
		ack, err := e.broker.Submit(ctx, intent)
		var se *broker.SubmissionError
		switch {
		case errors.As(err, &se) && se.Unknown, err == nil && ack.Status == broker.StatusPending:
			e.exiting[x.PositionID] = true
			e.reconciler.Track(intent, pendingExit{exit: x, at: obs.Timestamp})
			continue
		case err != nil, ack.Status == broker.StatusRejected:
			// the position stays open and is retried next tick
			observ.Warn("exit_not_filled", map[string]any{"position_id": x.PositionID, "status": string(x.Status), "error": errString(err)})
			continue
		}
		rec, err := e.close(ctx, x, fillOr(ack.FillPrice, x.Price), obs.Timestamp)
		if rec != nil {
			out = append(out, *rec)
		}
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// close archives the position and fans the record out to the risk manager
// and the ledgers.
func (e *Engine) close(ctx context.Context, x lifecycle.ExitDecision, price float64, at time.Time) (*lifecycle.ClosedTradeRecord, error) {
	delete(e.exiting, x.PositionID)
	delete(e.exitAttempts, x.PositionID)
	rec, err := e.positions.Close(x.PositionID, x.Status, price, at, x.Reason)
	if err != nil {
		return nil, err
	}
	e.risk.RecordClose(rec.Tier, rec.PnL)
	e.dirty = true
	_ = e.trades.Append(ctx, rec)
	if e.sink != nil {
		if err := e.sink.Append(ctx, rec); err != nil {
			observ.IncCounter("ledger_append_failures_total", nil)
			observ.Error("ledger_append_failed", map[string]any{"position_id": rec.PositionID, "error": err.Error()})
			return &rec, fmt.Errorf("ledger append %s: %w", rec.PositionID, err)
		}
	}
	return &rec, nil
}

func (e *Engine) reconcile(ctx context.Context, obs indicator.Observation) ([]lifecycle.Position, []lifecycle.ClosedTradeRecord, error) {
	if e.reconciler.Pending() == 0 {
		return nil, nil, nil
	}
	var (
		opened []lifecycle.Position
		closed []lifecycle.ClosedTradeRecord
		errs   []error
	)
	for _, r := range e.reconciler.Poll(ctx) {
		switch p := r.Payload.(type) {
		case pendingEntry:
			e.pendingTier[p.order.Tier]--
			if r.Outcome == broker.OutcomeFilled {
				pos, err := e.open(p.order, p.tier, fillOr(r.Ack.FillPrice, p.order.ReferencePrice), p.at, r.Ack.OrderID)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				opened = append(opened, pos)
			}
		case pendingExit:
			delete(e.exiting, p.exit.PositionID)
			if r.Outcome == broker.OutcomeFilled {
				rec, err := e.close(ctx, p.exit, fillOr(r.Ack.FillPrice, p.exit.Price), obs.Timestamp)
				if rec != nil {
					closed = append(closed, *rec)
				}
				errs = append(errs, err)
			}
		}
		if r.Outcome == broker.OutcomeIrreconcilable {
			e.risk.SetBreaker(true)
			if _, err := e.breaker.Submit(risk.CmdPause, "engine", "irreconcilable order "+r.Intent.ClientOrderID); err != nil {
				observ.Error("breaker_submit_failed", map[string]any{"error": err.Error()})
			}
			errs = append(errs, r.Err)
		}
	}
	return opened, closed, errors.Join(errs...)
}

func (e *Engine) enter(ctx context.Context, sig decision.Signal, at time.Time) (risk.Authorization, *lifecycle.Position, error) {
	tier := e.tiers[sig.Tier]
	exp := e.positions.Exposure(sig.Tier)
	for t, n := range e.pendingTier {
		if t == sig.Tier {
			exp.OpenForTier += n
		}
		exp.OpenTotal += n
	}

	auth := e.risk.Authorize(sig, tier, exp)
	if !auth.Approved {
		observ.Log("entry_rejected", map[string]any{
			"tier":       sig.Tier,
			"reason":     string(auth.Reason),
			"reasons":    auth.Reasons,
			"confidence": sig.Confidence,
			"forced":     sig.Forced,
		})
		return auth, nil, nil
	}
	observ.Log("signal_selected", map[string]any{
		"tier":       sig.Tier,
		"direction":  string(sig.Direction),
		"confidence": sig.Confidence,
		"forced_by":  sig.ForcedBy,
		"quantity":   auth.Order.Quantity,
		"price":      sig.ReferencePrice,
	})

	e.seq++
	o := auth.Order
	intent := broker.OrderIntent{
		ClientOrderID:  broker.ClientOrderID(o.Tier, broker.KindEntry, at, e.seq),
		Symbol:         e.symbol,
		Tier:           o.Tier,
		Direction:      o.Direction,
		Side:           broker.SideFor(o.Direction, broker.KindEntry),
		Quantity:       o.Quantity,
		ReferencePrice: o.ReferencePrice,
		Kind:           broker.KindEntry,
		OrderKind:      "market",
		Strike:         sig.Strike,
	}
	ack, err := e.broker.Submit(ctx, intent)
	var se *broker.SubmissionError
	switch {
	case errors.As(err, &se) && se.Unknown, err == nil && ack.Status == broker.StatusPending:
		e.pendingTier[o.Tier]++
		e.reconciler.Track(intent, pendingEntry{order: o, tier: tier, at: at})
		return auth, nil, err
	case err != nil:
		return auth, nil, err
	case ack.Status == broker.StatusRejected:
		return auth, nil, broker.NewRejectedError(intent.ClientOrderID, "broker rejected order")
	}

	pos, err := e.open(o, tier, fillOr(ack.FillPrice, o.ReferencePrice), at, ack.OrderID)
	if err != nil {
		return auth, nil, err
	}
	return auth, &pos, nil
}

func (e *Engine) open(o risk.Order, tier decision.Tier, price float64, at time.Time, orderID string) (lifecycle.Position, error) {
	pos, err := e.positions.Open(o, tier, price, at, orderID)
	if err != nil {
		return pos, err
	}
	e.risk.Commit(o)
	e.dirty = true
	return pos, nil
}

func (e *Engine) persist() error {
	if e.store == nil || !e.dirty {
		return nil
	}
	e.dirty = false
	if err := e.store.Save(e.risk.Session()); err != nil {
		observ.Error("session_save_failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

// Report aggregates every trade closed so far.
func (e *Engine) Report() report.PerformanceReport {
	r := report.Compute(e.trades.Records(), e.cfg.Risk.Capital)
	r.OpenPositions = e.positions.OpenCount()
	return r
}

func (e *Engine) Trades() []lifecycle.ClosedTradeRecord { return e.trades.Records() }

func (e *Engine) Positions() []lifecycle.Position { return e.positions.Positions() }

func (e *Engine) Session() risk.SessionState { return e.risk.Session() }

func (e *Engine) Breaker() *risk.CircuitBreaker { return e.breaker }

// PendingOrders counts orders awaiting reconciliation.
func (e *Engine) PendingOrders() int { return e.reconciler.Pending() }

func fillOr(fill, fallback float64) float64 {
	if fill > 0 {
		return fill
	}
	return fallback
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
