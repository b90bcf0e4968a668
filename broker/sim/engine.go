// Package sim is an in-memory broker: it fills market, limit and stop
// orders against the latest tick, tracks stop-loss and take-profit exits,
// revalues the account and enforces margin.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/internal/id"
	"github.com/rustyeddy/spreadguard/journal"
	"github.com/rustyeddy/spreadguard/market"
)

var (
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNoPrice           = market.ErrNoPrice
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// Close reasons written to the trade journal.
const (
	ReasonStopLoss    = "StopLoss"
	ReasonTakeProfit  = "TakeProfit"
	ReasonManual      = "ManualClose"
	ReasonLiquidation = "LIQUIDATION"
)

// CloseListener is told about positions the engine closes on its own
// (stop-loss, take-profit, liquidation).
type CloseListener interface {
	OnPositionClosed(positionID string, reason string)
}

// MarketOrder opens a position immediately at the current quote.
type MarketOrder struct {
	Direction      broker.Direction
	Instrument     string
	Units          float64
	StopLossPips   *float64
	TakeProfitPips *float64
}

type closed struct {
	id     string
	reason string
}

type Engine struct {
	mu        sync.Mutex
	acct      broker.Account
	ticks     *market.TickStore
	positions []*position
	orders    []*order
	journal   journal.Journal
	listener  CloseListener
}

var _ broker.Broker = (*Engine)(nil)
var _ broker.Clock = (*Engine)(nil)

func NewEngine(acct broker.Account, j journal.Journal) *Engine {
	if j == nil {
		j = journal.Nop{}
	}
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	acct.FreeMargin = acct.Equity - acct.MarginUsed
	return &Engine{
		acct:    acct,
		ticks:   market.NewTickStore(),
		journal: j,
	}
}

// SetCloseListener sets a listener notified after the engine closes a
// position on its own. It is called with the engine unlocked.
func (e *Engine) SetCloseListener(l CloseListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// Now is the time of the most recent tick, so the engine doubles as the
// controller's server clock.
func (e *Engine) Now() time.Time {
	return e.ticks.Latest()
}

func (e *Engine) GetTick(ctx context.Context, instrument string) (market.Tick, error) {
	return e.ticks.Get(instrument)
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

func (e *Engine) PipSize(instrument string) (float64, error) {
	pip, err := market.PipSize(instrument)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	return pip, nil
}

// OpenPositions returns open positions in the order they were opened,
// with GrossPL marked to the latest tick. A position that cannot be
// valued fails the whole call rather than reporting a zero P/L.
func (e *Engine) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if !p.Open {
			continue
		}
		bp := broker.Position{
			ID:         p.ID,
			Instrument: p.Instrument,
			Direction:  p.Direction,
			Units:      p.Units,
			EntryPrice: p.EntryPrice,
			StopLoss:   copyFloat(p.StopLoss),
			TakeProfit: copyFloat(p.TakeProfit),
			OpenTime:   p.OpenTime,
		}
		pl, err := e.unrealizedLocked(p)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", p.ID, err)
		}
		bp.GrossPL = pl
		out = append(out, bp)
	}
	return out, nil
}

func (e *Engine) PendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.PendingOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.pending())
	}
	return out, nil
}

// OpenMarket fills a market order at the current quote: longs on the ask,
// shorts on the bid.
func (e *Engine) OpenMarket(ctx context.Context, req MarketOrder) (string, error) {
	if err := validateUnits(req.Units); err != nil {
		return "", err
	}
	pip, err := e.PipSize(req.Instrument)
	if err != nil {
		return "", err
	}
	t, err := e.ticks.Get(req.Instrument)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", req.Instrument, err)
	}
	if err := e.checkConversion(req.Instrument); err != nil {
		return "", fmt.Errorf("open %s: %w", req.Instrument, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.openLocked(req.Direction, req.Instrument, req.Units, fillPrice(req.Direction, t.Bid, t.Ask), t.Time)
	if req.StopLossPips != nil {
		sl := stopPrice(p.Direction, p.EntryPrice, *req.StopLossPips, pip)
		p.StopLoss = &sl
	}
	if req.TakeProfitPips != nil {
		tp := takePrice(p.Direction, p.EntryPrice, *req.TakeProfitPips, pip)
		p.TakeProfit = &tp
	}
	return p.ID, nil
}

// ModifyStopLoss sets the stop pips away from entry on the losing side,
// or removes it when pips is nil.
func (e *Engine) ModifyStopLoss(ctx context.Context, positionID string, pips *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.findLocked(positionID)
	if p == nil {
		return fmt.Errorf("modify stop loss %s: %w", positionID, ErrPositionNotFound)
	}
	if pips == nil {
		p.StopLoss = nil
		return nil
	}
	pip, err := e.PipSize(p.Instrument)
	if err != nil {
		return err
	}
	sl := stopPrice(p.Direction, p.EntryPrice, *pips, pip)
	p.StopLoss = &sl
	return nil
}

// ClosePosition closes an open position at the current market price.
// It records a TradeRecord and an EquitySnapshot, like UpdatePrice.
func (e *Engine) ClosePosition(ctx context.Context, positionID string) error {
	e.mu.Lock()

	p := e.findLocked(positionID)
	if p == nil {
		e.mu.Unlock()
		return fmt.Errorf("close position %s: %w", positionID, ErrPositionNotFound)
	}
	t, err := e.ticks.Get(p.Instrument)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("close position %s: %w", positionID, err)
	}

	closeTime := t.Time
	if closeTime.IsZero() {
		closeTime = time.Now()
	}
	if err := e.closeLocked(p, markPrice(p.Direction, t.Bid, t.Ask), closeTime, ReasonManual); err != nil {
		e.mu.Unlock()
		return err
	}
	liquidated, err := e.settleLocked(closeTime)
	listener := e.listener
	e.mu.Unlock()

	notify(listener, liquidated)
	return err
}

// CloseAll closes every open position at current prices. It checks that
// every instrument has a price before closing anything.
func (e *Engine) CloseAll(ctx context.Context, reason string) error {
	if reason == "" {
		reason = ReasonManual
	}

	e.mu.Lock()

	var open []*position
	for _, p := range e.positions {
		if p.Open {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		e.mu.Unlock()
		return nil
	}

	for _, p := range open {
		if _, err := e.ticks.Get(p.Instrument); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("close all: no price for %q: %w", p.Instrument, err)
		}
	}

	var snapshot time.Time
	for _, p := range open {
		t, _ := e.ticks.Get(p.Instrument)
		closeTime := t.Time
		if closeTime.IsZero() {
			closeTime = time.Now()
		}
		if closeTime.After(snapshot) {
			snapshot = closeTime
		}
		if err := e.closeLocked(p, markPrice(p.Direction, t.Bid, t.Ask), closeTime, reason); err != nil {
			e.mu.Unlock()
			return err
		}
	}

	liquidated, err := e.settleLocked(snapshot)
	listener := e.listener
	e.mu.Unlock()

	notify(listener, liquidated)
	return err
}

func (e *Engine) CancelPendingOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.orders {
		if o.ID == orderID {
			e.orders = append(e.orders[:i], e.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cancel order %s: %w", orderID, ErrOrderNotFound)
}

func (e *Engine) PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	return e.place(broker.Limit, req)
}

func (e *Engine) PlaceStopOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	return e.place(broker.Stop, req)
}

func (e *Engine) place(kind broker.OrderKind, req broker.OrderRequest) (string, error) {
	if err := validateUnits(req.Units); err != nil {
		return "", err
	}
	if _, err := e.PipSize(req.Instrument); err != nil {
		return "", err
	}
	if req.Price <= 0 {
		return "", fmt.Errorf("%s order price %.5f must be positive", kind, req.Price)
	}
	if err := e.checkConversion(req.Instrument); err != nil {
		return "", fmt.Errorf("%s order %s: %w", kind, req.Instrument, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := &order{
		ID:           id.New(),
		Kind:         kind,
		Direction:    req.Direction,
		Instrument:   req.Instrument,
		Units:        req.Units,
		TargetPrice:  req.Price,
		StopLossPips: copyFloat(req.StopLossPips),
		CreateTime:   e.ticks.Latest(),
	}
	e.orders = append(e.orders, o)
	return o.ID, nil
}

// UpdatePrice applies a tick: pending orders on the instrument that
// trigger are filled, stop-loss and take-profit exits are taken, the
// account is revalued, an equity snapshot is journaled and margin is
// enforced.
func (e *Engine) UpdatePrice(t market.Tick) error {
	if _, ok := market.Instruments[t.Instrument]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, t.Instrument)
	}

	e.mu.Lock()

	e.ticks.Set(t)

	// Fill triggered pending orders.
	kept := e.orders[:0]
	for _, o := range e.orders {
		if o.Instrument != t.Instrument || !o.triggered(t.Bid, t.Ask) {
			kept = append(kept, o)
			continue
		}
		p := e.openLocked(o.Direction, o.Instrument, o.Units, fillPrice(o.Direction, t.Bid, t.Ask), t.Time)
		if o.StopLossPips != nil {
			pip, _ := market.PipSize(o.Instrument)
			sl := stopPrice(p.Direction, p.EntryPrice, *o.StopLossPips, pip)
			p.StopLoss = &sl
		}
	}
	e.orders = kept

	var auto []closed
	for _, p := range e.positions {
		if !p.Open || p.Instrument != t.Instrument {
			continue
		}

		mark := markPrice(p.Direction, t.Bid, t.Ask)
		reason := ""
		switch {
		case hitStopLoss(p, mark):
			reason = ReasonStopLoss
		case hitTakeProfit(p, mark):
			reason = ReasonTakeProfit
		}
		if reason == "" {
			continue
		}
		if err := e.closeLocked(p, mark, t.Time, reason); err != nil {
			e.mu.Unlock()
			return err
		}
		auto = append(auto, closed{id: p.ID, reason: reason})
	}

	liquidated, err := e.settleLocked(t.Time)
	listener := e.listener
	e.mu.Unlock()

	notify(listener, append(auto, liquidated...))
	return err
}

func (e *Engine) openLocked(dir broker.Direction, instrument string, units, price float64, at time.Time) *position {
	p := &position{
		ID:         id.New(),
		Instrument: instrument,
		Direction:  dir,
		Units:      units,
		EntryPrice: price,
		OpenTime:   at,
		Open:       true,
	}
	e.positions = append(e.positions, p)
	return p
}

func (e *Engine) findLocked(positionID string) *position {
	for _, p := range e.positions {
		if p.ID == positionID && p.Open {
			return p
		}
	}
	return nil
}

func (e *Engine) closeLocked(p *position, closePrice float64, closeTime time.Time, reason string) error {
	rate, err := market.QuoteToAccountRate(p.Instrument, e.acct.Currency, e)
	if err != nil {
		return err
	}

	pl := UnrealizedPL(p.signedUnits(), p.EntryPrice, closePrice, rate)

	p.ClosePrice = closePrice
	p.CloseTime = closeTime
	p.RealizedPL = pl
	p.Open = false

	e.acct.Balance += pl

	return e.journal.RecordTrade(journal.TradeRecord{
		TradeID:    p.ID,
		Instrument: p.Instrument,
		Units:      p.signedUnits(),
		EntryPrice: p.EntryPrice,
		ExitPrice:  closePrice,
		OpenTime:   p.OpenTime,
		CloseTime:  closeTime,
		RealizedPL: pl,
		Reason:     reason,
	})
}

// settleLocked revalues, recomputes margin, journals equity and then
// liquidates until equity covers margin.
func (e *Engine) settleLocked(at time.Time) ([]closed, error) {
	if err := e.revalueLocked(); err != nil {
		return nil, err
	}
	if err := e.recomputeMarginLocked(); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	if err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:        at,
		Balance:     e.acct.Balance,
		Equity:      e.acct.Equity,
		MarginUsed:  e.acct.MarginUsed,
		FreeMargin:  e.acct.FreeMargin,
		MarginLevel: e.acct.MarginLevel,
	}); err != nil {
		return nil, err
	}
	return e.enforceMarginLocked()
}

// checkConversion refuses instruments whose P/L cannot be converted into
// the account currency. A cross leg must already have a price; the
// instrument's own price arrives before any fill.
func (e *Engine) checkConversion(instrument string) error {
	leg, err := market.ConversionInstrument(instrument, e.acct.Currency)
	if err != nil {
		return err
	}
	if leg == "" || leg == instrument {
		return nil
	}
	if _, err := e.ticks.Get(leg); err != nil {
		return fmt.Errorf("conversion via %s: %w", leg, err)
	}
	return nil
}

func (e *Engine) unrealizedLocked(p *position) (float64, error) {
	t, err := e.ticks.Get(p.Instrument)
	if err != nil {
		return 0, err
	}
	rate, err := market.QuoteToAccountRate(p.Instrument, e.acct.Currency, e)
	if err != nil {
		return 0, err
	}
	return UnrealizedPL(p.signedUnits(), p.EntryPrice, markPrice(p.Direction, t.Bid, t.Ask), rate), nil
}

func (e *Engine) revalueLocked() error {
	equity := e.acct.Balance
	for _, p := range e.positions {
		if !p.Open {
			continue
		}
		pl, err := e.unrealizedLocked(p)
		if err != nil {
			return err
		}
		equity += pl
	}
	e.acct.Equity = equity
	return nil
}

func (e *Engine) recomputeMarginLocked() error {
	var used float64

	for _, p := range e.positions {
		if !p.Open {
			continue
		}
		t, err := e.ticks.Get(p.Instrument)
		if err != nil {
			return err
		}
		rate, err := market.QuoteToAccountRate(p.Instrument, e.acct.Currency, e)
		if err != nil {
			return err
		}
		// margin uses mid
		used += TradeMargin(p.Units, t.Mid(), p.Instrument, rate)
	}

	e.acct.MarginUsed = used
	e.acct.FreeMargin = e.acct.Equity - used
	if used > 0 {
		e.acct.MarginLevel = e.acct.Equity / used
	} else {
		e.acct.MarginLevel = 0
	}
	return nil
}

func (e *Engine) enforceMarginLocked() ([]closed, error) {
	var liquidated []closed

	for e.acct.MarginUsed > 0 && e.acct.Equity < e.acct.MarginUsed {
		// Worst open position first.
		var worst *position
		var worstPL float64
		for _, p := range e.positions {
			if !p.Open {
				continue
			}
			pl, err := e.unrealizedLocked(p)
			if err != nil {
				return liquidated, err
			}
			if worst == nil || pl < worstPL {
				worst, worstPL = p, pl
			}
		}
		if worst == nil {
			return liquidated, nil
		}

		t, _ := e.ticks.Get(worst.Instrument)
		if err := e.closeLocked(worst, markPrice(worst.Direction, t.Bid, t.Ask), t.Time, ReasonLiquidation); err != nil {
			return liquidated, err
		}
		liquidated = append(liquidated, closed{id: worst.ID, reason: ReasonLiquidation})

		if err := e.revalueLocked(); err != nil {
			return liquidated, err
		}
		if err := e.recomputeMarginLocked(); err != nil {
			return liquidated, err
		}
	}
	return liquidated, nil
}

func notify(l CloseListener, cs []closed) {
	if l == nil {
		return
	}
	for _, c := range cs {
		l.OnPositionClosed(c.id, c.reason)
	}
}

func validateUnits(units float64) error {
	if units <= 0 {
		return fmt.Errorf("units %.2f must be positive", units)
	}
	return nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
