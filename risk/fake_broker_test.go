package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/journal"
)

var errBroker = errors.New("broker unavailable")

type modifyCall struct {
	PositionID string
	Pips       *float64
}

type placeCall struct {
	Kind broker.OrderKind
	Req  broker.OrderRequest
	ID   string
}

// fakeBroker is an in-memory broker with per-operation failure injection.
type fakeBroker struct {
	now       time.Time
	balance   float64
	positions []broker.Position
	orders    []broker.PendingOrder
	pipSizes  map[string]float64

	failList    bool
	failOrders  bool
	failAccount bool
	failModify  map[string]bool
	failClose   map[string]bool
	failCancel  map[string]bool
	failPlace   bool

	modifies []modifyCall
	closes   []string
	cancels  []string
	placed   []placeCall
	nextID   int
}

func newFakeBroker(now time.Time, balance float64) *fakeBroker {
	return &fakeBroker{
		now:        now,
		balance:    balance,
		pipSizes:   map[string]float64{"EUR_USD": 0.0001, "USD_JPY": 0.01},
		failModify: map[string]bool{},
		failClose:  map[string]bool{},
		failCancel: map[string]bool{},
	}
}

func (f *fakeBroker) Now() time.Time { return f.now }

func (f *fakeBroker) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	if f.failList {
		return nil, errBroker
	}
	return append([]broker.Position(nil), f.positions...), nil
}

func (f *fakeBroker) PendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	if f.failOrders {
		return nil, errBroker
	}
	return append([]broker.PendingOrder(nil), f.orders...), nil
}

func (f *fakeBroker) ModifyStopLoss(ctx context.Context, positionID string, pips *float64) error {
	var cp *float64
	if pips != nil {
		v := *pips
		cp = &v
	}
	f.modifies = append(f.modifies, modifyCall{PositionID: positionID, Pips: cp})
	if f.failModify[positionID] {
		return errBroker
	}
	for i := range f.positions {
		if f.positions[i].ID != positionID {
			continue
		}
		p := &f.positions[i]
		if pips == nil {
			p.StopLoss = nil
			return nil
		}
		sl := StopPrice(p.Direction, p.EntryPrice, *pips, f.pipSizes[p.Instrument])
		p.StopLoss = &sl
		return nil
	}
	return fmt.Errorf("position %s not found", positionID)
}

func (f *fakeBroker) ClosePosition(ctx context.Context, positionID string) error {
	f.closes = append(f.closes, positionID)
	if f.failClose[positionID] {
		return errBroker
	}
	return f.remove(positionID)
}

func (f *fakeBroker) remove(positionID string) error {
	for i := range f.positions {
		if f.positions[i].ID == positionID {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("position %s not found", positionID)
}

func (f *fakeBroker) CancelPendingOrder(ctx context.Context, orderID string) error {
	f.cancels = append(f.cancels, orderID)
	if f.failCancel[orderID] {
		return errBroker
	}
	for i := range f.orders {
		if f.orders[i].ID == orderID {
			f.orders = append(f.orders[:i], f.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("order %s not found", orderID)
}

func (f *fakeBroker) place(kind broker.OrderKind, req broker.OrderRequest) (string, error) {
	if f.failPlace {
		return "", errBroker
	}
	f.nextID++
	id := fmt.Sprintf("NEW-%d", f.nextID)
	f.placed = append(f.placed, placeCall{Kind: kind, Req: req, ID: id})
	f.orders = append(f.orders, broker.PendingOrder{
		ID:          id,
		Kind:        kind,
		Direction:   req.Direction,
		Instrument:  req.Instrument,
		Units:       req.Units,
		TargetPrice: req.Price,
	})
	return id, nil
}

func (f *fakeBroker) PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	return f.place(broker.Limit, req)
}

func (f *fakeBroker) PlaceStopOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	return f.place(broker.Stop, req)
}

func (f *fakeBroker) GetAccount(ctx context.Context) (broker.Account, error) {
	if f.failAccount {
		return broker.Account{}, errBroker
	}
	return broker.Account{ID: "acct-1", Currency: "USD", Balance: f.balance, Equity: f.balance}, nil
}

func (f *fakeBroker) PipSize(instrument string) (float64, error) {
	p, ok := f.pipSizes[instrument]
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", instrument)
	}
	return p, nil
}

func (f *fakeBroker) position(id string) (broker.Position, bool) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, true
		}
	}
	return broker.Position{}, false
}

func (f *fakeBroker) setPL(id string, pl float64) {
	for i := range f.positions {
		if f.positions[i].ID == id {
			f.positions[i].GrossPL = pl
		}
	}
}

func ptr(v float64) *float64 { return &v }

type memEvents struct {
	events []journal.Event
}

func (m *memEvents) RecordEvent(e journal.Event) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) kinds() []string {
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	sort.Strings(out)
	return out
}
