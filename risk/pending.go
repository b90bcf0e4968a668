package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/spreadguard/broker"
)

// PendingOrderRecord is a snapshot of a cancelled pending order.
type PendingOrderRecord struct {
	OrderID      string
	Kind         broker.OrderKind
	Direction    broker.Direction
	Instrument   string
	Units        float64
	TargetPrice  float64
	StopLossPips *float64
}

// PendingOrderSuspender withdraws pending orders from the market and later
// submits equivalent new orders.
type PendingOrderSuspender struct {
	records []PendingOrderRecord
}

// Suspend snapshots and cancels every pending order. The snapshot is kept
// even when the cancel call fails.
func (s *PendingOrderSuspender) Suspend(ctx context.Context, b broker.Broker) []Outcome {
	orders, err := b.PendingOrders(ctx)
	if err != nil {
		return []Outcome{{Action: ListOrders, Err: fmt.Errorf("list pending orders: %w", err)}}
	}

	out := make([]Outcome, 0, len(orders))
	for _, po := range orders {
		rec := PendingOrderRecord{
			OrderID:     po.ID,
			Kind:        po.Kind,
			Direction:   po.Direction,
			Instrument:  po.Instrument,
			Units:       po.Units,
			TargetPrice: po.TargetPrice,
		}
		if po.StopLossPips != nil {
			pips := *po.StopLossPips
			rec.StopLossPips = &pips
		}
		s.records = append(s.records, rec)

		o := Outcome{Action: CancelOrder, ID: po.ID, Instrument: po.Instrument}
		if err := b.CancelPendingOrder(ctx, po.ID); err != nil {
			o.Err = fmt.Errorf("cancel order %s: %w", po.ID, err)
		}
		out = append(out, o)
	}
	return out
}

// Restore submits a new order for every snapshot with the same kind,
// direction, instrument, units and price. The stop-loss distance of the
// original order is not reapplied.
func (s *PendingOrderSuspender) Restore(ctx context.Context, b broker.Broker) []Outcome {
	out := make([]Outcome, 0, len(s.records))
	for _, r := range s.records {
		o := Outcome{Action: RestoreOrder, ID: r.OrderID, Instrument: r.Instrument}
		req := broker.OrderRequest{
			Direction:  r.Direction,
			Instrument: r.Instrument,
			Units:      r.Units,
			Price:      r.TargetPrice,
		}

		var err error
		switch r.Kind {
		case broker.Limit:
			o.NewID, err = b.PlaceLimitOrder(ctx, req)
		case broker.Stop:
			o.NewID, err = b.PlaceStopOrder(ctx, req)
		default:
			err = fmt.Errorf("unsupported order kind %s", r.Kind)
		}
		if err != nil {
			o.Err = fmt.Errorf("restore %s order %s: %w", r.Kind, r.OrderID, err)
		}
		out = append(out, o)
	}
	return out
}

// Records returns a copy of the suspended orders.
func (s *PendingOrderSuspender) Records() []PendingOrderRecord {
	return append([]PendingOrderRecord(nil), s.records...)
}

func (s *PendingOrderSuspender) Len() int { return len(s.records) }

func (s *PendingOrderSuspender) Clear() { s.records = nil }
