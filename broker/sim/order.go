package sim

import (
	"time"

	"github.com/rustyeddy/spreadguard/broker"
)

type order struct {
	ID           string
	Kind         broker.OrderKind
	Direction    broker.Direction
	Instrument   string
	Units        float64
	TargetPrice  float64
	StopLossPips *float64
	CreateTime   time.Time
}

// triggered reports whether the order fills at the given quote.
//
//	limit buy  ask <= target    stop buy  ask >= target
//	limit sell bid >= target    stop sell bid <= target
func (o *order) triggered(bid, ask float64) bool {
	switch {
	case o.Kind == broker.Limit && o.Direction == broker.Buy:
		return ask <= o.TargetPrice
	case o.Kind == broker.Limit && o.Direction == broker.Sell:
		return bid >= o.TargetPrice
	case o.Kind == broker.Stop && o.Direction == broker.Buy:
		return ask >= o.TargetPrice
	case o.Kind == broker.Stop && o.Direction == broker.Sell:
		return bid <= o.TargetPrice
	}
	return false
}

func (o *order) pending() broker.PendingOrder {
	po := broker.PendingOrder{
		ID:          o.ID,
		Kind:        o.Kind,
		Direction:   o.Direction,
		Instrument:  o.Instrument,
		Units:       o.Units,
		TargetPrice: o.TargetPrice,
		CreateTime:  o.CreateTime,
	}
	if o.StopLossPips != nil {
		v := *o.StopLossPips
		po.StopLossPips = &v
	}
	return po
}
