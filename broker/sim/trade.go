package sim

import (
	"time"

	"github.com/rustyeddy/spreadguard/broker"
)

// position is an open or closed simulated trade.
type position struct {
	ID         string
	Instrument string
	Direction  broker.Direction
	Units      float64
	EntryPrice float64
	OpenTime   time.Time

	StopLoss   *float64
	TakeProfit *float64

	ClosePrice float64
	CloseTime  time.Time
	RealizedPL float64 // account currency
	Open       bool
}

// signedUnits is negative for shorts, as in the trade journal.
func (p *position) signedUnits() float64 {
	return p.Direction.Sign() * p.Units
}

// markPrice is the side a position closes on: bid for longs, ask for shorts.
func markPrice(dir broker.Direction, bid, ask float64) float64 {
	if dir == broker.Sell {
		return ask
	}
	return bid
}

// fillPrice is the side a position opens on: ask for longs, bid for shorts.
func fillPrice(dir broker.Direction, bid, ask float64) float64 {
	if dir == broker.Sell {
		return bid
	}
	return ask
}

func hitStopLoss(p *position, price float64) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Direction == broker.Buy {
		return price <= *p.StopLoss
	}
	return price >= *p.StopLoss
}

func hitTakeProfit(p *position, price float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Direction == broker.Buy {
		return price >= *p.TakeProfit
	}
	return price <= *p.TakeProfit
}

// stopPrice places a stop pips away from entry on the losing side.
func stopPrice(dir broker.Direction, entry, pips, pip float64) float64 {
	return entry - dir.Sign()*pips*pip
}

// takePrice places a target pips away from entry on the winning side.
func takePrice(dir broker.Direction, entry, pips, pip float64) float64 {
	return entry + dir.Sign()*pips*pip
}
