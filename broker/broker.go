// Package broker defines the trading capabilities the risk controller
// drives: listing and mutating positions and pending orders, reading the
// account balance and instrument pip sizes.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Direction is the trade side of a position or order.
type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Sign is +1 for Buy and -1 for Sell.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Buy, nil
	case "SELL", "SHORT":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// OrderKind is the type of a pending order.
type OrderKind int

const (
	Limit OrderKind = iota
	Stop
)

func (k OrderKind) String() string {
	switch k {
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	default:
		return fmt.Sprintf("OrderKind(%d)", int(k))
	}
}

type Account struct {
	ID          string
	Currency    string
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

// Position is an open trade. Units is always positive; the side is in
// Direction. StopLoss is nil when the position has no protective stop.
type Position struct {
	ID         string
	Instrument string
	Direction  Direction
	Units      float64
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
	GrossPL    float64 // unrealized, account currency
	OpenTime   time.Time
}

// PendingOrder is a limit or stop order that has not triggered yet.
type PendingOrder struct {
	ID           string
	Kind         OrderKind
	Direction    Direction
	Instrument   string
	Units        float64
	TargetPrice  float64
	StopLossPips *float64
	CreateTime   time.Time
}

type OrderRequest struct {
	Direction    Direction
	Instrument   string
	Units        float64
	Price        float64
	StopLossPips *float64
}

// Broker is the capability surface of a trading platform.
type Broker interface {
	// OpenPositions lists all currently open positions.
	OpenPositions(ctx context.Context) ([]Position, error)

	// PendingOrders lists all orders not yet triggered.
	PendingOrders(ctx context.Context) ([]PendingOrder, error)

	// ModifyStopLoss sets the position's stop-loss at pips distance from
	// its entry price on the losing side. A nil pips removes the stop.
	ModifyStopLoss(ctx context.Context, positionID string, pips *float64) error

	// ClosePosition closes the position at market.
	ClosePosition(ctx context.Context, positionID string) error

	// CancelPendingOrder withdraws the order from the market.
	CancelPendingOrder(ctx context.Context, orderID string) error

	// PlaceLimitOrder submits a new limit order and returns its ID.
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (string, error)

	// PlaceStopOrder submits a new stop order and returns its ID.
	PlaceStopOrder(ctx context.Context, req OrderRequest) (string, error)

	GetAccount(ctx context.Context) (Account, error)

	// PipSize returns the price size of one pip for the instrument.
	PipSize(instrument string) (float64, error)
}

// Clock supplies the current (server) time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to a Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
