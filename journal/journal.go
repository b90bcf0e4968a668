// Package journal records closed trades, equity snapshots and the risk
// controller's actions.
package journal

import "time"

type TradeRecord struct {
	TradeID    string
	Instrument string
	Units      float64 // signed: negative for shorts
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

type EquitySnapshot struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

// Event kinds written by the risk controller.
const (
	EventSuspend          = "WINDOW_SUSPEND"
	EventRestore          = "WINDOW_RESTORE"
	EventStopLossRemoved  = "STOP_LOSS_REMOVED"
	EventStopLossRestored = "STOP_LOSS_RESTORED"
	EventStopLossSkipped  = "STOP_LOSS_SKIPPED"
	EventOrderCancelled   = "ORDER_CANCELLED"
	EventOrderRestored    = "ORDER_RESTORED"
	EventDrawdownClose    = "DRAWDOWN_CLOSE"
	EventFailure          = "FAILURE"
)

// Event is one action taken by the risk controller.
type Event struct {
	ID         string
	Time       time.Time
	Kind       string
	RefID      string // position or order ID
	NewRefID   string // restored order ID
	Instrument string
	Value      float64 // pips for stop-losses, loss for closures
	Error      string
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordEvent(Event) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordEvent(Event) error           { return nil }
func (Nop) Close() error                      { return nil }
