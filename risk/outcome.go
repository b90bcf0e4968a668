package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/spreadguard/window"
)

// Action identifies the broker call behind an Outcome.
type Action int

const (
	RemoveStopLoss Action = iota
	RestoreStopLoss
	CancelOrder
	RestoreOrder
	ListPositions
	ListOrders
)

func (a Action) String() string {
	switch a {
	case RemoveStopLoss:
		return "REMOVE_STOP_LOSS"
	case RestoreStopLoss:
		return "RESTORE_STOP_LOSS"
	case CancelOrder:
		return "CANCEL_ORDER"
	case RestoreOrder:
		return "RESTORE_ORDER"
	case ListPositions:
		return "LIST_POSITIONS"
	case ListOrders:
		return "LIST_ORDERS"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome is the result of one item of a suspend or restore batch. A
// failed item never stops the rest of the batch.
type Outcome struct {
	Action     Action
	ID         string // position or original order ID
	NewID      string // ID of a restored order
	Instrument string
	Pips       float64
	Skipped    bool // position gone at restoration
	Err        error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Closure is a forced close issued by the drawdown monitor.
type Closure struct {
	PositionID string
	Instrument string
	Loss       float64
	Threshold  float64
	Ticks      int
	Err        error
}

// Transition is the window state change made during a tick, if any.
type Transition int

const (
	NoTransition Transition = iota
	Suspend
	Restore
)

func (t Transition) String() string {
	switch t {
	case NoTransition:
		return "NONE"
	case Suspend:
		return "SUSPEND"
	case Restore:
		return "RESTORE"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// TickReport describes everything the controller did on one tick.
type TickReport struct {
	Time       time.Time
	Phase      window.Phase
	Prev       State
	State      State
	Transition Transition

	StopLosses []Outcome
	Orders     []Outcome
	Closures   []Closure

	// Err is set when the drawdown pass could not run this tick.
	Err error
}

// Failures returns every failed item of the tick.
func (r TickReport) Failures() []error {
	var errs []error
	for _, o := range r.StopLosses {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	for _, o := range r.Orders {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	for _, c := range r.Closures {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	return errs
}
