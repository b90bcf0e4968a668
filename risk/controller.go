package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/internal/id"
	"github.com/rustyeddy/spreadguard/journal"
	"github.com/rustyeddy/spreadguard/window"
)

// State is the window state of the controller.
type State int

const (
	Armed State = iota
	Suspended
)

func (s State) String() string {
	switch s {
	case Armed:
		return "ARMED"
	case Suspended:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settings are the controller's tunables.
type Settings struct {
	Window window.Window

	// PercentRisk is the floating loss, in percent of balance, a position
	// may carry before it counts as breaching.
	PercentRisk float64

	// TickThreshold is the number of consecutive breaching ticks before a
	// position is closed.
	TickThreshold int
}

func (s Settings) Validate() error {
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if s.PercentRisk < 0 || s.PercentRisk > 100 {
		return fmt.Errorf("percent risk %.2f must be between 0 and 100", s.PercentRisk)
	}
	if s.TickThreshold < 1 {
		return fmt.Errorf("tick threshold %d must be at least 1", s.TickThreshold)
	}
	return nil
}

// EventRecorder receives a journal event for every controller action.
type EventRecorder interface {
	RecordEvent(journal.Event) error
}

// Controller runs the window and drawdown policies once per tick.
//
// It is not safe for concurrent use: OnTick must be called from a single
// goroutine and must return before the next tick is handled.
type Controller struct {
	broker   broker.Broker
	clock    broker.Clock
	settings Settings
	log      *slog.Logger
	events   EventRecorder
	metrics  *Metrics

	state     State
	windowEnd time.Time

	stops    StopLossSuspender
	orders   PendingOrderSuspender
	drawdown *DrawdownMonitor
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithEventRecorder(r EventRecorder) Option {
	return func(c *Controller) { c.events = r }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController validates the settings and returns an armed controller.
func NewController(b broker.Broker, clock broker.Clock, s Settings, opts ...Option) (*Controller, error) {
	if b == nil {
		return nil, errors.New("risk: nil broker")
	}
	if clock == nil {
		return nil, errors.New("risk: nil clock")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("risk: invalid settings: %w", err)
	}

	c := &Controller{
		broker:   b,
		clock:    clock,
		settings: s,
		log:      slog.Default(),
		drawdown: NewDrawdownMonitor(s.PercentRisk, s.TickThreshold),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.setState(c.state)
	return c, nil
}

func (c *Controller) State() State { return c.state }

// WindowEnd is the end of the window instance being waited out while
// suspended; zero while armed.
func (c *Controller) WindowEnd() time.Time { return c.windowEnd }

func (c *Controller) SuspendedStopLosses() []StopLossRecord { return c.stops.Records() }

func (c *Controller) SuspendedOrders() []PendingOrderRecord { return c.orders.Records() }

// DrawdownCount returns the consecutive breaching ticks for a position.
func (c *Controller) DrawdownCount(positionID string) (int, bool) {
	return c.drawdown.Count(positionID)
}

// Start logs the server time and balance the controller starts with.
func (c *Controller) Start(ctx context.Context) {
	attrs := []any{
		"time", c.clock.Now(),
		"window", c.settings.Window.String(),
		"percent_risk", c.settings.PercentRisk,
		"tick_threshold", c.settings.TickThreshold,
	}
	if acct, err := c.broker.GetAccount(ctx); err == nil {
		attrs = append(attrs, "balance", acct.Balance)
	}
	c.log.Info("risk controller started", attrs...)
}

// Stop logs shutdown. Suspended stop-losses and orders are not restored
// and are lost with the process.
func (c *Controller) Stop(ctx context.Context) {
	attrs := []any{"time", c.clock.Now(), "state", c.state.String()}
	if c.state == Suspended {
		attrs = append(attrs,
			"unrestored_stop_losses", c.stops.Len(),
			"unrestored_orders", c.orders.Len(),
		)
		c.log.Warn("risk controller stopped while suspended", attrs...)
		return
	}
	c.log.Info("risk controller stopped", attrs...)
}

// OnTick advances the window state machine and then runs the drawdown
// monitor. It always completes; failures are reported in the TickReport.
func (c *Controller) OnTick(ctx context.Context) TickReport {
	now := c.clock.Now()
	rep := TickReport{
		Time:  now,
		Phase: c.settings.Window.Phase(now),
		Prev:  c.state,
	}

	switch c.state {
	case Armed:
		if rep.Phase == window.In {
			_, end := c.settings.Window.Bounds(now)
			c.suspend(ctx, now, end, &rep)
		}
	case Suspended:
		if !now.Before(c.windowEnd) {
			c.restore(ctx, now, &rep)
		}
	}
	rep.State = c.state

	// Drawdown protection runs in every state.
	closures, err := c.drawdown.Evaluate(ctx, c.broker)
	if err != nil {
		rep.Err = err
		c.metrics.drawdownFailure()
		c.log.Warn("drawdown check skipped", "error", err)
		c.record(journal.Event{Time: now, Kind: journal.EventFailure, Error: err.Error()})
	}
	for _, cl := range closures {
		c.reportClosure(now, cl)
	}
	rep.Closures = closures
	c.metrics.setTracked(c.drawdown.Tracked())

	return rep
}

func (c *Controller) suspend(ctx context.Context, now, end time.Time, rep *TickReport) {
	c.log.Info("entering window, suspending stop-losses and pending orders",
		"time", now, "window_end", end)

	rep.StopLosses = c.stops.Suspend(ctx, c.broker)
	rep.Orders = c.orders.Suspend(ctx, c.broker)
	c.state = Suspended
	c.windowEnd = end
	rep.Transition = Suspend

	c.reportOutcomes(now, rep.StopLosses)
	c.reportOutcomes(now, rep.Orders)
	c.record(journal.Event{Time: now, Kind: journal.EventSuspend,
		Value: float64(c.stops.Len() + c.orders.Len())})
	c.metrics.transition(Suspend)
	c.metrics.setState(c.state)
}

func (c *Controller) restore(ctx context.Context, now time.Time, rep *TickReport) {
	c.log.Info("window ended, restoring pending orders and stop-losses",
		"time", now, "orders", c.orders.Len(), "stop_losses", c.stops.Len())

	rep.Orders = c.orders.Restore(ctx, c.broker)
	rep.StopLosses = c.stops.Restore(ctx, c.broker)
	c.orders.Clear()
	c.stops.Clear()
	c.state = Armed
	c.windowEnd = time.Time{}
	rep.Transition = Restore

	c.reportOutcomes(now, rep.Orders)
	c.reportOutcomes(now, rep.StopLosses)
	c.record(journal.Event{Time: now, Kind: journal.EventRestore})
	c.metrics.transition(Restore)
	c.metrics.setState(c.state)
}

func (c *Controller) reportOutcomes(now time.Time, outs []Outcome) {
	for _, o := range outs {
		c.metrics.outcome(o)

		ev := journal.Event{
			Time:       now,
			RefID:      o.ID,
			NewRefID:   o.NewID,
			Instrument: o.Instrument,
			Value:      o.Pips,
		}
		if o.Err != nil {
			c.log.Warn("broker call failed", "action", o.Action.String(), "id", o.ID, "error", o.Err)
			ev.Kind = journal.EventFailure
			ev.Error = o.Err.Error()
			c.record(ev)
			continue
		}

		switch o.Action {
		case RemoveStopLoss:
			ev.Kind = journal.EventStopLossRemoved
			c.log.Info("removed stop loss", "position", o.ID, "pips", o.Pips)
		case RestoreStopLoss:
			if o.Skipped {
				ev.Kind = journal.EventStopLossSkipped
				c.log.Debug("position gone, stop loss not restored", "position", o.ID)
			} else {
				ev.Kind = journal.EventStopLossRestored
				c.log.Info("restored stop loss", "position", o.ID, "pips", o.Pips)
			}
		case CancelOrder:
			ev.Kind = journal.EventOrderCancelled
			c.log.Info("cancelled pending order", "order", o.ID, "instrument", o.Instrument)
		case RestoreOrder:
			ev.Kind = journal.EventOrderRestored
			c.log.Info("restored pending order", "order", o.ID, "new_order", o.NewID, "instrument", o.Instrument)
		default:
			continue
		}
		c.record(ev)
	}
}

func (c *Controller) reportClosure(now time.Time, cl Closure) {
	c.metrics.closure(cl)

	ev := journal.Event{
		Time:       now,
		Kind:       journal.EventDrawdownClose,
		RefID:      cl.PositionID,
		Instrument: cl.Instrument,
		Value:      cl.Loss,
	}
	if cl.Err != nil {
		c.log.Warn("drawdown close failed", "position", cl.PositionID, "ticks", cl.Ticks, "error", cl.Err)
		ev.Kind = journal.EventFailure
		ev.Error = cl.Err.Error()
	} else {
		c.log.Info("closed position on drawdown",
			"position", cl.PositionID,
			"loss", cl.Loss,
			"threshold", cl.Threshold,
			"ticks", cl.Ticks)
	}
	c.record(ev)
}

func (c *Controller) record(ev journal.Event) {
	if c.events == nil {
		return
	}
	ev.ID = id.At(ev.Time)
	if err := c.events.RecordEvent(ev); err != nil {
		c.log.Error("journal event", "kind", ev.Kind, "error", err)
	}
}
