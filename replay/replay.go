// Package replay drives the sim broker and the risk controller from a
// scripted CSV of ticks and trading events.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/broker/sim"
	"github.com/rustyeddy/spreadguard/market"
	"github.com/rustyeddy/spreadguard/risk"
)

// Options controls how replay behaves.
type Options struct {
	// EventFirst applies a row's event before its tick. By default the
	// tick is applied first so OPEN fills at that row's prices.
	EventFirst bool

	Logger *slog.Logger
}

// Summary totals what happened over a replay.
type Summary struct {
	// Start and End are the times of the first and last replayed ticks.
	Start time.Time
	End   time.Time

	Ticks        int
	Suspensions  int
	Restorations int

	StopLossesRemoved  int
	StopLossesRestored int
	StopLossesSkipped  int
	OrdersCancelled    int
	OrdersRestored     int
	DrawdownClosures   int
	Failures           int

	// AutoClosed counts engine-initiated closes by reason.
	AutoClosed map[string]int

	FinalState   risk.State
	FinalAccount broker.Account
}

// Runner replays a script. Positions and orders are named by labels in
// the script; Runner maps them to engine IDs.
//
// CSV format:
//
//	time,instrument,bid,ask[,event,arg1,arg2,arg3,arg4,arg5]
//
// Events (case-insensitive) act on the row's instrument:
//
//	OPEN:       arg1=label arg2=direction arg3=units [arg4=slPips] [arg5=tpPips]
//	OPEN_SLTP:  as OPEN with slPips and tpPips required
//	LIMIT:      arg1=label arg2=direction arg3=units arg4=price [arg5=slPips]
//	STOP:       arg1=label arg2=direction arg3=units arg4=price [arg5=slPips]
//	CLOSE:      arg1=label
//	CANCEL:     arg1=label
//	CLOSE_ALL:  arg1=reason (optional)
//
// CLOSE and CANCEL stand in for actions taken outside the controller.
// After every row the controller runs one tick. A label follows its
// order when the window re-places it under a new ID.
type Runner struct {
	engine *sim.Engine
	ctrl   *risk.Controller
	opts   Options
	log    *slog.Logger

	labels  map[string]string
	seeds   []ScriptEvent
	started bool
	summary Summary
}

func New(engine *sim.Engine, ctrl *risk.Controller, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		engine: engine,
		ctrl:   ctrl,
		opts:   opts,
		log:    log,
		labels: make(map[string]string),
	}
	r.summary.AutoClosed = make(map[string]int)
	engine.SetCloseListener(r)
	return r
}

// OnPositionClosed counts engine-initiated closes.
func (r *Runner) OnPositionClosed(positionID, reason string) {
	r.summary.AutoClosed[reason]++
	r.log.Debug("engine closed position", "position", positionID, "reason", reason)
}

// ID returns the engine ID bound to a script label.
func (r *Runner) ID(label string) (string, bool) {
	id, ok := r.labels[label]
	return id, ok
}

// Summary returns the totals so far.
func (r *Runner) Summary() Summary {
	return r.summary
}

// Seed queues events to apply on the first tick of each event's
// instrument, once that tick's price is set. An event that still lacks
// a conversion price waits for the instrument's next tick.
func (r *Runner) Seed(events ...ScriptEvent) {
	r.seeds = append(r.seeds, events...)
}

// Tick applies one streamed tick: the price, any seeds waiting on the
// instrument, then one controller tick.
func (r *Runner) Tick(ctx context.Context, t market.Tick) error {
	if err := r.engine.UpdatePrice(t); err != nil {
		return err
	}
	if err := r.applySeeds(ctx, t.Instrument); err != nil {
		return err
	}
	r.step(ctx, t.Time)
	return nil
}

// Finish stops the controller if it was started and returns the final
// totals. Seeds never applied are logged.
func (r *Runner) Finish(ctx context.Context) Summary {
	for _, ev := range r.seeds {
		r.log.Warn("seed never applied", "instrument", ev.Instrument, "event", ev.Event, "args", ev.Args)
	}
	if r.started {
		r.ctrl.Stop(ctx)
		r.started = false
	}
	r.summary.FinalState = r.ctrl.State()
	r.summary.FinalAccount, _ = r.engine.GetAccount(ctx)
	return r.summary
}

// File replays the CSV at path.
func (r *Runner) File(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return r.Run(ctx, f)
}

// Run replays rows from in until EOF, a malformed row or ctx is done.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Summary, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return r.Finish(ctx), err
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return r.Finish(ctx), nil
		}
		if err != nil {
			return r.Finish(ctx), err
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}

		tick, event, args, err := parseRow(row)
		if err != nil {
			return r.Finish(ctx), fmt.Errorf("row %d: %w", line, err)
		}
		if err := r.apply(ctx, tick, event, args); err != nil {
			return r.Finish(ctx), fmt.Errorf("row %d: %w", line, err)
		}
		if err := r.applySeeds(ctx, tick.Instrument); err != nil {
			return r.Finish(ctx), fmt.Errorf("row %d: %w", line, err)
		}
		r.step(ctx, tick.Time)
	}
}

func (r *Runner) step(ctx context.Context, at time.Time) {
	if r.summary.Start.IsZero() {
		r.summary.Start = at
	}
	r.summary.End = at
	if !r.started {
		r.ctrl.Start(ctx)
		r.started = true
	}
	rep := r.ctrl.OnTick(ctx)
	r.relabel(rep)
	r.summary.Add(rep)
}

// relabel points labels at the IDs of orders the window re-placed.
func (r *Runner) relabel(rep risk.TickReport) {
	for _, o := range rep.Orders {
		if o.Action != risk.RestoreOrder || o.Err != nil || o.NewID == "" {
			continue
		}
		for label, id := range r.labels {
			if id == o.ID {
				r.labels[label] = o.NewID
			}
		}
	}
}

func (r *Runner) applySeeds(ctx context.Context, instrument string) error {
	if len(r.seeds) == 0 {
		return nil
	}
	var rest []ScriptEvent
	for i, ev := range r.seeds {
		if ev.Instrument != instrument {
			rest = append(rest, ev)
			continue
		}
		err := r.handleEvent(ctx, ev.Instrument, ev.Event, ev.Args)
		switch {
		case errors.Is(err, market.ErrNoPrice):
			r.log.Debug("seed waiting for price", "instrument", ev.Instrument, "event", ev.Event, "err", err)
			rest = append(rest, ev)
		case err != nil:
			r.seeds = append(rest, r.seeds[i+1:]...)
			return fmt.Errorf("seed %s %s: %w", ev.Event, ev.Instrument, err)
		default:
			r.log.Info("seed applied", "instrument", ev.Instrument, "event", ev.Event, "args", ev.Args)
		}
	}
	r.seeds = rest
	return nil
}

func (r *Runner) apply(ctx context.Context, tick market.Tick, event string, args []string) error {
	if r.opts.EventFirst && event != "" {
		if err := r.handleEvent(ctx, tick.Instrument, event, args); err != nil {
			return err
		}
		return r.engine.UpdatePrice(tick)
	}
	if err := r.engine.UpdatePrice(tick); err != nil {
		return err
	}
	if event != "" {
		return r.handleEvent(ctx, tick.Instrument, event, args)
	}
	return nil
}

// Add counts one controller tick.
func (s *Summary) Add(rep risk.TickReport) {
	s.Ticks++
	switch rep.Transition {
	case risk.Suspend:
		s.Suspensions++
	case risk.Restore:
		s.Restorations++
	}
	for _, o := range append(rep.StopLosses, rep.Orders...) {
		if o.Err != nil {
			s.Failures++
			continue
		}
		switch {
		case o.Action == risk.RemoveStopLoss:
			s.StopLossesRemoved++
		case o.Action == risk.RestoreStopLoss && o.Skipped:
			s.StopLossesSkipped++
		case o.Action == risk.RestoreStopLoss:
			s.StopLossesRestored++
		case o.Action == risk.CancelOrder:
			s.OrdersCancelled++
		case o.Action == risk.RestoreOrder:
			s.OrdersRestored++
		}
	}
	for _, c := range rep.Closures {
		if c.Err != nil {
			s.Failures++
			continue
		}
		s.DrawdownClosures++
	}
	if rep.Err != nil {
		s.Failures++
	}
}

func parseRow(row []string) (market.Tick, string, []string, error) {
	if len(row) < 4 {
		return market.Tick{}, "", nil, fmt.Errorf("need at least 4 cols time,instrument,bid,ask: %v", row)
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return market.Tick{}, "", nil, fmt.Errorf("bad time %q: %w", row[0], err)
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return market.Tick{}, "", nil, fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return market.Tick{}, "", nil, fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	tick := market.Tick{
		Instrument: strings.TrimSpace(row[1]),
		Time:       t,
		Bid:        bid,
		Ask:        ask,
	}

	event := ""
	var args []string
	if len(row) >= 5 {
		event = strings.ToUpper(strings.TrimSpace(row[4]))
	}
	for _, a := range row[min(len(row), 5):] {
		args = append(args, strings.TrimSpace(a))
	}
	return tick, event, args, nil
}

func (r *Runner) handleEvent(ctx context.Context, instrument, event string, args []string) error {
	switch event {
	case "OPEN", "OPEN_SLTP":
		label, dir, units, err := orderArgs(args)
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		sl, err := optFloat(args, 3, "slPips")
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		tp, err := optFloat(args, 4, "tpPips")
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		if event == "OPEN_SLTP" && (sl == nil || tp == nil) {
			return fmt.Errorf("OPEN_SLTP: need arg4=slPips arg5=tpPips")
		}
		id, err := r.engine.OpenMarket(ctx, sim.MarketOrder{
			Direction:      dir,
			Instrument:     instrument,
			Units:          units,
			StopLossPips:   sl,
			TakeProfitPips: tp,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		r.labels[label] = id
		return nil

	case "LIMIT", "STOP":
		label, dir, units, err := orderArgs(args)
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		price, err := optFloat(args, 3, "price")
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		if price == nil {
			return fmt.Errorf("%s: need arg4=price", event)
		}
		sl, err := optFloat(args, 4, "slPips")
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		req := broker.OrderRequest{
			Direction:    dir,
			Instrument:   instrument,
			Units:        units,
			Price:        *price,
			StopLossPips: sl,
		}
		var id string
		if event == "LIMIT" {
			id, err = r.engine.PlaceLimitOrder(ctx, req)
		} else {
			id, err = r.engine.PlaceStopOrder(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		r.labels[label] = id
		return nil

	case "CLOSE", "CANCEL":
		if len(args) < 1 || args[0] == "" {
			return fmt.Errorf("%s: missing label", event)
		}
		id, ok := r.labels[args[0]]
		if !ok {
			return fmt.Errorf("%s: unknown label %q", event, args[0])
		}
		if event == "CLOSE" {
			return r.engine.ClosePosition(ctx, id)
		}
		return r.engine.CancelPendingOrder(ctx, id)

	case "CLOSE_ALL":
		reason := sim.ReasonManual
		if len(args) >= 1 && args[0] != "" {
			reason = args[0]
		}
		return r.engine.CloseAll(ctx, reason)

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

func orderArgs(args []string) (label string, dir broker.Direction, units float64, err error) {
	if len(args) < 3 {
		return "", 0, 0, errors.New("need arg1=label arg2=direction arg3=units")
	}
	label = args[0]
	if label == "" {
		return "", 0, 0, errors.New("label is empty")
	}
	dir, err = broker.ParseDirection(args[1])
	if err != nil {
		return "", 0, 0, err
	}
	units, err = strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad units %q: %w", args[2], err)
	}
	return label, dir, units, nil
}

func optFloat(args []string, i int, name string) (*float64, error) {
	if len(args) <= i || args[i] == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return nil, fmt.Errorf("bad %s %q: %w", name, args[i], err)
	}
	return &v, nil
}
