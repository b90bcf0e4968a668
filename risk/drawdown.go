package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/spreadguard/broker"
)

// DrawdownMonitor force-closes positions whose floating loss has stayed at
// or beyond the drawdown threshold for TickThreshold consecutive ticks.
//
// Counters are keyed by position ID. A counter exists only while the
// position is breaching; a single non-breaching tick deletes it.
type DrawdownMonitor struct {
	percentRisk   float64
	tickThreshold int
	counters      map[string]int
}

func NewDrawdownMonitor(percentRisk float64, tickThreshold int) *DrawdownMonitor {
	return &DrawdownMonitor{
		percentRisk:   percentRisk,
		tickThreshold: tickThreshold,
		counters:      make(map[string]int),
	}
}

// Evaluate runs one tick over all open positions. The threshold is
// recomputed from the current balance every call.
//
// A failed close keeps the position's counter so the close is retried on
// the next breaching tick, rather than clearing it after every attempt.
func (m *DrawdownMonitor) Evaluate(ctx context.Context, b broker.Broker) ([]Closure, error) {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	maxLoss := MaxDrawdown(m.percentRisk, acct.Balance)
	open := make(map[string]struct{}, len(positions))

	var out []Closure
	for _, p := range positions {
		open[p.ID] = struct{}{}

		if !Breached(p.GrossPL, maxLoss) {
			delete(m.counters, p.ID)
			continue
		}

		m.counters[p.ID]++
		n := m.counters[p.ID]
		if n < m.tickThreshold {
			continue
		}

		c := Closure{
			PositionID: p.ID,
			Instrument: p.Instrument,
			Loss:       p.GrossPL,
			Threshold:  maxLoss,
			Ticks:      n,
		}
		if err := b.ClosePosition(ctx, p.ID); err != nil {
			c.Err = fmt.Errorf("close position %s: %w", p.ID, err)
		} else {
			delete(m.counters, p.ID)
		}
		out = append(out, c)
	}

	// Positions closed elsewhere lose their counters.
	for id := range m.counters {
		if _, ok := open[id]; !ok {
			delete(m.counters, id)
		}
	}
	return out, nil
}

// Count returns the consecutive breaching ticks recorded for a position.
func (m *DrawdownMonitor) Count(positionID string) (int, bool) {
	n, ok := m.counters[positionID]
	return n, ok
}

// Tracked is the number of positions currently breaching.
func (m *DrawdownMonitor) Tracked() int { return len(m.counters) }
