package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/spreadguard/broker"
)

// StopLossRecord is a removed protective stop, kept as a pip distance from
// entry so it can be reapplied regardless of price bookkeeping.
type StopLossRecord struct {
	PositionID string
	Instrument string
	Pips       float64
}

// StopLossSuspender removes stop-losses from open positions and later
// restores them at the same pip distance.
type StopLossSuspender struct {
	records []StopLossRecord
}

// Suspend records and removes the stop-loss of every open position that
// has one. The record is kept even when the removal call fails.
func (s *StopLossSuspender) Suspend(ctx context.Context, b broker.Broker) []Outcome {
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return []Outcome{{Action: ListPositions, Err: fmt.Errorf("list positions: %w", err)}}
	}

	var out []Outcome
	for _, p := range positions {
		if p.StopLoss == nil {
			continue
		}

		o := Outcome{Action: RemoveStopLoss, ID: p.ID, Instrument: p.Instrument}

		// Without a pip size the distance is unknown; leave the stop in place.
		pip, err := b.PipSize(p.Instrument)
		if err != nil {
			o.Err = fmt.Errorf("pip size %s: %w", p.Instrument, err)
			out = append(out, o)
			continue
		}

		o.Pips = PipDistance(p.Direction, p.EntryPrice, *p.StopLoss, pip)
		s.records = append(s.records, StopLossRecord{
			PositionID: p.ID,
			Instrument: p.Instrument,
			Pips:       o.Pips,
		})

		if err := b.ModifyStopLoss(ctx, p.ID, nil); err != nil {
			o.Err = fmt.Errorf("remove stop loss %s: %w", p.ID, err)
		}
		out = append(out, o)
	}
	return out
}

// Restore reapplies every recorded distance to positions that are still
// open. Positions closed in the meantime are skipped without error.
func (s *StopLossSuspender) Restore(ctx context.Context, b broker.Broker) []Outcome {
	if len(s.records) == 0 {
		return nil
	}

	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return []Outcome{{Action: ListPositions, Err: fmt.Errorf("list positions: %w", err)}}
	}
	open := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		open[p.ID] = struct{}{}
	}

	out := make([]Outcome, 0, len(s.records))
	for _, r := range s.records {
		o := Outcome{Action: RestoreStopLoss, ID: r.PositionID, Instrument: r.Instrument, Pips: r.Pips}
		if _, ok := open[r.PositionID]; !ok {
			o.Skipped = true
			out = append(out, o)
			continue
		}

		pips := r.Pips
		if err := b.ModifyStopLoss(ctx, r.PositionID, &pips); err != nil {
			o.Err = fmt.Errorf("restore stop loss %s: %w", r.PositionID, err)
		}
		out = append(out, o)
	}
	return out
}

// Records returns a copy of the suspended stop-losses.
func (s *StopLossSuspender) Records() []StopLossRecord {
	return append([]StopLossRecord(nil), s.records...)
}

func (s *StopLossSuspender) Len() int { return len(s.records) }

func (s *StopLossSuspender) Clear() { s.records = nil }
