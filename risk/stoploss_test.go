package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopLossSuspendAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{
		{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, Units: 10000, EntryPrice: 1.1000, StopLoss: ptr(1.0950)},
		{ID: "P2", Instrument: "EUR_USD", Direction: broker.Sell, Units: 10000, EntryPrice: 1.1000, StopLoss: ptr(1.1030)},
		{ID: "P3", Instrument: "EUR_USD", Direction: broker.Buy, Units: 10000, EntryPrice: 1.1000},
	}

	var s StopLossSuspender
	outs := s.Suspend(ctx, b)
	require.Len(t, outs, 2)
	assert.Equal(t, "P1", outs[0].ID)
	assert.InDelta(t, 50.0, outs[0].Pips, 1e-6)
	assert.Equal(t, "P2", outs[1].ID)
	assert.InDelta(t, 30.0, outs[1].Pips, 1e-6)
	for _, o := range outs {
		assert.True(t, o.OK())
		assert.Equal(t, RemoveStopLoss, o.Action)
	}

	for _, p := range b.positions {
		assert.Nil(t, p.StopLoss, "stop loss of %s should be removed", p.ID)
	}
	assert.Equal(t, 2, s.Len())
	records := s.Records()

	b.modifies = nil
	outs = s.Restore(ctx, b)
	require.Len(t, outs, 2)
	require.Len(t, b.modifies, 2)
	for i, m := range b.modifies {
		require.NotNil(t, m.Pips)
		assert.Equal(t, records[i].PositionID, m.PositionID)
		// the recorded distance is reapplied unchanged
		assert.Equal(t, records[i].Pips, *m.Pips)
	}

	p1, _ := b.position("P1")
	require.NotNil(t, p1.StopLoss)
	assert.InDelta(t, 1.0950, *p1.StopLoss, 1e-9)
	p2, _ := b.position("P2")
	require.NotNil(t, p2.StopLoss)
	assert.InDelta(t, 1.1030, *p2.StopLoss, 1e-9)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Restore(ctx, b))
}

func TestStopLossRestoreSkipsClosedPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{
		{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, EntryPrice: 1.1000, StopLoss: ptr(1.0950)},
	}

	var s StopLossSuspender
	s.Suspend(ctx, b)
	require.NoError(t, b.remove("P1"))

	b.modifies = nil
	outs := s.Restore(ctx, b)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Skipped)
	assert.NoError(t, outs[0].Err)
	assert.Empty(t, b.modifies)
}

func TestStopLossSuspendFailuresContinue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{
		{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, EntryPrice: 1.1000, StopLoss: ptr(1.0950)},
		{ID: "P2", Instrument: "XAU_USD", Direction: broker.Buy, EntryPrice: 2000, StopLoss: ptr(1990)},
		{ID: "P3", Instrument: "EUR_USD", Direction: broker.Buy, EntryPrice: 1.1000, StopLoss: ptr(1.0980)},
	}
	b.failModify["P1"] = true

	var s StopLossSuspender
	outs := s.Suspend(ctx, b)
	require.Len(t, outs, 3)
	assert.ErrorIs(t, outs[0].Err, errBroker)
	assert.Error(t, outs[1].Err, "unknown pip size")
	assert.NoError(t, outs[2].Err)

	// P1 failed removal is still recorded; P2 has no distance and is not.
	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "P1", recs[0].PositionID)
	assert.Equal(t, "P3", recs[1].PositionID)

	p2, _ := b.position("P2")
	assert.NotNil(t, p2.StopLoss)
}

func TestStopLossListFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{
		{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, EntryPrice: 1.1, StopLoss: ptr(1.09)},
	}
	b.failList = true

	var s StopLossSuspender
	outs := s.Suspend(ctx, b)
	require.Len(t, outs, 1)
	assert.Equal(t, ListPositions, outs[0].Action)
	assert.ErrorIs(t, outs[0].Err, errBroker)
	assert.Equal(t, 0, s.Len())
}
