package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawdownClosesOnThirdBreach(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, Units: 100000}}
	m := NewDrawdownMonitor(10, 3)

	losses := []float64{-1200, -1300, -1100, -900}
	wantCounts := []int{1, 2}

	for i, pl := range losses[:2] {
		b.setPL("P1", pl)
		closures, err := m.Evaluate(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, closures)
		n, ok := m.Count("P1")
		require.True(t, ok)
		assert.Equal(t, wantCounts[i], n)
	}

	b.setPL("P1", losses[2])
	closures, err := m.Evaluate(ctx, b)
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, "P1", closures[0].PositionID)
	assert.Equal(t, 3, closures[0].Ticks)
	assert.InDelta(t, 1000.0, closures[0].Threshold, 1e-9)
	assert.InDelta(t, -1100.0, closures[0].Loss, 1e-9)
	assert.NoError(t, closures[0].Err)
	assert.Equal(t, []string{"P1"}, b.closes)

	_, ok := m.Count("P1")
	assert.False(t, ok)

	// tick 4: the position is gone and nothing is evaluated
	closures, err = m.Evaluate(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, closures)
	assert.Len(t, b.closes, 1)
	assert.Equal(t, 0, m.Tracked())
}

func TestDrawdownDebounceMonotonicity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		breach []bool
	}{
		{"all breaching", []bool{true, true, true, true}},
		{"reset in middle", []bool{true, true, false, true, true}},
		{"alternating", []bool{true, false, true, false, true}},
		{"never", []bool{false, false, false}},
		{"late start", []bool{false, false, true, true, true, true}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			b := newFakeBroker(time.Now(), 10000)
			b.positions = []broker.Position{{ID: "P1", Instrument: "EUR_USD", Direction: broker.Sell, Units: 1000}}
			// a threshold no sequence reaches
			m := NewDrawdownMonitor(10, 100)

			suffix := 0
			for i, br := range tt.breach {
				if br {
					b.setPL("P1", -1500)
					suffix++
				} else {
					b.setPL("P1", -10)
					suffix = 0
				}
				_, err := m.Evaluate(ctx, b)
				require.NoError(t, err)

				n, ok := m.Count("P1")
				if suffix == 0 {
					assert.False(t, ok, "tick %d: counter should be absent", i+1)
					continue
				}
				require.True(t, ok, "tick %d", i+1)
				assert.Equal(t, suffix, n, "tick %d", i+1)
			}
		})
	}
}

func TestDrawdownClosureBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, Units: 1000}}
	m := NewDrawdownMonitor(10, 3)

	breach := []bool{true, true, false, true, true, true}
	closedAt := 0
	for i, br := range breach {
		if br {
			b.setPL("P1", -2000)
		} else {
			b.setPL("P1", 0)
		}
		closures, err := m.Evaluate(ctx, b)
		require.NoError(t, err)
		if len(closures) > 0 {
			require.Zero(t, closedAt, "closed twice")
			closedAt = i + 1
		}
	}
	assert.Equal(t, 6, closedAt)
}

func TestDrawdownCloseFailureRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, Units: 1000, GrossPL: -5000}}
	b.failClose["P1"] = true
	m := NewDrawdownMonitor(10, 1)

	closures, err := m.Evaluate(ctx, b)
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.ErrorIs(t, closures[0].Err, errBroker)
	n, ok := m.Count("P1")
	require.True(t, ok)
	assert.Equal(t, 1, n)

	b.failClose["P1"] = false
	closures, err = m.Evaluate(ctx, b)
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.NoError(t, closures[0].Err)
	assert.Equal(t, 2, closures[0].Ticks)
	assert.Equal(t, []string{"P1", "P1"}, b.closes)
	assert.Empty(t, b.positions)
}

func TestDrawdownThresholdFollowsBalance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{{ID: "P1", Instrument: "EUR_USD", Direction: broker.Buy, GrossPL: -600}}
	m := NewDrawdownMonitor(10, 5)

	_, err := m.Evaluate(ctx, b)
	require.NoError(t, err)
	_, ok := m.Count("P1")
	assert.False(t, ok)

	b.balance = 5000
	_, err = m.Evaluate(ctx, b)
	require.NoError(t, err)
	n, ok := m.Count("P1")
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestDrawdownPrunesAndSkipsOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBroker(time.Now(), 10000)
	b.positions = []broker.Position{
		{ID: "P1", Instrument: "EUR_USD", GrossPL: -2000},
		{ID: "P2", Instrument: "EUR_USD", GrossPL: -2000},
	}
	m := NewDrawdownMonitor(10, 10)

	_, err := m.Evaluate(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Tracked())

	b.failAccount = true
	_, err = m.Evaluate(ctx, b)
	require.ErrorIs(t, err, errBroker)
	n, _ := m.Count("P1")
	assert.Equal(t, 1, n, "counters untouched when the balance is unavailable")

	b.failAccount = false
	require.NoError(t, b.remove("P2"))
	_, err = m.Evaluate(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Tracked())
	_, ok := m.Count("P2")
	assert.False(t, ok)
}
