package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/journal"
	"github.com/rustyeddy/spreadguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJournal struct {
	journal.Nop
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
}

func (j *testJournal) RecordTrade(rec journal.TradeRecord) error {
	j.trades = append(j.trades, rec)
	return nil
}

func (j *testJournal) RecordEquity(rec journal.EquitySnapshot) error {
	j.equity = append(j.equity, rec)
	return nil
}

type closeLog struct {
	reasons map[string]string
}

func (c *closeLog) OnPositionClosed(positionID, reason string) {
	if c.reasons == nil {
		c.reasons = map[string]string{}
	}
	c.reasons[positionID] = reason
}

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, balance float64) (*Engine, *testJournal) {
	t.Helper()
	j := &testJournal{}
	return NewEngine(broker.Account{ID: "acct-1", Currency: "USD", Balance: balance}, j), j
}

func setPrice(t *testing.T, e *Engine, instr string, bid, ask float64, tm time.Time) {
	t.Helper()
	require.NoError(t, e.UpdatePrice(market.Tick{Instrument: instr, Bid: bid, Ask: ask, Time: tm}))
}

func openMarket(t *testing.T, e *Engine, instr string, dir broker.Direction, units float64, sl, tp *float64) string {
	t.Helper()
	id, err := e.OpenMarket(context.Background(), MarketOrder{
		Direction:      dir,
		Instrument:     instr,
		Units:          units,
		StopLossPips:   sl,
		TakeProfitPips: tp,
	})
	require.NoError(t, err)
	return id
}

func pips(v float64) *float64 { return &v }

func TestEngineRevalueEURUSDLong(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	openMarket(t, e, "EUR_USD", broker.Buy, 100000, nil, nil)
	setPrice(t, e, "EUR_USD", 1.1010, 1.1012, t0.Add(time.Minute))

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)

	expectedPL := 100000 * (1.1010 - 1.1002)
	assert.InDelta(t, 100000, acct.Balance, 1e-6)
	assert.InDelta(t, 100000+expectedPL, acct.Equity, 1e-6)

	positions, err := e.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, expectedPL, positions[0].GrossPL, 1e-6)
	assert.Equal(t, t0.Add(time.Minute), e.Now())
}

func TestEngineRevalueUSDJPYLongWithConversion(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 100000)
	setPrice(t, e, "USD_JPY", 150.00, 150.02, t0)
	openMarket(t, e, "USD_JPY", broker.Buy, 100000, nil, nil)
	setPrice(t, e, "USD_JPY", 150.22, 150.24, t0.Add(time.Minute))

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)

	plJPY := 100000 * (150.22 - 150.02)
	mid := (150.22 + 150.24) / 2
	assert.InDelta(t, 100000+plJPY/mid, acct.Equity, 1e-3)
}

func TestEngineCrossPairConvertsThroughQuoteLeg(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 100000)
	ctx := context.Background()
	setPrice(t, e, "EUR_GBP", 0.8500, 0.8502, t0)

	_, err := e.OpenMarket(ctx, MarketOrder{Direction: broker.Buy, Instrument: "EUR_GBP", Units: 10000})
	require.ErrorIs(t, err, ErrNoPrice)
	_, err = e.PlaceLimitOrder(ctx, broker.OrderRequest{Direction: broker.Buy, Instrument: "EUR_GBP", Units: 10000, Price: 0.8400})
	require.ErrorIs(t, err, ErrNoPrice)

	setPrice(t, e, "GBP_USD", 1.2700, 1.2702, t0)
	openMarket(t, e, "EUR_GBP", broker.Buy, 10000, nil, nil)
	setPrice(t, e, "EUR_GBP", 0.8450, 0.8452, t0.Add(time.Minute))

	positions, err := e.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	expected := 10000 * (0.8450 - 0.8502) * 1.2701
	assert.InDelta(t, expected, positions[0].GrossPL, 1e-6)

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000+expected, acct.Equity, 1e-6)
}

func TestEngineRejectsInstrumentWithoutConversion(t *testing.T) {
	t.Parallel()

	e := NewEngine(broker.Account{ID: "acct-1", Currency: "CHF", Balance: 100000}, journal.Nop{})
	setPrice(t, e, "EUR_GBP", 0.8500, 0.8502, t0)

	_, err := e.OpenMarket(context.Background(), MarketOrder{Direction: broker.Buy, Instrument: "EUR_GBP", Units: 10000})
	require.ErrorIs(t, err, market.ErrNoConversion)
	_, err = e.PlaceStopOrder(context.Background(), broker.OrderRequest{Direction: broker.Buy, Instrument: "EUR_GBP", Units: 10000, Price: 0.8600})
	require.ErrorIs(t, err, market.ErrNoConversion)
}

func TestEngineShortPL(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	id := openMarket(t, e, "EUR_USD", broker.Sell, 10000, nil, nil)
	setPrice(t, e, "EUR_USD", 1.1050, 1.1052, t0.Add(time.Minute))

	positions, err := e.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, id, positions[0].ID)
	assert.Equal(t, broker.Sell, positions[0].Direction)
	assert.InDelta(t, 1.1000, positions[0].EntryPrice, 1e-9)
	assert.InDelta(t, -10000*(1.1052-1.1000), positions[0].GrossPL, 1e-6)
}

func TestStopLossUsesCorrectSide(t *testing.T) {
	t.Parallel()

	t1 := t0.Add(time.Minute)

	t.Run("long stop loss uses bid", func(t *testing.T) {
		t.Parallel()
		e, j := newEngine(t, 100000)
		cl := &closeLog{}
		e.SetCloseListener(cl)
		setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
		// entry 1.1002, stop 12 pips below at 1.0990
		id := openMarket(t, e, "EUR_USD", broker.Buy, 100000, pips(12), nil)

		setPrice(t, e, "EUR_USD", 1.0991, 1.0993, t1)
		assert.Empty(t, j.trades)

		setPrice(t, e, "EUR_USD", 1.0989, 1.0991, t1.Add(time.Minute))

		acct, _ := e.GetAccount(context.Background())
		require.Len(t, j.trades, 1)
		assert.Equal(t, ReasonStopLoss, j.trades[0].Reason)
		assert.Equal(t, ReasonStopLoss, cl.reasons[id])
		assert.InDelta(t, 100000+100000*(1.0989-1.1002), acct.Balance, 1e-6)
		assert.InDelta(t, acct.Balance, acct.Equity, 1e-6)
	})

	t.Run("short stop loss uses ask", func(t *testing.T) {
		t.Parallel()
		e, j := newEngine(t, 100000)
		setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
		// entry 1.1000, stop 12 pips above at 1.1012
		openMarket(t, e, "EUR_USD", broker.Sell, 100000, pips(12), nil)

		setPrice(t, e, "EUR_USD", 1.1009, 1.1011, t1)
		assert.Empty(t, j.trades)

		setPrice(t, e, "EUR_USD", 1.1011, 1.1013, t1.Add(time.Minute))

		acct, _ := e.GetAccount(context.Background())
		require.Len(t, j.trades, 1)
		assert.Equal(t, -100000.0, j.trades[0].Units)
		assert.InDelta(t, 100000-100000*(1.1013-1.1000), acct.Balance, 1e-6)
	})

	t.Run("removed stop never triggers", func(t *testing.T) {
		t.Parallel()
		e, j := newEngine(t, 100000)
		setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
		id := openMarket(t, e, "EUR_USD", broker.Buy, 1000, pips(12), nil)
		require.NoError(t, e.ModifyStopLoss(context.Background(), id, nil))

		setPrice(t, e, "EUR_USD", 1.0900, 1.0902, t1)
		assert.Empty(t, j.trades)
	})
}

func TestTakeProfit(t *testing.T) {
	t.Parallel()

	e, j := newEngine(t, 100000)
	cl := &closeLog{}
	e.SetCloseListener(cl)
	setPrice(t, e, "EUR_USD", 1.0850, 1.0852, t0)
	id := openMarket(t, e, "EUR_USD", broker.Buy, 10000, nil, pips(48))

	setPrice(t, e, "EUR_USD", 1.0899, 1.0901, t0.Add(time.Minute))
	assert.Empty(t, j.trades)

	setPrice(t, e, "EUR_USD", 1.0901, 1.0903, t0.Add(2*time.Minute))
	require.Len(t, j.trades, 1)
	assert.Equal(t, ReasonTakeProfit, cl.reasons[id])
}

func TestModifyStopLossRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newEngine(t, 100000)
	setPrice(t, e, "USD_JPY", 150.00, 150.02, t0)
	id := openMarket(t, e, "USD_JPY", broker.Sell, 1000, pips(35), nil)

	positions, _ := e.OpenPositions(ctx)
	require.NotNil(t, positions[0].StopLoss)
	assert.InDelta(t, 150.35, *positions[0].StopLoss, 1e-9)

	require.NoError(t, e.ModifyStopLoss(ctx, id, nil))
	positions, _ = e.OpenPositions(ctx)
	assert.Nil(t, positions[0].StopLoss)

	require.NoError(t, e.ModifyStopLoss(ctx, id, pips(35)))
	positions, _ = e.OpenPositions(ctx)
	require.NotNil(t, positions[0].StopLoss)
	assert.InDelta(t, 150.35, *positions[0].StopLoss, 1e-9)

	err := e.ModifyStopLoss(ctx, "missing", pips(1))
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestPendingOrderTriggers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     broker.OrderKind
		dir      broker.Direction
		target   float64
		miss     [2]float64
		hit      [2]float64
		wantFill float64
	}{
		{"limit buy", broker.Limit, broker.Buy, 1.0950, [2]float64{1.0960, 1.0962}, [2]float64{1.0948, 1.0950}, 1.0950},
		{"limit sell", broker.Limit, broker.Sell, 1.1050, [2]float64{1.1040, 1.1042}, [2]float64{1.1051, 1.1053}, 1.1051},
		{"stop buy", broker.Stop, broker.Buy, 1.1050, [2]float64{1.1040, 1.1042}, [2]float64{1.1049, 1.1051}, 1.1051},
		{"stop sell", broker.Stop, broker.Sell, 1.0950, [2]float64{1.0960, 1.0962}, [2]float64{1.0949, 1.0951}, 1.0949},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			e, _ := newEngine(t, 100000)
			setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)

			req := broker.OrderRequest{Direction: tt.dir, Instrument: "EUR_USD", Units: 1000, Price: tt.target, StopLossPips: pips(20)}
			var (
				id  string
				err error
			)
			if tt.kind == broker.Limit {
				id, err = e.PlaceLimitOrder(ctx, req)
			} else {
				id, err = e.PlaceStopOrder(ctx, req)
			}
			require.NoError(t, err)

			orders, _ := e.PendingOrders(ctx)
			require.Len(t, orders, 1)
			assert.Equal(t, id, orders[0].ID)
			assert.Equal(t, tt.kind, orders[0].Kind)

			setPrice(t, e, "EUR_USD", tt.miss[0], tt.miss[1], t0.Add(time.Minute))
			orders, _ = e.PendingOrders(ctx)
			assert.Len(t, orders, 1, "order should still be pending")

			setPrice(t, e, "EUR_USD", tt.hit[0], tt.hit[1], t0.Add(2*time.Minute))
			orders, _ = e.PendingOrders(ctx)
			assert.Empty(t, orders)

			positions, _ := e.OpenPositions(ctx)
			require.Len(t, positions, 1)
			assert.Equal(t, tt.dir, positions[0].Direction)
			assert.InDelta(t, tt.wantFill, positions[0].EntryPrice, 1e-9)
			require.NotNil(t, positions[0].StopLoss)
			assert.InDelta(t, tt.wantFill-tt.dir.Sign()*0.0020, *positions[0].StopLoss, 1e-9)
		})
	}
}

func TestPendingOrderOtherInstrumentIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	_, err := e.PlaceLimitOrder(ctx, broker.OrderRequest{Direction: broker.Buy, Instrument: "GBP_USD", Units: 1000, Price: 1.5})
	require.NoError(t, err)

	setPrice(t, e, "EUR_USD", 1.0, 1.0002, t0.Add(time.Minute))
	orders, _ := e.PendingOrders(ctx)
	assert.Len(t, orders, 1)
}

func TestCancelAndCloseErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newEngine(t, 100000)

	assert.ErrorIs(t, e.CancelPendingOrder(ctx, "nope"), ErrOrderNotFound)
	assert.ErrorIs(t, e.ClosePosition(ctx, "nope"), ErrPositionNotFound)

	_, err := e.OpenMarket(ctx, MarketOrder{Direction: broker.Buy, Instrument: "EUR_USD", Units: 1})
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = e.OpenMarket(ctx, MarketOrder{Direction: broker.Buy, Instrument: "XAU_USD", Units: 1})
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = e.PlaceStopOrder(ctx, broker.OrderRequest{Direction: broker.Buy, Instrument: "EUR_USD", Units: 0, Price: 1})
	assert.Error(t, err)

	_, err = e.PlaceLimitOrder(ctx, broker.OrderRequest{Direction: broker.Buy, Instrument: "EUR_USD", Units: 1, Price: 0})
	assert.Error(t, err)

	err = e.UpdatePrice(market.Tick{Instrument: "XAU_USD", Bid: 1, Ask: 1})
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = e.PipSize("XAU_USD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestClosePositionAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, j := newEngine(t, 100000)
	cl := &closeLog{}
	e.SetCloseListener(cl)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)

	id := openMarket(t, e, "EUR_USD", broker.Buy, 10000, nil, nil)
	oid, err := e.PlaceLimitOrder(ctx, broker.OrderRequest{Direction: broker.Buy, Instrument: "EUR_USD", Units: 1000, Price: 1.09})
	require.NoError(t, err)

	require.NoError(t, e.ClosePosition(ctx, id))
	require.NoError(t, e.CancelPendingOrder(ctx, oid))

	positions, _ := e.OpenPositions(ctx)
	assert.Empty(t, positions)
	orders, _ := e.PendingOrders(ctx)
	assert.Empty(t, orders)

	require.Len(t, j.trades, 1)
	assert.Equal(t, ReasonManual, j.trades[0].Reason)
	assert.InDelta(t, 10000*(1.1000-1.1002), j.trades[0].RealizedPL, 1e-9)
	assert.Empty(t, cl.reasons, "manual close is not reported to the listener")

	assert.ErrorIs(t, e.ClosePosition(ctx, id), ErrPositionNotFound)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, j := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	setPrice(t, e, "USD_JPY", 150.00, 150.02, t0)
	openMarket(t, e, "EUR_USD", broker.Buy, 1000, nil, nil)
	openMarket(t, e, "USD_JPY", broker.Sell, 1000, nil, nil)

	require.NoError(t, e.CloseAll(ctx, ""))
	positions, _ := e.OpenPositions(ctx)
	assert.Empty(t, positions)
	require.Len(t, j.trades, 2)
	for _, tr := range j.trades {
		assert.Equal(t, ReasonManual, tr.Reason)
	}

	require.NoError(t, e.CloseAll(ctx, "again"))
	assert.Len(t, j.trades, 2)
}

func TestForcedLiquidationWorstTradeFirst(t *testing.T) {
	t.Parallel()

	e, j := newEngine(t, 1000)
	cl := &closeLog{}
	e.SetCloseListener(cl)
	t1 := t0.Add(time.Minute)

	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	setPrice(t, e, "USD_JPY", 150.00, 150.02, t0)

	eur := openMarket(t, e, "EUR_USD", broker.Buy, 100000, nil, nil)
	openMarket(t, e, "USD_JPY", broker.Buy, 100000, nil, nil)

	setPrice(t, e, "EUR_USD", 1.0500, 1.0502, t1)

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, j.trades)
	assert.Equal(t, eur, j.trades[0].TradeID, "worst trade closed first")
	assert.Equal(t, ReasonLiquidation, j.trades[0].Reason)
	assert.Equal(t, ReasonLiquidation, cl.reasons[eur])
	assert.Less(t, acct.Balance, 1000.0)
	if acct.MarginUsed > 0 {
		assert.GreaterOrEqual(t, acct.Equity, acct.MarginUsed)
	}
}

func TestTradeMargin(t *testing.T) {
	t.Parallel()

	meta := market.Instruments["EUR_USD"]
	assert.InDelta(t, 1000*1.2345*meta.MarginRate, TradeMargin(1000, 1.2345, "EUR_USD", 1), 1e-9)
	assert.InDelta(t, 2500*2.0*0.9*meta.MarginRate, TradeMargin(-2500, 2.0, "EUR_USD", 0.9), 1e-9)
	assert.InDelta(t, 0.0, TradeMargin(0, 1.5, "EUR_USD", 1), 1e-12)
}

func TestUnrealizedPL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		units    float64
		entry    float64
		current  float64
		rate     float64
		expected float64
	}{
		{"long_profit", 1000, 1.2000, 1.2050, 1, 5},
		{"long_loss", 1000, 1.2000, 1.1900, 1, -10},
		{"short_profit", -1000, 1.2000, 1.1950, 1, 5},
		{"short_loss", -1000, 1.2000, 1.2100, 1, -10},
		{"converted", 1000, 150.00, 151.00, 1.0 / 150, 1000.0 / 150},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.expected, UnrealizedPL(tt.units, tt.entry, tt.current, tt.rate), 1e-9)
		})
	}
}
