package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/spreadguard/config"
	"github.com/rustyeddy/spreadguard/journal"
	"github.com/rustyeddy/spreadguard/replay"
)

func printSummary(w io.Writer, sum replay.Summary, startBalance float64) {
	fmt.Fprintf(w, "  Ticks: %d (%s .. %s)\n", sum.Ticks,
		sum.Start.UTC().Format(time.RFC3339), sum.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Window: %d suspended, %d restored, final state %s\n",
		sum.Suspensions, sum.Restorations, sum.FinalState)
	fmt.Fprintf(w, "  Stop-losses: %d removed, %d restored, %d skipped\n",
		sum.StopLossesRemoved, sum.StopLossesRestored, sum.StopLossesSkipped)
	fmt.Fprintf(w, "  Pending orders: %d cancelled, %d restored\n",
		sum.OrdersCancelled, sum.OrdersRestored)
	fmt.Fprintf(w, "  Drawdown closures: %d\n", sum.DrawdownClosures)
	fmt.Fprintf(w, "  Failures: %d\n", sum.Failures)
	for reason, n := range sum.AutoClosed {
		fmt.Fprintf(w, "  Broker closed (%s): %d\n", reason, n)
	}
	fmt.Fprintf(w, "  Balance: $%.2f\n", sum.FinalAccount.Balance)
	fmt.Fprintf(w, "  Equity: $%.2f\n", sum.FinalAccount.Equity)
	fmt.Fprintf(w, "  Profit/Loss: $%.2f\n", sum.FinalAccount.Balance-startBalance)
}

// writeReport writes an Org session report. Trades and events are only
// available when journaling to SQLite.
func writeReport(path, mode, source string, c *config.Config, sum replay.Summary, j journal.Journal) error {
	r := &journal.SessionReport{
		Mode:               mode,
		Source:             source,
		Created:            time.Now(),
		Start:              sum.Start,
		End:                sum.End,
		Window:             windowString(c.Window),
		PercentRisk:        c.Risk.PercentRisk,
		TickThreshold:      c.Risk.TickThreshold,
		StartBalance:       c.Account.Balance,
		EndBalance:         sum.FinalAccount.Balance,
		Ticks:              sum.Ticks,
		Suspensions:        sum.Suspensions,
		Restorations:       sum.Restorations,
		StopLossesRemoved:  sum.StopLossesRemoved,
		StopLossesRestored: sum.StopLossesRestored,
		StopLossesSkipped:  sum.StopLossesSkipped,
		OrdersCancelled:    sum.OrdersCancelled,
		OrdersRestored:     sum.OrdersRestored,
		DrawdownClosures:   sum.DrawdownClosures,
		Failures:           sum.Failures,
		OrgPath:            path,
	}

	if db, ok := j.(*journal.SQLite); ok && !sum.Start.IsZero() {
		// Closing at the end stamps trades with the last tick time.
		end := sum.End.Add(time.Nanosecond)
		trades, err := db.ListTradesClosedBetween(sum.Start, end)
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
		events, err := db.ListEventsBetween(sum.Start, end, "")
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		r.Trades, r.Events = trades, events
	}
	return r.WriteOrg()
}

func windowString(w config.WindowConfig) string {
	tz := w.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s", w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, tz)
}
