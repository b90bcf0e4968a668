package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a closed trade as an Org-mode heading with the
// facts in a PROPERTIES drawer.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s (%s)\n", t.Instrument, shortID(t.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", t.Instrument)
	fmt.Fprintf(&b, ":UNITS: %.0f\n", t.Units)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.5f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.5f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.CloseTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", t.RealizedPL)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// FormatEventsOrg renders controller events as an Org table, one row per
// event in the given order.
func FormatEventsOrg(events []Event) string {
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("| Time | Kind | Ref | New Ref | Instrument | Value | Error |\n")
	b.WriteString("|------+------+-----+---------+------------+-------+-------|\n")
	for _, e := range events {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %.2f | %s |\n",
			e.Time.UTC().Format(time.RFC3339),
			e.Kind,
			shortID(e.RefID),
			shortID(e.NewRefID),
			e.Instrument,
			e.Value,
			strings.ReplaceAll(e.Error, "|", "/"),
		)
	}
	return b.String()
}

// shortID keeps the last 8 characters. IDs are ULIDs whose leading
// characters encode time and repeat across a session.
func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
