package risk

import (
	"math"

	"github.com/rustyeddy/spreadguard/broker"
)

// PipDistance converts an absolute stop-loss price into a signed distance
// in pips from the entry price. The distance is positive when the stop sits
// on the losing side of the entry: below it for a long, above it for a
// short.
func PipDistance(dir broker.Direction, entry, stop, pipSize float64) float64 {
	if dir == broker.Sell {
		return (stop - entry) / pipSize
	}
	return (entry - stop) / pipSize
}

// StopPrice is the inverse of PipDistance.
func StopPrice(dir broker.Direction, entry, pips, pipSize float64) float64 {
	if dir == broker.Sell {
		return entry + pips*pipSize
	}
	return entry - pips*pipSize
}

// MaxDrawdown is the floating loss tolerated before a position counts as
// breaching: percentRisk percent of balance.
func MaxDrawdown(percentRisk, balance float64) float64 {
	return (percentRisk / 100) * balance
}

// Breached reports whether a gross P/L is a loss at least as large as
// maxLoss.
func Breached(grossPL, maxLoss float64) bool {
	return grossPL < 0 && math.Abs(grossPL) >= maxLoss
}
