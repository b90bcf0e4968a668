package sim

// UnrealizedPL is the floating P/L, in account currency, of signedUnits
// opened at entry and marked at current.
func UnrealizedPL(signedUnits, entry, current, quoteToAccount float64) float64 {
	plQuote := signedUnits * (current - entry)
	return plQuote * quoteToAccount
}
