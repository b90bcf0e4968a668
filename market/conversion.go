package market

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoConversion means no listed instrument converts a quote currency
// into the account currency.
var ErrNoConversion = errors.New("no quote-to-account conversion")

// ConversionInstrument returns the instrument whose price converts the
// quote currency of instrument into accountCurrency: QUOTE_ACCT or
// ACCT_QUOTE. It is empty when the quote already is the account currency.
func ConversionInstrument(instrument, accountCurrency string) (string, error) {
	meta, ok := Instruments[instrument]
	if !ok {
		return "", fmt.Errorf("unknown instrument %s", instrument)
	}
	if meta.QuoteCurrency == accountCurrency {
		return "", nil
	}

	direct := meta.QuoteCurrency + "_" + accountCurrency
	if _, ok := Instruments[direct]; ok {
		return direct, nil
	}
	inverse := accountCurrency + "_" + meta.QuoteCurrency
	if _, ok := Instruments[inverse]; ok {
		return inverse, nil
	}
	return "", fmt.Errorf("%w: %s → %s for %s", ErrNoConversion, meta.QuoteCurrency, accountCurrency, instrument)
}

// QuoteToAccountRate converts one unit of the instrument's quote currency
// into the account currency, using the mid of the conversion instrument.
//
//	EUR_USD in USD: 1
//	USD_JPY in USD: 1 / USD_JPY
//	EUR_GBP in USD: GBP_USD
func QuoteToAccountRate(instrument string,
	accountCurrency string,
	prices TickSource) (float64, error) {

	leg, err := ConversionInstrument(instrument, accountCurrency)
	if err != nil {
		return 0, err
	}
	if leg == "" {
		return 1.0, nil
	}

	px, err := prices.GetTick(context.Background(), leg)
	if err != nil {
		return 0, fmt.Errorf("convert %s via %s: %w", instrument, leg, err)
	}
	mid := px.Mid()
	if mid == 0 {
		return 0, fmt.Errorf("zero mid price for %s", leg)
	}
	if Instruments[leg].QuoteCurrency == accountCurrency {
		return mid, nil
	}
	return 1.0 / mid, nil
}
