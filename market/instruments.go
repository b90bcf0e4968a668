// market/instruments.go
package market

import (
	"fmt"
	"math"
)

type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	MarginRate    float64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:          "EUR_USD",
		BaseCurrency:  "EUR",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		MarginRate:    0.02,
	},
	"GBP_USD": {
		Name:          "GBP_USD",
		BaseCurrency:  "GBP",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		MarginRate:    0.02,
	},
	"AUD_USD": {
		Name:          "AUD_USD",
		BaseCurrency:  "AUD",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		MarginRate:    0.02,
	},
	"USD_JPY": {
		Name:          "USD_JPY",
		BaseCurrency:  "USD",
		QuoteCurrency: "JPY",
		PipLocation:   -2,
		MarginRate:    0.02,
	},
	"EUR_GBP": {
		Name:          "EUR_GBP",
		BaseCurrency:  "EUR",
		QuoteCurrency: "GBP",
		PipLocation:   -4,
		MarginRate:    0.02,
	},
}

// PipSize returns the price increment of one pip for the instrument,
// e.g. 0.0001 for EUR_USD and 0.01 for USD_JPY.
func PipSize(instrument string) (float64, error) {
	meta, ok := Instruments[instrument]
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", instrument)
	}
	return math.Pow(10, float64(meta.PipLocation)), nil
}
