// Package feed holds what the price sources share: the tick handler
// signature and a CSV sink that writes replayable ticks.
package feed

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/spreadguard/market"
)

// ErrStop ends a feed without error when returned by a Handler.
var ErrStop = errors.New("feed: stop")

// Handler receives ticks in order.
type Handler func(market.Tick) error

// CSVHeader is the header row of a replayable tick file.
var CSVHeader = []string{"time", "instrument", "bid", "ask"}

// CSVWriter returns a Handler that writes replayable
// time,instrument,bid,ask rows to w, header first, stopping after
// maxTicks when maxTicks > 0.
func CSVWriter(w io.Writer, maxTicks int) (Handler, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	written := 0
	return func(t market.Tick) error {
		row := []string{
			t.Time.UTC().Format(time.RFC3339Nano),
			t.Instrument,
			strconv.FormatFloat(t.Bid, 'f', -1, 64),
			strconv.FormatFloat(t.Ask, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		written++
		if maxTicks > 0 && written >= maxTicks {
			return ErrStop
		}
		return nil
	}, nil
}
