package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rustyeddy/spreadguard/market"
)

// ScriptEvent is a trading event not tied to a tick row.
type ScriptEvent struct {
	Instrument string
	Event      string
	Args       []string
}

// LoadSeed reads seed events from the CSV at path.
func LoadSeed(path string) ([]ScriptEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed reads seed events, one per row:
//
//	instrument,event,arg1,arg2,arg3,arg4,arg5
//
// Arguments are as in a replay script. Only OPEN, OPEN_SLTP, LIMIT and
// STOP may seed; the rest need positions that already exist.
func ParseSeed(in io.Reader) ([]ScriptEvent, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	var events []ScriptEvent
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "instrument")) {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("seed row %d: need instrument,event: %v", line, row)
		}

		ev := ScriptEvent{
			Instrument: strings.TrimSpace(row[0]),
			Event:      strings.ToUpper(strings.TrimSpace(row[1])),
		}
		if _, ok := market.Instruments[ev.Instrument]; !ok {
			return nil, fmt.Errorf("seed row %d: unknown instrument %q", line, ev.Instrument)
		}
		switch ev.Event {
		case "OPEN", "OPEN_SLTP", "LIMIT", "STOP":
		default:
			return nil, fmt.Errorf("seed row %d: event %q cannot seed", line, ev.Event)
		}
		for _, a := range row[2:] {
			ev.Args = append(ev.Args, strings.TrimSpace(a))
		}
		if _, _, _, err := orderArgs(ev.Args); err != nil {
			return nil, fmt.Errorf("seed row %d: %s: %w", line, ev.Event, err)
		}
		events = append(events, ev)
	}
}
