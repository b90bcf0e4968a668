package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/spreadguard/feed"
	"github.com/rustyeddy/spreadguard/market"
)

type StreamOptions struct {
	AccountID   string
	Instruments []string
}

type pricingStreamMsg struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`

	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`

	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// Stream connects to the pricing stream and calls fn for every price
// message, in order. Heartbeats are skipped. It returns the number of
// ticks delivered when ctx is done, the stream ends, or fn returns an
// error; feed.ErrStop from fn is not reported.
func (c *Client) Stream(ctx context.Context, opts StreamOptions, fn feed.Handler) (int, error) {
	if c.Token == "" {
		return 0, errors.New("oanda: missing token")
	}
	if c.BaseURL == "" {
		return 0, errors.New("oanda: missing base url")
	}
	if opts.AccountID == "" {
		return 0, errors.New("oanda: missing AccountID")
	}
	if len(opts.Instruments) == 0 {
		return 0, errors.New("oanda: missing Instruments")
	}

	path := fmt.Sprintf("/v3/accounts/%s/pricing/stream", opts.AccountID)
	body, err := c.Get(ctx, path, map[string]string{
		"instruments": strings.Join(opts.Instruments, ","),
	})
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	// OANDA stream messages can be long; bump max token
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	delivered := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		tick, ok, err := parseLine(line)
		if err != nil {
			return delivered, err
		}
		if !ok {
			continue
		}

		if err := fn(tick); err != nil {
			if errors.Is(err, feed.ErrStop) {
				return delivered + 1, nil
			}
			return delivered, err
		}
		delivered++
	}

	if err := sc.Err(); err != nil {
		// if ctx was cancelled, surface that instead
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		return delivered, err
	}
	return delivered, ctx.Err()
}

func parseLine(line string) (market.Tick, bool, error) {
	var msg pricingStreamMsg
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return market.Tick{}, false, fmt.Errorf("oanda: bad json: %w (line=%q)", err, trimForErr(line))
	}

	if !strings.EqualFold(msg.Type, "PRICE") {
		return market.Tick{}, false, nil
	}
	if msg.Instrument == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return market.Tick{}, false, nil
	}

	bid, err := strconv.ParseFloat(msg.Bids[0].Price, 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("oanda: bad bid %q: %w", msg.Bids[0].Price, err)
	}
	ask, err := strconv.ParseFloat(msg.Asks[0].Price, 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("oanda: bad ask %q: %w", msg.Asks[0].Price, err)
	}

	ts := time.Now().UTC()
	if msg.Time != "" {
		ts, err = time.Parse(time.RFC3339Nano, msg.Time)
		if err != nil {
			return market.Tick{}, false, fmt.Errorf("oanda: bad time %q: %w", msg.Time, err)
		}
	}

	return market.Tick{Instrument: msg.Instrument, Time: ts, Bid: bid, Ask: ask}, true, nil
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
