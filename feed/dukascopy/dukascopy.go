// Package dukascopy downloads historical tick data from the Dukascopy
// datafeed. Each hour is an LZMA compressed .bi5 file of fixed-size
// big-endian records.
package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/spreadguard/feed"
	"github.com/rustyeddy/spreadguard/market"
	"github.com/ulikunitz/xz/lzma"
)

const DefaultBaseURL = "https://datafeed.dukascopy.com/datafeed"

// ErrNoData means the feed has no file for an hour, as on weekends.
var ErrNoData = errors.New("dukascopy: no data for hour")

const recordSize = 20 // ms offset, ask, bid uint32; ask volume, bid volume float32

type Client struct {
	BaseURL string
	HTTP    *http.Client

	// CacheDir keeps downloaded .bi5 files and reuses them when set.
	CacheDir string

	// Workers is the number of hours downloaded in parallel.
	Workers int

	// Delay is slept before every request.
	Delay time.Duration

	Logger *slog.Logger
}

// Symbol maps EUR_USD to the datafeed's EURUSD.
func Symbol(instrument string) string {
	return strings.ReplaceAll(strings.ToUpper(instrument), "_", "")
}

// HourURL returns the .bi5 location for the hour containing t. Months in
// the path are zero based.
func HourURL(base, symbol string, t time.Time) string {
	t = t.UTC()
	month0 := int(t.Month()) - 1
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(base, "/"),
		symbol,
		t.Year(), month0, t.Day(), t.Hour())
}

// Scale is the integer price divisor for an instrument: one point is a
// tenth of a pip.
func Scale(instrument string) (float64, error) {
	meta, ok := market.Instruments[instrument]
	if !ok {
		return 0, fmt.Errorf("dukascopy: unknown instrument %q", instrument)
	}
	return math.Pow(10, float64(1-meta.PipLocation)), nil
}

// Decode decompresses one hour file and returns its ticks in order.
func Decode(r io.Reader, instrument string, hour time.Time) ([]market.Tick, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("dukascopy: lzma: %w", err)
	}
	raw, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("dukascopy: lzma: %w", err)
	}
	return decodeRecords(raw, instrument, hour)
}

func decodeRecords(raw []byte, instrument string, hour time.Time) ([]market.Tick, error) {
	if len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("dukascopy: %d bytes is not a whole number of records", len(raw))
	}
	scale, err := Scale(instrument)
	if err != nil {
		return nil, err
	}

	hour = hour.UTC().Truncate(time.Hour)
	ticks := make([]market.Tick, 0, len(raw)/recordSize)
	for off := 0; off < len(raw); off += recordSize {
		rec := raw[off : off+recordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := binary.BigEndian.Uint32(rec[4:8])
		bid := binary.BigEndian.Uint32(rec[8:12])
		ticks = append(ticks, market.Tick{
			Instrument: instrument,
			Time:       hour.Add(time.Duration(ms) * time.Millisecond),
			Bid:        float64(bid) / scale,
			Ask:        float64(ask) / scale,
		})
	}
	return ticks, nil
}

type hourResult struct {
	ticks []market.Tick
	err   error
}

// Fetch downloads every hour overlapping [from, to) and calls fn for each
// tick in that range, oldest first. Hours without data are skipped.
// Downloads run Workers at a time; a batch is delivered before the next is
// requested. It returns the number of ticks delivered; feed.ErrStop from fn
// ends the fetch without error.
func (c *Client) Fetch(ctx context.Context, instrument string, from, to time.Time, fn feed.Handler) (int, error) {
	if _, err := Scale(instrument); err != nil {
		return 0, err
	}
	if !from.Before(to) {
		return 0, errors.New("dukascopy: from must be before to")
	}

	var hours []time.Time
	for h := from.UTC().Truncate(time.Hour); h.Before(to); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}

	workers := max(1, c.Workers)
	delivered := 0
	for start := 0; start < len(hours); start += workers {
		batch := hours[start:min(start+workers, len(hours))]
		results := c.fetchBatch(ctx, instrument, batch)

		for i, res := range results {
			if errors.Is(res.err, ErrNoData) {
				c.log().Debug("no data", "instrument", instrument, "hour", batch[i])
				continue
			}
			if res.err != nil {
				return delivered, res.err
			}
			for _, t := range res.ticks {
				if t.Time.Before(from) || !t.Time.Before(to) {
					continue
				}
				if err := fn(t); err != nil {
					if errors.Is(err, feed.ErrStop) {
						return delivered + 1, nil
					}
					return delivered, err
				}
				delivered++
			}
		}
	}
	return delivered, nil
}

func (c *Client) fetchBatch(ctx context.Context, instrument string, hours []time.Time) []hourResult {
	results := make([]hourResult, len(hours))

	var wg sync.WaitGroup
	for i, h := range hours {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticks, err := c.fetchHour(ctx, instrument, h)
			results[i] = hourResult{ticks: ticks, err: err}
		}()
	}
	wg.Wait()
	return results
}

func (c *Client) fetchHour(ctx context.Context, instrument string, hour time.Time) ([]market.Tick, error) {
	data, err := c.load(ctx, instrument, hour)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	ticks, err := Decode(bytes.NewReader(data), instrument, hour)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", instrument, hour.Format("2006-01-02T15"), err)
	}
	return ticks, nil
}

func (c *Client) load(ctx context.Context, instrument string, hour time.Time) ([]byte, error) {
	symbol := Symbol(instrument)

	var cachePath string
	if c.CacheDir != "" {
		cachePath = filepath.Join(c.CacheDir, symbol,
			fmt.Sprintf("%04d", hour.Year()), fmt.Sprintf("%02d", hour.Month()), fmt.Sprintf("%02d", hour.Day()),
			fmt.Sprintf("%02dh_ticks.bi5", hour.Hour()))
		if data, err := os.ReadFile(cachePath); err == nil && len(data) > 0 {
			return data, nil
		}
	}

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := HourURL(base, symbol, hour)
	data, err := c.download(ctx, url)
	if err != nil {
		return nil, err
	}
	c.log().Debug("downloaded", "url", url, "bytes", len(data))

	if cachePath != "" && len(data) > 0 {
		if err := writeFileAtomic(cachePath, data); err != nil {
			return nil, fmt.Errorf("cache %s: %w", cachePath, err)
		}
	}
	return data, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "spreadguard/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dukascopy: %s: http status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (c *Client) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
