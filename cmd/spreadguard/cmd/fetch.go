package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rustyeddy/spreadguard/feed"
	"github.com/rustyeddy/spreadguard/feed/dukascopy"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download historical Dukascopy ticks to a replayable CSV",
	Long: `Download hourly tick files from the Dukascopy datafeed and write them as
time,instrument,bid,ask rows that the replay command accepts.

Hours are given in UTC as YYYY-MM-DDTHH; the end hour is exclusive.

Example:
  spreadguard fetch --instrument EUR_USD --start 2025-03-12T20 --end 2025-03-12T23 \
    --out eurusd-window.csv`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

var (
	fetchBaseURL    string
	fetchInstrument string
	fetchStart      string
	fetchEnd        string
	fetchOut        string
	fetchCache      string
	fetchWorkers    int
	fetchDelay      time.Duration
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchBaseURL, "base", dukascopy.DefaultBaseURL, "Dukascopy datafeed base URL")
	fetchCmd.Flags().StringVar(&fetchInstrument, "instrument", "EUR_USD", "instrument, e.g. EUR_USD")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "first hour (UTC) like 2025-03-12T20 (required)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "end hour (UTC, exclusive) like 2025-03-12T23 (required)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "dukascopy_ticks.csv", "output CSV path (time,instrument,bid,ask)")
	fetchCmd.Flags().StringVar(&fetchCache, "cache", "", "directory to keep downloaded .bi5 files")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", max(4, runtime.NumCPU()), "parallel downloads")
	fetchCmd.Flags().DurationVar(&fetchDelay, "sleep", 50*time.Millisecond, "polite delay per request")

	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagRequired("end")
}

func runFetch(cmd *cobra.Command, args []string) error {
	from, err := time.ParseInLocation("2006-01-02T15", fetchStart, time.UTC)
	if err != nil {
		return fmt.Errorf("bad --start: %w", err)
	}
	to, err := time.ParseInLocation("2006-01-02T15", fetchEnd, time.UTC)
	if err != nil {
		return fmt.Errorf("bad --end: %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("--end must be after --start")
	}

	f, err := os.Create(fetchOut)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	write, err := feed.CSVWriter(f, 0)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &dukascopy.Client{
		BaseURL:  fetchBaseURL,
		CacheDir: fetchCache,
		Workers:  fetchWorkers,
		Delay:    fetchDelay,
		Logger:   logger,
	}
	logger.Info("fetching", "instrument", fetchInstrument, "from", from, "to", to, "hours", int(to.Sub(from)/time.Hour))

	n, err := client.Fetch(ctx, fetchInstrument, from, to, write)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d ticks to %s\n", n, fetchOut)
	return nil
}
