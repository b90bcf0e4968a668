package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/spreadguard/config"
	"github.com/rustyeddy/spreadguard/feed"
	"github.com/rustyeddy/spreadguard/feed/oanda"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record OANDA practice prices to a replayable CSV",
	Long: `Stream live prices from the OANDA practice environment and write them as
time,instrument,bid,ask rows that the replay command accepts.

Requires OANDA_TOKEN and OANDA_ACCOUNT_ID (environment or .env file).

Example:
  spreadguard record --instruments EUR_USD --max-ticks 500 --out eurusd.csv`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

var (
	recordInstruments []string
	recordOut         string
	recordMaxTicks    int
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringSliceVar(&recordInstruments, "instruments", nil, "instruments to stream (default from config)")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "oanda_ticks.csv", "output CSV path (time,instrument,bid,ask)")
	recordCmd.Flags().IntVar(&recordMaxTicks, "max-ticks", 0, "stop after this many ticks (0 = until interrupted)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	instruments := recordInstruments
	if len(instruments) == 0 {
		instruments = cfg.Oanda.Instruments
	}
	if cfg.Oanda.Token == "" {
		return fmt.Errorf("missing token: set %s", config.EnvOandaToken)
	}
	baseURL, err := streamURL(cfg.Oanda)
	if err != nil {
		return err
	}

	f, err := os.Create(recordOut)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	write, err := feed.CSVWriter(f, recordMaxTicks)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &oanda.Client{BaseURL: baseURL, Token: cfg.Oanda.Token}
	n, err := client.Stream(ctx, oanda.StreamOptions{
		AccountID:   cfg.Oanda.AccountID,
		Instruments: instruments,
	}, write)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d ticks to %s\n", n, recordOut)
	return nil
}
