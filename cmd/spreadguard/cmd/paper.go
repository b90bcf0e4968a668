package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/spreadguard/config"
	"github.com/rustyeddy/spreadguard/feed"
	"github.com/rustyeddy/spreadguard/feed/oanda"
	"github.com/rustyeddy/spreadguard/market"
	"github.com/rustyeddy/spreadguard/replay"
	"github.com/spf13/cobra"
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Guard a simulated account with live OANDA practice prices",
	Long: `Stream live prices from the OANDA practice environment into the simulated
broker and run the risk controller on every tick until interrupted.

Requires OANDA_TOKEN and OANDA_ACCOUNT_ID (environment or .env file).

The simulated account starts flat. --seed opens positions and places
orders from a CSV of instrument,event,arg1..arg5 rows (OPEN, OPEN_SLTP,
LIMIT, STOP as in replay scripts), each on the first tick of its
instrument.

Examples:
  spreadguard paper --instruments EUR_USD,USD_JPY
  spreadguard paper --seed positions.csv
  spreadguard paper -c spreadguard.yaml --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runPaper,
}

var (
	paperInstruments []string
	paperMetricsAddr string
	paperMaxTicks    int
	paperReport      string
	paperSeed        string
)

func init() {
	rootCmd.AddCommand(paperCmd)

	paperCmd.Flags().StringSliceVar(&paperInstruments, "instruments", nil, "instruments to stream (default from config)")
	paperCmd.Flags().StringVar(&paperMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
	paperCmd.Flags().IntVar(&paperMaxTicks, "max-ticks", 0, "stop after this many ticks (0 = until interrupted)")
	paperCmd.Flags().StringVar(&paperReport, "report", "", "write an Org session report to this path on exit")
	paperCmd.Flags().StringVar(&paperSeed, "seed", "", "CSV of OPEN/LIMIT/STOP events to apply as prices arrive")
}

func runPaper(cmd *cobra.Command, args []string) error {
	instruments := paperInstruments
	if len(instruments) == 0 {
		instruments = cfg.Oanda.Instruments
	}
	if err := checkInstruments(instruments, cfg.Account.Currency); err != nil {
		return err
	}
	var seeds []replay.ScriptEvent
	if paperSeed != "" {
		var err error
		if seeds, err = replay.LoadSeed(paperSeed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for _, ev := range seeds {
			if !slices.Contains(instruments, ev.Instrument) {
				return fmt.Errorf("seed: %s is not streamed", ev.Instrument)
			}
		}
	}
	if cfg.Oanda.Token == "" {
		return fmt.Errorf("missing token: set %s", config.EnvOandaToken)
	}
	if cfg.Oanda.AccountID == "" {
		return fmt.Errorf("missing account: set %s or oanda.account_id", config.EnvOandaAccountID)
	}
	baseURL, err := streamURL(cfg.Oanda)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := newSession(cfg, reg)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := paperMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(addr, reg)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	client := &oanda.Client{BaseURL: baseURL, Token: cfg.Oanda.Token}

	runner := replay.New(s.engine, s.ctrl, replay.Options{Logger: logger})
	runner.Seed(seeds...)
	onTick := func(t market.Tick) error {
		if err := runner.Tick(ctx, t); err != nil {
			return err
		}
		if paperMaxTicks > 0 && runner.Summary().Ticks >= paperMaxTicks {
			return feed.ErrStop
		}
		return nil
	}

	logger.Info("paper trading", "env", cfg.Oanda.Env, "instruments", instruments)
	_, err = client.Stream(ctx, oanda.StreamOptions{
		AccountID:   cfg.Oanda.AccountID,
		Instruments: instruments,
	}, onTick)
	sum := runner.Finish(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nPaper session ended.\n")
	printSummary(w, sum, cfg.Account.Balance)

	if paperReport != "" {
		source := fmt.Sprintf("oanda-%s", cfg.Oanda.Env)
		if err := writeReport(paperReport, "paper", source, cfg, sum, s.journal); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(w, "\nReport saved to: %s\n", paperReport)
	}
	return nil
}

// checkInstruments rejects instruments whose P/L has no streamed
// conversion into the account currency.
func checkInstruments(instruments []string, currency string) error {
	for _, inst := range instruments {
		leg, err := market.ConversionInstrument(inst, currency)
		if err != nil {
			return err
		}
		if leg != "" && !slices.Contains(instruments, leg) {
			return fmt.Errorf("%s needs %s streamed for conversion to %s", inst, leg, currency)
		}
	}
	return nil
}

// streamURL prefers an explicit oanda.base_url over the env's host.
func streamURL(c config.OandaConfig) (string, error) {
	if c.BaseURL != "" {
		return c.BaseURL, nil
	}
	return oanda.BaseURL(c.Env)
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	return srv
}
