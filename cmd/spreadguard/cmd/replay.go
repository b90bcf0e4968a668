package cmd

import (
	"fmt"

	"github.com/rustyeddy/spreadguard/replay"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.csv>",
	Short: "Replay a scripted tick and event CSV through the risk controller",
	Long: `Replay ticks and trading events from a CSV script against the simulated
broker, running the risk controller after every row.

Script format:
  time,instrument,bid,ask[,event,arg1,arg2,arg3,arg4,arg5]

Events: OPEN, OPEN_SLTP, LIMIT, STOP, CLOSE, CANCEL, CLOSE_ALL.

Examples:
  spreadguard replay scenarios/window.csv
  spreadguard replay -c spreadguard.yaml --report session.org scenarios/drawdown.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayCloseEnd   bool
	replayEventFirst bool
	replayReport     string
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", false, "close all open positions at the end of the script")
	replayCmd.Flags().BoolVar(&replayEventFirst, "event-first", false, "apply a row's event before its tick")
	replayCmd.Flags().StringVar(&replayReport, "report", "", "write an Org session report to this path")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	s, err := newSession(cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	r := replay.New(s.engine, s.ctrl, replay.Options{
		EventFirst: replayEventFirst,
		Logger:     logger,
	})

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Replaying: %s\n", path)
	sum, err := r.File(ctx, path)
	if err != nil {
		return fmt.Errorf("replay error: %w", err)
	}

	if replayCloseEnd {
		if err := s.engine.CloseAll(ctx, "EndOfReplay"); err != nil {
			return fmt.Errorf("close all: %w", err)
		}
		if sum.FinalAccount, err = s.engine.GetAccount(ctx); err != nil {
			return fmt.Errorf("account: %w", err)
		}
	}

	fmt.Fprintf(w, "\nReplay complete!\n")
	printSummary(w, sum, cfg.Account.Balance)

	if replayReport != "" {
		if err := writeReport(replayReport, "replay", path, cfg, sum, s.journal); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(w, "\nReport saved to: %s\n", replayReport)
	}
	return nil
}
