package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/spreadguard/config"
	"github.com/rustyeddy/spreadguard/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spreadguard",
	Short: "Maintenance-window and drawdown risk controller for FX accounts",
	Long: `Spreadguard protects an FX account around the broker's daily maintenance
window, when spreads widen and protective stops are easily triggered.

On every price tick it:
  - Removes stop-losses and cancels pending entry orders when the window opens
  - Restores them when the window closes
  - Closes positions whose floating loss stays beyond a percentage of the
    balance for a number of consecutive ticks

Prices come from a scripted CSV replay or the OANDA practice stream and are
applied to an in-memory simulated broker.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string

	// Resolved by loadRuntime before any command runs.
	cfg    *config.Config
	logger *slog.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with OANDA_TOKEN / OANDA_ACCOUNT_ID (ignored if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	c, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	cfg = c

	logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	logging.SetDefault(logger)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		c, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return c, nil
	}

	c := config.Default()
	c.FromEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return c, nil
}
