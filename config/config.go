// Package config loads and validates spreadguard settings from YAML or
// JSON, with OANDA credentials taken from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rustyeddy/spreadguard/market"
	"github.com/rustyeddy/spreadguard/risk"
	"github.com/rustyeddy/spreadguard/window"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvOandaToken     = "OANDA_TOKEN"
	EnvOandaAccountID = "OANDA_ACCOUNT_ID"
)

// Config is the complete spreadguard configuration.
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Window  WindowConfig  `json:"window" yaml:"window"`
	Risk    RiskConfig    `json:"risk" yaml:"risk"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Oanda   OandaConfig   `json:"oanda" yaml:"oanda"`
}

// AccountConfig seeds the simulated account.
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// WindowConfig is the daily maintenance window, in Timezone.
type WindowConfig struct {
	StartHour   int    `json:"start_hour" yaml:"start_hour"`
	StartMinute int    `json:"start_minute" yaml:"start_minute"`
	EndHour     int    `json:"end_hour" yaml:"end_hour"`
	EndMinute   int    `json:"end_minute" yaml:"end_minute"`
	Timezone    string `json:"timezone" yaml:"timezone"` // IANA name, default UTC
}

type RiskConfig struct {
	PercentRisk   float64 `json:"percent_risk" yaml:"percent_risk"`
	TickThreshold int     `json:"tick_threshold" yaml:"tick_threshold"`
}

// JournalConfig selects where trades, equity and risk events go.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	EventsFile string `json:"events_file,omitempty" yaml:"events_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9090"; empty disables
}

// OandaConfig configures the live practice price feed. Token is never
// written to disk.
type OandaConfig struct {
	Env         string   `json:"env" yaml:"env"`
	AccountID   string   `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Instruments []string `json:"instruments" yaml:"instruments"`
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Token       string   `json:"-" yaml:"-"`
}

// LoadFromFile loads configuration from a file, YAML first with JSON as
// fallback, applies environment overrides and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.FromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv overrides OANDA credentials from the environment.
func (c *Config) FromEnv() {
	if v := os.Getenv(EnvOandaToken); v != "" {
		c.Oanda.Token = v
	}
	if v := os.Getenv(EnvOandaAccountID); v != "" {
		c.Oanda.AccountID = v
	}
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths and JSON
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return errors.New("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return errors.New("account.balance must be positive")
	}

	if _, err := c.Settings(); err != nil {
		return err
	}

	switch c.Journal.Type {
	case "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" || c.Journal.EventsFile == "" {
			return errors.New("journal trades_file, equity_file and events_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return errors.New("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none', got %q", c.Journal.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q unknown", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	for _, inst := range c.Oanda.Instruments {
		if _, ok := market.Instruments[inst]; !ok {
			return fmt.Errorf("unknown instrument: %s", inst)
		}
		leg, err := market.ConversionInstrument(inst, c.Account.Currency)
		if err != nil {
			return fmt.Errorf("oanda.instruments: %w", err)
		}
		if leg != "" && !slices.Contains(c.Oanda.Instruments, leg) {
			return fmt.Errorf("oanda.instruments: %s needs %s for conversion to %s", inst, leg, c.Account.Currency)
		}
	}
	return nil
}

// Location resolves the window timezone.
func (w WindowConfig) Location() (*time.Location, error) {
	if w.Timezone == "" || strings.EqualFold(w.Timezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("window.timezone: %w", err)
	}
	return loc, nil
}

// Settings builds validated controller settings.
func (c *Config) Settings() (risk.Settings, error) {
	loc, err := c.Window.Location()
	if err != nil {
		return risk.Settings{}, err
	}
	s := risk.Settings{
		Window: window.Window{
			StartHour:   c.Window.StartHour,
			StartMinute: c.Window.StartMinute,
			EndHour:     c.Window.EndHour,
			EndMinute:   c.Window.EndMinute,
			Location:    loc,
		},
		PercentRisk:   c.Risk.PercentRisk,
		TickThreshold: c.Risk.TickThreshold,
	}
	if err := s.Validate(); err != nil {
		return risk.Settings{}, err
	}
	return s, nil
}

// Default returns a configuration with sensible defaults: a 21:00-22:00
// UTC window, 10% drawdown and a 10 tick debounce.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  100000,
		},
		Window: WindowConfig{
			StartHour: 21,
			EndHour:   22,
			Timezone:  "UTC",
		},
		Risk: RiskConfig{
			PercentRisk:   10,
			TickThreshold: 10,
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
			EventsFile: "./events.csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Oanda: OandaConfig{
			Env:         "practice",
			Instruments: []string{"EUR_USD"},
		},
	}
}
