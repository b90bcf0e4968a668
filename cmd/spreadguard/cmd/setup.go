package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/spreadguard/broker"
	"github.com/rustyeddy/spreadguard/broker/sim"
	"github.com/rustyeddy/spreadguard/config"
	"github.com/rustyeddy/spreadguard/journal"
	"github.com/rustyeddy/spreadguard/risk"
)

// openJournal opens the journal selected by the config.
func openJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "csv":
		return journal.NewCSV(jc.TradesFile, jc.EquityFile, jc.EventsFile)
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	case "none", "":
		return journal.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", jc.Type)
	}
}

// session is a simulated broker guarded by a risk controller.
type session struct {
	engine  *sim.Engine
	ctrl    *risk.Controller
	journal journal.Journal
}

// newSession wires the sim broker, journal and controller from c. reg may
// be nil to skip metrics.
func newSession(c *config.Config, reg prometheus.Registerer) (*session, error) {
	settings, err := c.Settings()
	if err != nil {
		return nil, fmt.Errorf("risk settings: %w", err)
	}

	j, err := openJournal(c.Journal)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}

	engine := sim.NewEngine(broker.Account{
		ID:       c.Account.ID,
		Currency: c.Account.Currency,
		Balance:  c.Account.Balance,
		Equity:   c.Account.Balance,
	}, j)

	opts := []risk.Option{
		risk.WithLogger(logger.With("account", c.Account.ID)),
		risk.WithEventRecorder(j),
	}
	if reg != nil {
		opts = append(opts, risk.WithMetrics(risk.NewMetrics(reg)))
	}

	ctrl, err := risk.NewController(engine, engine, settings, opts...)
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("create controller: %w", err)
	}
	return &session{engine: engine, ctrl: ctrl, journal: j}, nil
}

func (s *session) Close() error { return s.journal.Close() }
