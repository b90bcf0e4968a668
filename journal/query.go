package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTradeNotFound is returned by GetTrade for an unknown ID.
var ErrTradeNotFound = errors.New("trade not found")

const (
	tradeColumns = `trade_id, instrument, units, entry_price, exit_price, open_time, close_time, realized_pl, reason`
	eventColumns = `event_id, time, kind, ref_id, new_ref_id, instrument, value, error`
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var r TradeRecord
	err := s.Scan(&r.TradeID, &r.Instrument, &r.Units, &r.EntryPrice, &r.ExitPrice,
		&r.OpenTime, &r.CloseTime, &r.RealizedPL, &r.Reason)
	return r, err
}

func scanEvent(s scanner) (Event, error) {
	var e Event
	err := s.Scan(&e.ID, &e.Time, &e.Kind, &e.RefID, &e.NewRefID, &e.Instrument, &e.Value, &e.Error)
	return e, err
}

// collect drains rows through scan.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRecord{}, fmt.Errorf("%w: %q", ErrTradeNotFound, tradeID)
	}
	return rec, err
}

// ListTradesClosedBetween returns trades whose close_time is within
// [start, end), oldest first.
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTrade)
}

// ListEventsBetween returns controller events within [start, end), oldest
// first. An empty kind matches every kind.
func (j *SQLite) ListEventsBetween(start, end time.Time, kind string) ([]Event, error) {
	rows, err := j.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE time >= ? AND time < ? AND (? = '' OR kind = ?)
		ORDER BY time ASC, event_id ASC`, start, end, kind, kind)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}
