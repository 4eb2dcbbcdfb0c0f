// Package store caches price series and fetch history in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"globalfinance/models"
)

// ErrNotFound is returned when no series is cached for a symbol and interval.
var ErrNotFound = errors.New("series not found")

const schema = `
CREATE TABLE IF NOT EXISTS series (
	symbol       TEXT NOT NULL,
	interval     TEXT NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMP NOT NULL,
	covered_from TIMESTAMP NOT NULL,
	PRIMARY KEY (symbol, interval)
);
CREATE TABLE IF NOT EXISTS bars (
	symbol   TEXT NOT NULL,
	interval TEXT NOT NULL,
	ts       TIMESTAMP NOT NULL,
	open     REAL NOT NULL,
	high     REAL NOT NULL,
	low      REAL NOT NULL,
	close    REAL NOT NULL,
	volume   REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, interval, ts)
);
CREATE TABLE IF NOT EXISTS fetch_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	symbols     INTEGER NOT NULL,
	failures    INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
`

// FetchRun records one refresh of the watchlist.
type FetchRun struct {
	ID         string    `db:"id" json:"id"`
	StartedAt  time.Time `db:"started_at" json:"startedAt"`
	FinishedAt time.Time `db:"finished_at" json:"finishedAt"`
	Symbols    int       `db:"symbols" json:"symbols"`
	Failures   int       `db:"failures" json:"failures"`
	Error      string    `db:"error" json:"error,omitempty"`
}

type seriesRow struct {
	Symbol      string    `db:"symbol"`
	Interval    string    `db:"interval"`
	Currency    string    `db:"currency"`
	FetchedAt   time.Time `db:"fetched_at"`
	CoveredFrom time.Time `db:"covered_from"`
}

type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at dsn and applies the schema.
// The special dsn ":memory:" gives a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.Wrap(err, "error creating database directory")
		}
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening database %s", dsn)
	}
	// SQLite allows a single writer; an in-memory database only exists on one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error applying schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSeries upserts the series metadata and all of its bars in one transaction.
// Coverage widens only when the new fetch starts at or before the previous
// fetch time, so the stored bars join up without a gap. Otherwise coverage
// restarts at the new fetch's start.
func (s *Store) SaveSeries(ctx context.Context, series *models.Series) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error starting transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO series (symbol, interval, currency, fetched_at, covered_from) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, interval) DO UPDATE SET
			currency = excluded.currency,
			fetched_at = excluded.fetched_at,
			covered_from = CASE
				WHEN excluded.covered_from <= series.fetched_at THEN MIN(series.covered_from, excluded.covered_from)
				ELSE excluded.covered_from
			END`,
		series.Symbol, string(series.Interval), series.Currency, series.FetchedAt.UTC(), series.CoveredFrom.UTC())
	if err != nil {
		return errors.Wrapf(err, "error saving series %s", series.Symbol)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO bars (symbol, interval, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, interval, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return errors.Wrap(err, "error preparing bar insert")
	}
	defer stmt.Close()

	for _, b := range series.Bars {
		_, err := stmt.ExecContext(ctx, series.Symbol, string(series.Interval), b.Time.UTC(),
			b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return errors.Wrapf(err, "error saving bar %s %s", series.Symbol, b.Time.Format("2006-01-02"))
		}
	}
	return errors.Wrap(tx.Commit(), "error committing series")
}

// LoadSeries returns the cached bars of symbol at interval from since onwards.
// A zero since loads everything.
func (s *Store) LoadSeries(ctx context.Context, symbol string, interval models.Interval, since time.Time) (*models.Series, error) {
	var meta seriesRow
	err := s.db.GetContext(ctx, &meta,
		`SELECT symbol, interval, currency, fetched_at, covered_from FROM series WHERE symbol = ? AND interval = ?`,
		symbol, string(interval))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error loading series %s", symbol)
	}

	series := &models.Series{
		Symbol:      meta.Symbol,
		Currency:    meta.Currency,
		Interval:    models.Interval(meta.Interval),
		FetchedAt:   meta.FetchedAt,
		CoveredFrom: meta.CoveredFrom,
	}
	err = s.db.SelectContext(ctx, &series.Bars, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND interval = ? AND ts >= ?
		ORDER BY ts`,
		symbol, string(interval), since.UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "error loading bars %s", symbol)
	}
	return series, nil
}

// RecordRun stores a completed fetch run.
func (s *Store) RecordRun(ctx context.Context, run FetchRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO fetch_runs (id, started_at, finished_at, symbols, failures, error)
		VALUES (:id, :started_at, :finished_at, :symbols, :failures, :error)`, run)
	return errors.Wrapf(err, "error recording fetch run %s", run.ID)
}

// RecentRuns lists the latest fetch runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]FetchRun, error) {
	runs := []FetchRun{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, finished_at, symbols, failures, error FROM fetch_runs
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "error listing fetch runs")
	}
	return runs, nil
}
