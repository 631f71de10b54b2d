// Package store persists the merge-run ledger to a local SQLite file.
// The ledger is observability only: failures to record a run are
// logged, never fatal to the pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tripatlas/poi-pipeline/internal/model"
)

// Ledger records merge runs in SQLite via modernc.org/sqlite.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and configures WAL mode.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS merge_runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	geocode     INTEGER NOT NULL DEFAULT 0,
	countries   INTEGER NOT NULL DEFAULT 0,
	totals      TEXT,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_merge_runs_started_at ON merge_runs(started_at);
`

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(migration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Start inserts a new in-progress run row and returns its ID.
func (l *Ledger) Start(ctx context.Context, geocode bool) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO merge_runs (id, started_at, geocode) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), geocode,
	)
	if err != nil {
		return "", eris.Wrap(err, "store: insert run")
	}
	return id, nil
}

// Complete marks a run finished with its grand totals.
func (l *Ledger) Complete(ctx context.Context, id string, countries int, totals model.RunStats) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return eris.Wrap(err, "store: marshal totals")
	}
	_, err = l.db.ExecContext(ctx,
		`UPDATE merge_runs SET finished_at = ?, countries = ?, totals = ? WHERE id = ?`,
		time.Now().UTC(), countries, string(totalsJSON), id,
	)
	return eris.Wrap(err, "store: complete run")
}

// Fail marks a run finished with an error message.
func (l *Ledger) Fail(ctx context.Context, id, message string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE merge_runs SET finished_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), message, id,
	)
	return eris.Wrap(err, "store: fail run")
}

// RecentRuns returns the most recent runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]model.MergeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, geocode, countries, totals, error
		 FROM merge_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: query runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.MergeRun
	for rows.Next() {
		var (
			run        model.MergeRun
			finishedAt sql.NullTime
			totals     sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Geocode, &run.Countries, &totals, &errMsg); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		if totals.Valid && totals.String != "" {
			if err := json.Unmarshal([]byte(totals.String), &run.Totals); err != nil {
				return nil, eris.Wrap(err, "store: parse totals")
			}
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "store: iterate runs")
}
