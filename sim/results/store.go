package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at           TEXT    NOT NULL,
	device               TEXT    NOT NULL,
	num_lps              INTEGER NOT NULL,
	work_group_size      INTEGER NOT NULL,
	stop_time            REAL    NOT NULL,
	lookahead            REAL    NOT NULL,
	mean_delay           REAL    NOT NULL,
	local_rate           REAL    NOT NULL,
	seed                 INTEGER NOT NULL,
	reducer              TEXT    NOT NULL,
	rounds               INTEGER NOT NULL,
	active_rounds        INTEGER NOT NULL,
	events_processed     INTEGER NOT NULL,
	final_lbts           REAL    NOT NULL,
	mean_events_per_lp   REAL    NOT NULL,
	stddev_events_per_lp REAL    NOT NULL,
	max_events_per_lp    INTEGER NOT NULL,
	elapsed_ms           REAL    NOT NULL,
	events_per_second    REAL    NOT NULL,
	state_digest         TEXT    NOT NULL
)`

const columns = `started_at, device, num_lps, work_group_size, stop_time, lookahead, mean_delay,
	local_rate, seed, reducer, rounds, active_rounds, events_processed, final_lbts,
	mean_events_per_lp, stddev_events_per_lp, max_events_per_lp, elapsed_ms,
	events_per_second, state_digest`

// Store is a SQLite-backed history of runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert appends rec and returns its row id.
func (s *Store) Insert(ctx context.Context, rec RunRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.Format(time.RFC3339Nano), rec.Device, rec.NumLPs, rec.WorkGroupSize,
		rec.StopTime, rec.Lookahead, rec.MeanDelay, rec.LocalRate, rec.Seed, rec.Reducer,
		rec.Rounds, rec.ActiveRounds, int64(rec.EventsProcessed), rec.FinalLBTS,
		rec.MeanEventsPerLP, rec.StdDevPerLP, rec.MaxEventsPerLP, rec.ElapsedMs,
		rec.EventsPerSecond, rec.StateDigest)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			startedAt string
			processed int64
		)
		if err := rows.Scan(&startedAt, &rec.Device, &rec.NumLPs, &rec.WorkGroupSize,
			&rec.StopTime, &rec.Lookahead, &rec.MeanDelay, &rec.LocalRate, &rec.Seed, &rec.Reducer,
			&rec.Rounds, &rec.ActiveRounds, &processed, &rec.FinalLBTS,
			&rec.MeanEventsPerLP, &rec.StdDevPerLP, &rec.MaxEventsPerLP, &rec.ElapsedMs,
			&rec.EventsPerSecond, &rec.StateDigest); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		rec.EventsProcessed = uint64(processed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
