package kpi

import (
	"context"
	"database/sql"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/pipump/core/runlog"
)

// SQLiteStore persists daily totals in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS pump_daily (
        pump TEXT,
        day INTEGER,
        runtime_s REAL,
        runs INTEGER,
        PRIMARY KEY(pump, day)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

const upsertDaily = `INSERT INTO pump_daily (pump, day, runtime_s, runs)
        VALUES (?, ?, ?, 1)
        ON CONFLICT(pump, day) DO UPDATE SET
            runtime_s = runtime_s + excluded.runtime_s,
            runs = runs + 1`

// Append adds the run to the total of its start day.
func (s *SQLiteStore) Append(ctx context.Context, r runlog.Record) error {
	_, err := s.db.ExecContext(ctx, upsertDaily, r.Pump, Day(r.Start).Unix(), r.Duration)
	return err
}

// Rebuild replaces the totals of the days in [start,end] with the sums of
// recs, in one transaction. An empty pump covers every pump and zero bounds
// do not filter. Records of other pumps or starting outside the range are
// skipped. It returns how many records were counted.
func (s *SQLiteStore) Rebuild(ctx context.Context, pump string, start, end time.Time, recs []runlog.Record) (int, error) {
	lo, hi := dayBounds(start, end)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pump_daily
        WHERE (? = '' OR pump = ?) AND day >= ? AND day <= ?`,
		pump, pump, lo, hi); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		d := Day(r.Start).Unix()
		if (pump != "" && r.Pump != pump) || d < lo || d > hi {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertDaily, r.Pump, d, r.Duration); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func dayBounds(start, end time.Time) (int64, int64) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !start.IsZero() {
		lo = Day(start).Unix()
	}
	if !end.IsZero() {
		hi = Day(end).Unix()
	}
	return lo, hi
}

// Query returns the totals of pump for the days in [start,end]. Zero bounds
// do not filter.
func (s *SQLiteStore) Query(ctx context.Context, pump string, start, end time.Time) ([]Daily, error) {
	lo, hi := dayBounds(start, end)
	rows, err := s.db.QueryContext(ctx, `SELECT pump, day, runtime_s, runs
        FROM pump_daily WHERE pump = ? AND day >= ? AND day <= ? ORDER BY day`,
		pump, lo, hi)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Daily
	for rows.Next() {
		var d Daily
		var ts int64
		if err := rows.Scan(&d.Pump, &ts, &d.RuntimeSeconds, &d.Runs); err != nil {
			return nil, err
		}
		d.Day = time.Unix(ts, 0).Local()
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
