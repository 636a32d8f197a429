package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists runs to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("runlog: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pump_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        pump TEXT NOT NULL,
        start_ms INTEGER NOT NULL,
        end_ms INTEGER NOT NULL,
        duration_s REAL NOT NULL
    );`,
		`CREATE INDEX IF NOT EXISTS pump_runs_pump_start ON pump_runs (pump, start_ms);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pump_runs (pump, start_ms, end_ms, duration_s) VALUES (?, ?, ?, ?)`,
		rec.Pump, rec.Start.UnixMilli(), rec.End.UnixMilli(), rec.Duration)
	return err
}

// Query returns records matching q, oldest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT pump, start_ms, end_ms, duration_s FROM pump_runs WHERE 1=1`
	if q.Pump != "" {
		query += ` AND pump = ?`
		args = append(args, q.Pump)
	}
	if !q.Start.IsZero() {
		query += ` AND end_ms >= ?`
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		query += ` AND start_ms <= ?`
		args = append(args, q.End.UnixMilli())
	}
	query += ` ORDER BY start_ms`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r          Record
			start, end int64
		)
		if err := rows.Scan(&r.Pump, &start, &end, &r.Duration); err != nil {
			return nil, err
		}
		r.Start = time.UnixMilli(start)
		r.End = time.UnixMilli(end)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
