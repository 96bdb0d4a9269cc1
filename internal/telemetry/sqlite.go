package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps dispatch results in a local SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (or creates) the database at path and ensures the results table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db, table: TableName}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
  frame_id INTEGER NOT NULL,
  sent_time REAL NOT NULL,
  end_time REAL NOT NULL,
  worker TEXT NOT NULL,
  latency_ms REAL NOT NULL,
  calc_time_ms REAL NOT NULL,
  success INTEGER NOT NULL
); CREATE INDEX IF NOT EXISTS %q ON %q(sent_time);`, s.table, s.table+"_sent", s.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return s, nil
}

// Insert appends rows inside one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, rows ...DispatchResult) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %q(frame_id, sent_time, end_time, worker, latency_ms, calc_time_ms, success) VALUES(?,?,?,?,?,?,?)`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.FrameID, epoch(r.SentTime), epoch(r.EndTime),
			r.ServedBy, r.LatencyMs, r.CalcTimeMs, r.Success); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Results returns all stored rows in insertion order.
func (s *SQLiteStore) Results(ctx context.Context) ([]DispatchResult, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT frame_id, sent_time, end_time, worker, latency_ms, calc_time_ms, success FROM %q ORDER BY rowid`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DispatchResult
	for rows.Next() {
		var (
			r         DispatchResult
			sent, end float64
		)
		if err := rows.Scan(&r.FrameID, &sent, &end, &r.ServedBy, &r.LatencyMs, &r.CalcTimeMs, &r.Success); err != nil {
			return nil, err
		}
		r.SentTime = fromEpoch(sent)
		r.EndTime = fromEpoch(end)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadSQLite reads every result stored in the database at path.
func LoadSQLite(ctx context.Context, path string) ([]DispatchResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Results(ctx)
}

func epoch(t time.Time) float64 { return float64(t.UnixMicro()) / 1e6 }

func fromEpoch(f float64) time.Time {
	return time.UnixMicro(int64(math.Round(f * 1e6)))
}
