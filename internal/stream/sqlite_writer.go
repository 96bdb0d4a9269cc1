package stream

import (
	"context"

	"fractalstream/internal/telemetry"
)

// SQLiteWriter mirrors dispatch results into a local SQLite database.
type SQLiteWriter struct {
	store *telemetry.SQLiteStore
}

// NewSQLiteWriter opens the database at path.
func NewSQLiteWriter(ctx context.Context, path string) (*SQLiteWriter, error) {
	s, err := telemetry.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteWriter{store: s}, nil
}

// Write inserts one result.
func (w *SQLiteWriter) Write(row telemetry.DispatchResult) error {
	return w.store.Insert(context.Background(), row)
}

// WriteBatch inserts rows in a single transaction.
func (w *SQLiteWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	return w.store.Insert(context.Background(), rows...)
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.store.Close()
}
