package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"fractalstream/internal/telemetry"
)

const defaultGreptimePort = 4001

// greptimeClient is the subset of the ingester client used by the writer.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes dispatch results to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client  greptimeClient
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint (host or host:port). The table is created by
// GreptimeDB on first write.
func NewGreptimeDBWriter(endpoint, database, tableName string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tableName == "" {
		tableName = telemetry.TableName
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{client: client, table: tableName, timeout: 5 * time.Second, log: log}, nil
}

// Write inserts a single result.
func (w *GreptimeDBWriter) Write(row telemetry.DispatchResult) error {
	return w.WriteBatch([]telemetry.DispatchResult{row})
}

// WriteBatch inserts multiple results in one request.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := w.resultTable(rows)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.logger().Error("greptime write failed", "table", w.table, "rows", len(rows), "err", err)
		return err
	}
	w.logger().Debug("greptime write", "table", w.table, "rows", len(rows))
	return nil
}

func (w *GreptimeDBWriter) resultTable(rows []telemetry.DispatchResult) (*table.Table, error) {
	// Rows are deduplicated on (worker, frame_id, sent_time); frame_id keeps failures
	// sent in the same millisecond apart.
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, err
	}
	cols := []struct {
		add  func(string, types.ColumnType) error
		name string
		typ  types.ColumnType
	}{
		{tbl.AddTagColumn, "worker", types.STRING},
		{tbl.AddTagColumn, "frame_id", types.INT64},
		{tbl.AddFieldColumn, "end_time", types.TIMESTAMP_MILLISECOND},
		{tbl.AddFieldColumn, "latency_ms", types.FLOAT64},
		{tbl.AddFieldColumn, "calc_time_ms", types.FLOAT64},
		{tbl.AddFieldColumn, "success", types.BOOLEAN},
		{tbl.AddTimestampColumn, "sent_time", types.TIMESTAMP_MILLISECOND},
	}
	for _, c := range cols {
		if err := c.add(c.name, c.typ); err != nil {
			return nil, err
		}
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.ServedBy, int64(r.FrameID), r.EndTime, r.LatencyMs, r.CalcTimeMs, r.Success, r.SentTime); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (w *GreptimeDBWriter) logger() *slog.Logger {
	if w.log == nil {
		return slog.Default()
	}
	return w.log
}
