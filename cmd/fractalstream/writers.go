package main

import (
	"context"
	"os"

	"golang.org/x/term"

	"fractalstream/internal/config"
	"fractalstream/internal/logging"
	"fractalstream/internal/stream"
)

// stdoutIsTerminal reports whether interactive output (colors, TUI) is possible.
var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// sinkOptions selects the telemetry writers for a run or replay.
type sinkOptions struct {
	PrintOnly  bool
	JSON       bool
	TUI        bool
	LogPath    string
	Overwrite  bool
	SQLitePath string
	Greptime   config.GreptimeConfig
	Metrics    *stream.MetricsWriter

	RunID    string
	Replicas []string
	Total    int
}

// sinks is the writer set of a run. Base is the console, TUI or GreptimeDB writer.
// When a CSV log is configured it is the durable writer: it is written first and only
// its failures stop a run.
type sinks struct {
	*stream.MultiWriter
	Base stream.TelemetryWriter
	Log  *stream.CSVWriter
	TUI  *stream.TUIWriter
}

// newWriters sets up telemetry writers based on flags and env vars.
// It returns the writers and a cleanup function to close any resources.
func newWriters(ctx context.Context, opts sinkOptions) (*sinks, func(), error) {
	base, err := baseWriter(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	s := &sinks{MultiWriter: stream.NewMultiWriter(base), Base: base}
	if tw, ok := base.(*stream.TUIWriter); ok {
		s.TUI = tw
	}
	fail := func(err error) (*sinks, func(), error) {
		_ = s.Close()
		return nil, nil, err
	}

	if opts.LogPath != "" {
		lw, err := stream.OpenCSVLog(opts.LogPath, opts.Overwrite)
		if err != nil {
			return fail(err)
		}
		s.Log = lw
		s.SetDurable(lw)
	}
	if opts.SQLitePath != "" {
		sw, err := stream.NewSQLiteWriter(ctx, opts.SQLitePath)
		if err != nil {
			return fail(err)
		}
		s.Add(sw)
	}
	if opts.Metrics != nil {
		s.Add(opts.Metrics)
	}

	log := logging.FromContext(ctx)
	s.SetLogger(log)
	cleanup := func() {
		if err := s.Close(); err != nil {
			log.Error("closing telemetry writers", "err", err)
		}
	}
	return s, cleanup, nil
}

// baseWriter chooses the primary writer: GreptimeDB when an endpoint is configured
// and printOnly is unset, otherwise a console, JSON or TUI writer on STDOUT.
func baseWriter(ctx context.Context, opts sinkOptions) (stream.TelemetryWriter, error) {
	if !opts.PrintOnly && opts.Greptime.Endpoint != "" {
		log := logging.FromContext(ctx).With("endpoint", opts.Greptime.Endpoint)
		log.Info("writing telemetry to GreptimeDB", "database", opts.Greptime.Database, "table", opts.Greptime.Table)
		return stream.NewGreptimeDBWriter(opts.Greptime.Endpoint, opts.Greptime.Database, opts.Greptime.Table, log)
	}
	switch {
	case opts.JSON:
		return stream.NewJSONStdoutWriter(), nil
	case opts.TUI && stdoutIsTerminal():
		return stream.NewTUIWriter(opts.RunID, opts.Replicas, opts.Total), nil
	default:
		return stream.NewConsoleWriter(stdoutIsTerminal()), nil
	}
}
