package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"fractalstream/internal/admin"
	"fractalstream/internal/analysis"
	"fractalstream/internal/config"
	"fractalstream/internal/logging"
	"fractalstream/internal/rpc"
	"fractalstream/internal/scenario"
	"fractalstream/internal/stream"
	"fractalstream/internal/telemetry"
	"fractalstream/internal/workload"
)

var (
	streamConfigPath     string
	streamSchemaPath     string
	streamTotal          int
	streamDuration       time.Duration
	streamRequestsDir    string
	streamMetricsFile    string
	streamOverwriteLog   bool
	streamLanes          int
	streamReplicas       string
	streamAttemptTimeout time.Duration
	streamPrintOnly      bool
	streamJSON           bool
	streamSQLite         string
	streamTUI            bool
	streamAdminAddr      string
	streamExitWhenDone   bool
	streamScenario       string
	streamConditionsFile string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream generated requests to the render replicas",
	Long: "stream polls the requests directory at a fixed cadence, dispatches each batch " +
		"over the replica set and records one telemetry row per request.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadStreamConfig(cmd)
		if err != nil {
			return err
		}
		policy, err := retryPolicy(cfg.Retry)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runID := os.Getenv("RUN_ID")
		if runID == "" {
			runID = uuid.NewString()
		}
		log := logging.FromContext(ctx).With("run_id", runID)
		ctx = logging.NewContext(ctx, log)

		reg := prometheus.NewRegistry()
		metrics := stream.NewMetricsWriter(reg)

		writers, cleanup, err := newWriters(ctx, sinkOptions{
			PrintOnly:  streamPrintOnly,
			JSON:       streamJSON,
			TUI:        streamTUI,
			LogPath:    cfg.MetricsFile,
			Overwrite:  streamOverwriteLog,
			SQLitePath: streamSQLite,
			Greptime:   cfg.Greptime,
			Metrics:    metrics,
			RunID:      runID,
			Replicas:   cfg.Replicas,
			Total:      cfg.TotalRequests,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		client, err := rpc.NewBalancedClient(rpc.Targets(cfg.Replicas), policy,
			rpc.WithAttemptTimeout(cfg.AttemptTimeout),
			rpc.WithWindow(rpc.Window{XMin: cfg.Window.XMin, XMax: cfg.Window.XMax, YMin: cfg.Window.YMin, YMax: cfg.Window.YMax}),
			rpc.WithAttemptObserver(metrics.ObserveAttempt),
		)
		if err != nil {
			return err
		}
		defer client.Close()

		dispatcher, err := stream.NewDispatcher(client, writers, cfg.Lanes)
		if err != nil {
			return err
		}
		schedCfg := stream.SchedulerConfig{
			TotalRequests:    cfg.TotalRequests,
			Duration:         cfg.Duration,
			StopWhenComplete: streamExitWhenDone,
		}
		if writers.TUI != nil {
			schedCfg.OnStateChange = func(s stream.State) { writers.TUI.SetState(s.String()) }
		}
		sched, err := stream.NewScheduler(schedCfg, workload.NewDirSource(cfg.RequestsDir), dispatcher)
		if err != nil {
			return err
		}

		start := time.Now()
		condPath := cfg.ConditionsFile
		if streamScenario != "" {
			sc, err := scenario.Lookup(streamScenario)
			if err != nil {
				return err
			}
			if condPath == "" {
				condPath = conditionsPathFor(cfg.MetricsFile)
			}
			cw, err := telemetry.OpenConditionLog(condPath, streamOverwriteLog)
			if err != nil {
				return err
			}
			go func() {
				defer cw.Close()
				log.Info("playing scenario", "scenario", sc.Name, "phases", len(sc.Phases), "conditions_file", condPath)
				if err := sc.Play(ctx, start, cw.Write); err != nil && ctx.Err() == nil {
					log.Error("scenario playback failed", "err", err)
				}
			}()
		}

		if cfg.AdminAddr != "" {
			report := func(context.Context) (analysis.Report, error) {
				return analyzeFiles(cfg.MetricsFile, condPath)
			}
			srv := admin.NewServer(runID, sched, report, reg)
			go func() {
				if err := srv.Start(ctx, cfg.AdminAddr); err != nil {
					log.Error("admin server failed", "err", err)
				}
			}()
		}

		log.Info("streaming",
			"replicas", strings.Join(cfg.Replicas, ","),
			"total_requests", cfg.TotalRequests,
			"duration", cfg.Duration,
			"trigger_interval", cfg.TriggerInterval(),
			"metrics_file", cfg.MetricsFile,
		)
		if err := sched.Run(ctx); err != nil {
			return err
		}
		st := sched.Stats()
		log.Info("stream finished", "batches", st.Batches, "dispatched", st.Dispatched, "failed", st.Failed, "secondary_write_failures", writers.SecondaryFailures(), "elapsed", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// loadStreamConfig reads --config (or the defaults), then applies flag overrides.
func loadStreamConfig(cmd *cobra.Command) (*config.StreamConfig, error) {
	var cfg *config.StreamConfig
	if streamConfigPath != "" {
		c, err := config.Load(streamConfigPath, streamSchemaPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	flags := cmd.Flags()
	if flags.Changed("total") {
		cfg.TotalRequests = streamTotal
	}
	if flags.Changed("duration") {
		cfg.Duration = streamDuration
	}
	if flags.Changed("requests") {
		cfg.RequestsDir = streamRequestsDir
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = streamMetricsFile
	}
	if flags.Changed("lanes") {
		cfg.Lanes = streamLanes
	}
	if flags.Changed("replicas") {
		cfg.Replicas = config.SplitList(streamReplicas)
	}
	if flags.Changed("attempt-timeout") {
		cfg.AttemptTimeout = streamAttemptTimeout
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = streamAdminAddr
	}
	if flags.Changed("conditions-file") {
		cfg.ConditionsFile = streamConditionsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// retryPolicy converts the configured retry section into a client policy.
func retryPolicy(rc config.RetryConfig) (rpc.RetryPolicy, error) {
	codes, err := rpc.ParseCodes(rc.RetryableCodes)
	if err != nil {
		return rpc.RetryPolicy{}, err
	}
	p := rpc.RetryPolicy{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		Multiplier:     rc.Multiplier,
		RetryableCodes: codes,
	}
	return p, p.Validate()
}

// conditionsPathFor places the scenario condition log next to the telemetry log.
func conditionsPathFor(metricsFile string) string {
	ext := filepath.Ext(metricsFile)
	return strings.TrimSuffix(metricsFile, ext) + "_conditions.csv"
}

func init() {
	f := streamCmd.Flags()
	f.StringVar(&streamConfigPath, "config", "", "Path to run configuration YAML (defaults are used when empty)")
	f.StringVar(&streamSchemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	f.IntVar(&streamTotal, "total", 0, "Number of requests expected in the run")
	f.DurationVar(&streamDuration, "duration", 0, "Intended run duration; the trigger interval is duration/total")
	f.StringVar(&streamRequestsDir, "requests", "", "Directory polled for request files")
	f.StringVar(&streamMetricsFile, "metrics-file", "", "Telemetry CSV log")
	f.BoolVar(&streamOverwriteLog, "overwrite-log", false, "Truncate the telemetry log instead of appending")
	f.IntVar(&streamLanes, "lanes", 0, "Number of parallel dispatch lanes")
	f.StringVar(&streamReplicas, "replicas", "", "Comma separated replica addresses (host:port)")
	f.DurationVar(&streamAttemptTimeout, "attempt-timeout", 0, "Deadline for each remote attempt")
	f.BoolVar(&streamPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	f.BoolVar(&streamJSON, "json", false, "Print telemetry as JSON lines")
	f.StringVar(&streamSQLite, "sqlite", "", "Also record telemetry in this SQLite database")
	f.BoolVar(&streamTUI, "tui", false, "Show a live dashboard when STDOUT is a terminal")
	f.StringVar(&streamAdminAddr, "admin-addr", "", "Serve /status, /report and /metrics on this address")
	f.BoolVar(&streamExitWhenDone, "exit-when-done", false, "Stop once every expected request has been recorded")
	f.StringVar(&streamScenario, "scenario", "", "Built-in scenario name or YAML file recording disruption conditions")
	f.StringVar(&streamConditionsFile, "conditions-file", "", "Condition log written while a scenario plays")
}
