package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fractalstream/internal/config"
	"fractalstream/internal/logging"
	"fractalstream/internal/stream"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayJSON      bool
	replaySQLite    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a telemetry log file",
	Long:  "replay feeds telemetry rows from a CSV log back into GreptimeDB, SQLite or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replaySpeed < 0 {
			return fmt.Errorf("--speed must not be negative, got %v", replaySpeed)
		}
		cfg := config.Default()
		cfg.ApplyEnv()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		writers, cleanup, err := newWriters(ctx, sinkOptions{
			PrintOnly:  replayPrintOnly,
			JSON:       replayJSON,
			SQLitePath: replaySQLite,
			Greptime:   cfg.Greptime,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := stream.ReplayLogFile(ctx, replayInput, writers, replaySpeed)
		logging.FromContext(ctx).Info("replay finished", "input", replayInput, "rows", n)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry CSV log")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print telemetry as JSON lines")
	replayCmd.Flags().StringVar(&replaySQLite, "sqlite", "", "Also write replayed rows to this SQLite database")
	replayCmd.MarkFlagRequired("input")
}
