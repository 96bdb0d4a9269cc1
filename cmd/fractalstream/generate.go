package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fractalstream/internal/logging"
	"fractalstream/internal/workload"
)

var (
	genTotal        int
	genDuration     time.Duration
	genOutput       string
	genDelay        time.Duration
	genKeepExisting bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a render workload to a requests directory",
	Long: "generate walks the Julia parameter trajectory and writes one request file per " +
		"frame, paced by --delay or spread over --duration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if genTotal <= 0 {
			return fmt.Errorf("--total must be positive, got %d", genTotal)
		}
		gen, err := workload.NewGenerator(workload.DefaultTrajectoryConfig(genTotal), generatePacing(genDuration, genDelay))
		if err != nil {
			return err
		}
		out, err := workload.NewDirWriter(genOutput, !genKeepExisting)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := logging.FromContext(ctx).With("output", genOutput)
		log.Info("generating workload", "total", genTotal, "delay", genDelay, "duration", genDuration)
		n, err := gen.Emit(logging.NewContext(ctx, log), out)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if n < genTotal {
			log.Warn("generation interrupted", "written", n)
		}
		return nil
	},
}

// generatePacing spreads the workload over duration when it is set, otherwise it waits
// delay between requests.
func generatePacing(duration, delay time.Duration) workload.Pacing {
	switch {
	case duration > 0:
		return workload.TargetDuration(duration)
	case delay > 0:
		return workload.FixedDelay(delay)
	default:
		return workload.NoPacing()
	}
}

func init() {
	generateCmd.Flags().IntVar(&genTotal, "total", 60, "Number of requests to generate")
	generateCmd.Flags().DurationVar(&genDuration, "duration", 0, "Spread generation over this duration; overrides --delay")
	generateCmd.Flags().StringVar(&genOutput, "output", "data/requests", "Directory receiving request files")
	generateCmd.Flags().DurationVar(&genDelay, "delay", 0, "Fixed delay between requests, used when --duration is 0")
	generateCmd.Flags().BoolVar(&genKeepExisting, "keep-existing", false, "Keep request files already in --output")
}
