package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fractalstream/internal/logging"
)

var (
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "fractalstream",
	Short: "Fractal render load driver",
	Long: "fractalstream generates a fractal render workload, streams it to a set of gRPC " +
		"replicas and analyzes how the run behaved under disruption.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		if v := os.Getenv("LOG_LEVEL"); v != "" && !cmd.Flags().Changed("log-level") {
			logLevel = v
		}
		log := logging.New(logLevel)
		slog.SetDefault(log)
		cmd.SetContext(logging.NewContext(cmd.Context(), log))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before running; ignored when missing")
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}
