package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"fractalstream/internal/analysis"
	"fractalstream/internal/logging"
	"fractalstream/internal/scenario"
	"fractalstream/internal/telemetry"
)

var (
	analyzeInput      string
	analyzeConditions string
	analyzeScenario   string
	analyzeSQLite     bool
	analyzeJSON       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute resilience statistics for a telemetry log",
	Long: "analyze reads a telemetry log (CSV or SQLite) and an optional condition timeline " +
		"and reports failure onset, recovery, MTTR and latency percentiles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		results, err := loadResults(ctx, analyzeInput, analyzeSQLite)
		if err != nil {
			return err
		}

		var conditions []telemetry.ConditionSample
		switch {
		case analyzeConditions != "":
			conditions, err = telemetry.ReadConditionsFile(analyzeConditions)
			if err != nil {
				return err
			}
		case analyzeScenario != "":
			sc, err := scenario.Lookup(analyzeScenario)
			if err != nil {
				return err
			}
			if start, ok := firstSent(results); ok {
				conditions = sc.Conditions(start)
			}
		}

		report := analysis.Analyze(results, conditions)
		logging.FromContext(ctx).Debug("analyzed telemetry", "input", analyzeInput, "requests", report.Requests, "conditions", len(conditions))
		if analyzeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return report.WriteText(cmd.OutOrStdout())
	},
}

// loadResults reads a telemetry CSV, or a SQLite database written by --sqlite.
func loadResults(ctx context.Context, path string, sqlite bool) ([]telemetry.DispatchResult, error) {
	if sqlite {
		return telemetry.LoadSQLite(ctx, path)
	}
	return telemetry.ReadCSVFile(path)
}

// analyzeFiles analyzes the telemetry log at metricsPath with the condition log at
// conditionsPath. A missing condition log means no disruption was recorded yet.
func analyzeFiles(metricsPath, conditionsPath string) (analysis.Report, error) {
	results, err := telemetry.ReadCSVFile(metricsPath)
	if err != nil {
		return analysis.Report{}, err
	}
	var conditions []telemetry.ConditionSample
	if conditionsPath != "" {
		conditions, err = telemetry.ReadConditionsFile(conditionsPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return analysis.Report{}, fmt.Errorf("conditions: %w", err)
		}
	}
	return analysis.Analyze(results, conditions), nil
}

func firstSent(results []telemetry.DispatchResult) (t time.Time, ok bool) {
	for _, r := range results {
		if !ok || r.SentTime.Before(t) {
			t, ok = r.SentTime, true
		}
	}
	return t, ok
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInput, "input", "", "Telemetry log to analyze")
	analyzeCmd.Flags().StringVar(&analyzeConditions, "conditions", "", "Condition timeline CSV (timestamp,condition)")
	analyzeCmd.Flags().StringVar(&analyzeScenario, "scenario", "", "Scenario name or YAML file used when no condition CSV is given")
	analyzeCmd.Flags().BoolVar(&analyzeSQLite, "sqlite", false, "Read --input as a SQLite database")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the report as JSON")
	analyzeCmd.MarkFlagRequired("input")
}
