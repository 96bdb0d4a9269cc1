// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that cannot start a run.
var ErrInvalid = errors.New("invalid configuration")

// RetryConfig mirrors the retry policy of the balanced client.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	RetryableCodes []string      `yaml:"retryable_codes"`
}

// Window is the region of the complex plane each replica renders.
type Window struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	YMin float64 `yaml:"y_min"`
	YMax float64 `yaml:"y_max"`
}

// GreptimeConfig enables the optional GreptimeDB telemetry sink.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// StreamConfig is the root configuration for a streaming run.
type StreamConfig struct {
	Replicas       []string       `yaml:"replicas"`
	Lanes          int            `yaml:"lanes"`
	TotalRequests  int            `yaml:"total_requests"`
	Duration       time.Duration  `yaml:"duration"`
	AttemptTimeout time.Duration  `yaml:"attempt_timeout"`
	RequestsDir    string         `yaml:"requests_dir"`
	MetricsFile    string         `yaml:"metrics_file"`
	ConditionsFile string         `yaml:"conditions_file"`
	AdminAddr      string         `yaml:"admin_addr"`
	LogLevel       string         `yaml:"log_level"`
	Retry          RetryConfig    `yaml:"retry"`
	Window         Window         `yaml:"window"`
	Greptime       GreptimeConfig `yaml:"greptime"`
}

// Default returns the configuration used when no file is given.
func Default() *StreamConfig {
	return &StreamConfig{
		Replicas:       []string{"127.0.0.1:50051", "127.0.0.1:50052"},
		Lanes:          2,
		TotalRequests:  60,
		Duration:       60 * time.Second,
		AttemptTimeout: 5 * time.Second,
		RequestsDir:    "data/requests",
		MetricsFile:    "data/spark_metrics.csv",
		LogLevel:       "info",
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
			RetryableCodes: []string{"UNAVAILABLE", "DEADLINE_EXCEEDED"},
		},
		Window:   Window{XMin: -2, XMax: 2, YMin: -2, YMax: 2},
		Greptime: GreptimeConfig{Database: "public", Table: "fractal_dispatch"},
	}
}

// Load reads a YAML config on top of Default, validates it against the CUE schema,
// applies environment overrides and checks the result. An empty schemaPath uses the
// embedded schema.
func Load(configPath, cueSchemaPath string) (*StreamConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("loaded configuration", "path", configPath, "config", fmt.Sprintf("%+v", *cfg))
	return cfg, nil
}

// ApplyEnv overrides fields from FRACTAL_REPLICAS and the GREPTIMEDB_* variables.
func (c *StreamConfig) ApplyEnv() {
	if v := os.Getenv("FRACTAL_REPLICAS"); v != "" {
		c.Replicas = SplitList(v)
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Greptime.Database = v
	}
	if v := os.Getenv("GREPTIMEDB_TABLE"); v != "" {
		c.Greptime.Table = v
	}
}

// Validate reports every problem that would prevent a run from starting.
func (c *StreamConfig) Validate() error {
	var result *multierror.Error
	if len(c.Replicas) == 0 {
		result = multierror.Append(result, errors.New("at least one replica is required"))
	}
	for _, r := range c.Replicas {
		if strings.TrimSpace(r) == "" {
			result = multierror.Append(result, errors.New("replica address is empty"))
		}
	}
	if c.Lanes <= 0 {
		result = multierror.Append(result, fmt.Errorf("lanes must be positive, got %d", c.Lanes))
	}
	if c.TotalRequests <= 0 {
		result = multierror.Append(result, fmt.Errorf("total_requests must be positive, got %d", c.TotalRequests))
	}
	if c.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("duration must be positive, got %s", c.Duration))
	}
	if c.AttemptTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("attempt_timeout must not be negative, got %s", c.AttemptTimeout))
	}
	if c.MetricsFile == "" {
		result = multierror.Append(result, errors.New("metrics_file is required"))
	}
	r := c.Retry
	if r.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("retry.max_attempts must be at least 1, got %d", r.MaxAttempts))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < r.InitialBackoff {
		result = multierror.Append(result, fmt.Errorf("retry backoff range [%s, %s] is invalid", r.InitialBackoff, r.MaxBackoff))
	}
	if r.Multiplier < 1 {
		result = multierror.Append(result, fmt.Errorf("retry.multiplier must be >= 1, got %v", r.Multiplier))
	}
	if c.Window.XMin >= c.Window.XMax || c.Window.YMin >= c.Window.YMax {
		result = multierror.Append(result, fmt.Errorf("render window %+v is empty", c.Window))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// TriggerInterval is the scheduler cadence: duration spread over total_requests.
func (c *StreamConfig) TriggerInterval() time.Duration {
	if c.TotalRequests <= 0 {
		return 0
	}
	return c.Duration / time.Duration(c.TotalRequests)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
