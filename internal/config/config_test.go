package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
replicas:
  - 10.0.0.1:50051
  - 10.0.0.2:50051
  - 10.0.0.3:50051
lanes: 4
total_requests: 120
duration: 30s
retry:
  max_attempts: 5
  initial_backoff: 50ms
  max_backoff: 2s
  multiplier: 1.5
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.Replicas) != 3 || cfg.Lanes != 4 || cfg.TotalRequests != 120 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Duration != 30*time.Second || cfg.Retry.InitialBackoff != 50*time.Millisecond {
		t.Errorf("durations not decoded: %+v", cfg)
	}
	if cfg.TriggerInterval() != 250*time.Millisecond {
		t.Errorf("trigger interval = %s", cfg.TriggerInterval())
	}
	// untouched fields keep defaults
	if cfg.MetricsFile != "data/spark_metrics.csv" || len(cfg.Retry.RetryableCodes) != 2 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfig_SchemaRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "replicaz: [a:1]\n")
	_, err := Load(path, "")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadConfig_SchemaRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "duration: soon\n")
	if _, err := Load(path, ""); err == nil {
		t.Fatalf("expected schema error for bad duration")
	}
}

func TestLoadConfig_ZeroTotalIsRejected(t *testing.T) {
	path := writeConfig(t, "total_requests: 0\n")
	if _, err := Load(path, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FRACTAL_REPLICAS", "a:1, b:2 ,")
	t.Setenv("GREPTIMEDB_ENDPOINT", "db:4001")
	path := writeConfig(t, "# defaults only\n")
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Replicas, ",") != "a:1,b:2" {
		t.Errorf("replicas = %v", cfg.Replicas)
	}
	if cfg.Greptime.Endpoint != "db:4001" {
		t.Errorf("greptime endpoint = %q", cfg.Greptime.Endpoint)
	}
}

func TestLoadConfig_CustomSchema(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "strict.cue")
	if err := os.WriteFile(schema, []byte("#Config: {lanes: 8}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "lanes: 3\n")
	if _, err := Load(path, schema); err == nil {
		t.Fatalf("expected custom schema to reject lanes=3")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Replicas = nil
	cfg.Lanes = 0
	cfg.Retry.Multiplier = 0.5
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"replica", "lanes", "multiplier"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	t.Setenv("FRACTAL_REPLICAS", "")
	t.Setenv("GREPTIMEDB_ENDPOINT", "")
	cfg, err := Load(filepath.Join("..", "..", "config", "stream.yaml"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Replicas) != 3 || cfg.Lanes != 3 {
		t.Fatalf("unexpected replicas/lanes: %v %d", cfg.Replicas, cfg.Lanes)
	}
	if cfg.TriggerInterval() != time.Second {
		t.Fatalf("trigger interval = %s, want 1s", cfg.TriggerInterval())
	}
	if cfg.Greptime.Endpoint != "" {
		t.Fatalf("greptime sink should be off by default")
	}
}
