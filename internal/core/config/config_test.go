// # internal/core/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "strata/internal/core/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version = 1

[parser]
merge_strategy = "union"
early_termination_enabled = false
early_termination_threshold = 9
cache_max_size = 16

[batch]
max_workers = 4
sequential_threshold = 10
per_file_timeout_seconds = 30

[collect]
roots = ["./src", "./lib"]
include = ["*.go"]
max_file_bytes = 4096

[collect.exclude]
dirs = ["testdata"]
files = ["*.gen.go"]

[secrets]
enabled = false

[spool]
enabled = true
path = "results.db"
busy_timeout = "2s"

[watch]
debounce = "1s"

[output]
format = "json"

[languages.go]
extensions = [".go"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Parser.MergeStrategy != "union" {
		t.Errorf("merge strategy = %q", cfg.Parser.MergeStrategy)
	}
	if cfg.Parser.EarlyTerminationEnabled() {
		t.Error("early termination should be disabled")
	}
	if cfg.Parser.EarlyTerminationThreshold != 9 {
		t.Errorf("threshold = %d", cfg.Parser.EarlyTerminationThreshold)
	}
	if cfg.Batch.MaxWorkers != 4 || cfg.Batch.PerFileTimeout() != 30*time.Second {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if len(cfg.Collect.Roots) != 2 || cfg.Collect.Roots[0] != "src" {
		t.Errorf("roots = %v", cfg.Collect.Roots)
	}
	if cfg.Secrets.IsEnabled() {
		t.Error("secrets should be disabled")
	}
	if !cfg.Spool.Enabled || cfg.Spool.Path != "results.db" || cfg.Spool.BusyTimeout != 2*time.Second {
		t.Errorf("spool = %+v", cfg.Spool)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Output.Format != "json" {
		t.Errorf("format = %q", cfg.Output.Format)
	}
	if len(cfg.Languages["go"].Extensions) != 1 {
		t.Errorf("languages = %+v", cfg.Languages)
	}
}

func TestEmptyConfigGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("version = %d", cfg.Version)
	}
	if cfg.Parser.MergeStrategy != "confidence_weighted" {
		t.Errorf("merge strategy = %q", cfg.Parser.MergeStrategy)
	}
	if !cfg.Parser.EarlyTerminationEnabled() || cfg.Parser.EarlyTerminationThreshold != 5 {
		t.Errorf("parser = %+v", cfg.Parser)
	}
	if cfg.Parser.CacheMaxSize != 64 {
		t.Errorf("cache max size = %d", cfg.Parser.CacheMaxSize)
	}
	if cfg.Batch.MaxWorkers < 1 {
		t.Errorf("max workers = %d", cfg.Batch.MaxWorkers)
	}
	if cfg.Batch.SequentialThreshold != 50 || cfg.Batch.PerFileTimeoutSeconds != 60 {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if len(cfg.Collect.Roots) != 1 || cfg.Collect.Roots[0] != "." {
		t.Errorf("roots = %v", cfg.Collect.Roots)
	}
	if len(cfg.Collect.Exclude.Dirs) == 0 || len(cfg.Collect.Exclude.Files) == 0 {
		t.Error("default excludes missing")
	}
	if cfg.Collect.MaxFileBytes != 8<<20 {
		t.Errorf("collect max file bytes = %d", cfg.Collect.MaxFileBytes)
	}
	if cfg.Parser.MaxFileBytes != 1<<20 {
		t.Errorf("parser max file bytes = %d", cfg.Parser.MaxFileBytes)
	}
	if !cfg.Secrets.IsEnabled() {
		t.Error("secrets default should be enabled")
	}
	if cfg.Output.Format != "markdown" {
		t.Errorf("format = %q", cfg.Output.Format)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	if !cfg.Observability.MetricsEnabled() || cfg.Observability.TracingEnabled() {
		t.Errorf("observability = %+v", cfg.Observability)
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad version", "version = 3\n"},
		{"bad strategy", "[parser]\nmerge_strategy = \"majority\"\n"},
		{"negative workers", "[batch]\nmax_workers = -2\n"},
		{"negative threshold", "[batch]\nsequential_threshold = -1\n"},
		{"bad output format", "[output]\nformat = \"pdf\"\n"},
		{"bad include glob", "[collect]\ninclude = [\"[\"]\n"},
		{"bad exclude dir glob", "[collect.exclude]\ndirs = [\"[\"]\n"},
		{"empty language ext", "[languages.go]\nextensions = [\" \"]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if !errs.IsCode(err, errs.CodeConfig) {
				t.Fatalf("error = %v, want config error", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STRATA_BATCH_MAX_WORKERS", "7")
	t.Setenv("STRATA_OUTPUT_FORMAT", "text")

	cfg, err := Load(writeConfig(t, "[batch]\nmax_workers = 2\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Batch.MaxWorkers != 7 {
		t.Errorf("max workers = %d, want env override 7", cfg.Batch.MaxWorkers)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("format = %q, want env override text", cfg.Output.Format)
	}
}

func TestSnapshotCarriesParserSurface(t *testing.T) {
	cfg := Default()
	cfg.Parser.MergeStrategy = "fast_fail"
	cfg.Parser.EarlyTerminationThreshold = 7
	cfg.Parser.MaxFileBytes = 2048

	snap := cfg.Snapshot()
	if snap.MergeStrategy != "fast_fail" || snap.Threshold != 7 || snap.MaxFileBytes != 2048 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.EarlyTermination || !snap.ScanSecrets {
		t.Fatalf("snapshot defaults = %+v", snap)
	}
	if !snap.Sealed().Verify() {
		t.Fatal("sealed snapshot must verify")
	}
}

func TestDiscoverPrefersRealConfigThenExample(t *testing.T) {
	dir := t.TempDir()
	example := filepath.Join(dir, "strata.example.toml")
	if err := os.WriteFile(example, []byte("[output]\nformat = \"yaml\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, path, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != example || cfg.Output.Format != "yaml" {
		t.Fatalf("picked %q format %q", path, cfg.Output.Format)
	}

	real := filepath.Join(dir, "strata.toml")
	if err := os.WriteFile(real, []byte("[output]\nformat = \"json\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, path, err = Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != real || cfg.Output.Format != "json" {
		t.Fatalf("picked %q format %q", path, cfg.Output.Format)
	}
}

func TestDiscoverFallsBackToDefaults(t *testing.T) {
	cfg, path, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty for built-in defaults", path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
