// # internal/core/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	normalize(&cfg)
	ApplyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Discover walks the candidate paths in priority order and loads the first
// one that exists. When none exist the built-in defaults are returned with
// an empty path.
func Discover(cwd string) (*Config, string, error) {
	if strings.TrimSpace(cwd) == "" {
		return nil, "", fmt.Errorf("cwd must not be empty")
	}
	candidates := []string{
		filepath.Clean(filepath.Join(cwd, "strata.toml")),
		filepath.Clean(filepath.Join(cwd, "strata.example.toml")),
	}
	for _, candidate := range candidates {
		cfg, err := Load(candidate)
		if err == nil {
			return cfg, candidate, nil
		}
		if os.IsNotExist(err) {
			continue
		}
		return nil, "", err
	}
	return Default(), "", nil
}

// Default returns the configuration an empty file would produce.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	normalize(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Parser.MergeStrategy) == "" {
		cfg.Parser.MergeStrategy = "confidence_weighted"
	}
	if cfg.Parser.EarlyTerminationThreshold <= 0 {
		cfg.Parser.EarlyTerminationThreshold = 5
	}
	if cfg.Parser.CacheMaxSize <= 0 {
		cfg.Parser.CacheMaxSize = 64
	}
	if cfg.Parser.MaxFileBytes <= 0 {
		cfg.Parser.MaxFileBytes = 1 << 20
	}

	if cfg.Batch.MaxWorkers == 0 {
		cfg.Batch.MaxWorkers = runtime.NumCPU()
	}
	if cfg.Batch.SequentialThreshold == 0 {
		cfg.Batch.SequentialThreshold = 50
	}
	if cfg.Batch.PerFileTimeoutSeconds == 0 {
		cfg.Batch.PerFileTimeoutSeconds = 60
	}

	if len(cfg.Collect.Roots) == 0 {
		cfg.Collect.Roots = []string{"."}
	}
	if len(cfg.Collect.Exclude.Dirs) == 0 {
		cfg.Collect.Exclude.Dirs = []string{
			".git", ".hg", ".svn", ".idea", ".vscode",
			"node_modules", "vendor", "__pycache__", ".venv", "venv",
			"dist", "build", "target", "coverage",
		}
	}
	if len(cfg.Collect.Exclude.Files) == 0 {
		cfg.Collect.Exclude.Files = []string{
			"*.min.js", "*.min.css", "*.lock", "*.pyc", "*.tmp", "*~",
		}
	}
	// The collector cap guards memory and sits well above the parser cap,
	// so oversized-but-readable files still reach the cascade's own
	// size short-circuit instead of vanishing from the batch.
	if cfg.Collect.MaxFileBytes <= 0 {
		cfg.Collect.MaxFileBytes = 8 << 20
	}
	if cfg.Collect.ReadParallelism <= 0 {
		cfg.Collect.ReadParallelism = runtime.NumCPU()
	}

	if strings.TrimSpace(cfg.Spool.Path) == "" {
		cfg.Spool.Path = "strata-spool.db"
	}
	if cfg.Spool.BusyTimeout <= 0 {
		cfg.Spool.BusyTimeout = 5 * time.Second
	}

	if strings.TrimSpace(cfg.API.Address) == "" {
		cfg.API.Address = "127.0.0.1:8388"
	}
	if cfg.API.RatePerSecond <= 0 {
		cfg.API.RatePerSecond = 10
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 20
	}
	if cfg.API.MaxRequestBytes <= 0 {
		cfg.API.MaxRequestBytes = 8 << 20
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if strings.TrimSpace(cfg.Output.Format) == "" {
		cfg.Output.Format = "markdown"
	}

	if cfg.Observability.SampleRatio <= 0 {
		cfg.Observability.SampleRatio = 1.0
	}
}

func normalize(cfg *Config) {
	cfg.Parser.MergeStrategy = strings.ToLower(strings.TrimSpace(cfg.Parser.MergeStrategy))
	cfg.Output.Format = strings.ToLower(strings.TrimSpace(cfg.Output.Format))
	cfg.Output.Path = strings.TrimSpace(cfg.Output.Path)
	cfg.API.Address = strings.TrimSpace(cfg.API.Address)
	cfg.Spool.Path = strings.TrimSpace(cfg.Spool.Path)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)

	roots := make([]string, 0, len(cfg.Collect.Roots))
	for _, root := range cfg.Collect.Roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		roots = append(roots, filepath.Clean(root))
	}
	cfg.Collect.Roots = roots
}
