// # internal/core/config/config.go
package config

import (
	"time"

	"strata/internal/batch/wire"
)

type Config struct {
	Version       int                 `toml:"version"`
	Parser        Parser              `toml:"parser"`
	Batch         Batch               `toml:"batch"`
	Collect       Collect             `toml:"collect"`
	Secrets       Secrets             `toml:"secrets"`
	Spool         Spool               `toml:"spool"`
	API           API                 `toml:"api"`
	Watch         Watch               `toml:"watch"`
	Output        Output              `toml:"output"`
	Observability Observability       `toml:"observability"`
	Languages     map[string]Language `toml:"languages"`
}

type Parser struct {
	MergeStrategy             string `toml:"merge_strategy"`
	EarlyTermination          *bool  `toml:"early_termination_enabled"`
	EarlyTerminationThreshold int    `toml:"early_termination_threshold"`
	CacheMaxSize              int    `toml:"cache_max_size"`
	MaxFileBytes              int    `toml:"max_file_bytes"`
}

type Batch struct {
	MaxWorkers            int `toml:"max_workers"`
	SequentialThreshold   int `toml:"sequential_threshold"`
	PerFileTimeoutSeconds int `toml:"per_file_timeout_seconds"`
}

type Collect struct {
	Roots           []string `toml:"roots"`
	Include         []string `toml:"include"`
	Exclude         Exclude  `toml:"exclude"`
	MaxFileBytes    int      `toml:"max_file_bytes"`
	ReadParallelism int      `toml:"read_parallelism"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Secrets struct {
	Enabled *bool `toml:"enabled"`
}

type Spool struct {
	Enabled     bool          `toml:"enabled"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type API struct {
	Address         string  `toml:"address"`
	RatePerSecond   float64 `toml:"rate_per_second"`
	Burst           int     `toml:"burst"`
	MaxRequestBytes int64   `toml:"max_request_bytes"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Output struct {
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

type Observability struct {
	Metrics      *bool   `toml:"metrics"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

// Language lets a config extend or override the built-in detection tables.
type Language struct {
	Extensions []string `toml:"extensions"`
	Filenames  []string `toml:"filenames"`
}

func (p Parser) EarlyTerminationEnabled() bool {
	if p.EarlyTermination == nil {
		return true
	}
	return *p.EarlyTermination
}

func (s Secrets) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

func (o Observability) MetricsEnabled() bool {
	if o.Metrics == nil {
		return true
	}
	return *o.Metrics
}

// TracingEnabled is driven by the endpoint: no collector address, no spans.
func (o Observability) TracingEnabled() bool {
	return o.OTLPEndpoint != ""
}

func (b Batch) PerFileTimeout() time.Duration {
	return time.Duration(b.PerFileTimeoutSeconds) * time.Second
}

// Snapshot flattens the parse-relevant subset into the record shipped to
// workers inside every WorkItem.
func (c *Config) Snapshot() wire.Snapshot {
	return wire.Snapshot{
		MergeStrategy:    c.Parser.MergeStrategy,
		EarlyTermination: c.Parser.EarlyTerminationEnabled(),
		Threshold:        c.Parser.EarlyTerminationThreshold,
		MaxFileBytes:     c.Parser.MaxFileBytes,
		CacheMaxSize:     c.Parser.CacheMaxSize,
		ScanSecrets:      c.Secrets.IsEnabled(),
	}
}
