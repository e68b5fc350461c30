// # internal/core/config/env.go
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Pattern: STRATA_[SECTION]_[KEY]
// (e.g., STRATA_BATCH_MAX_WORKERS).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.Parser.MergeStrategy, "STRATA_PARSER_MERGE_STRATEGY")
	setEnvInt(&cfg.Parser.EarlyTerminationThreshold, "STRATA_PARSER_EARLY_TERMINATION_THRESHOLD")
	setEnvInt(&cfg.Parser.CacheMaxSize, "STRATA_PARSER_CACHE_MAX_SIZE")

	setEnvInt(&cfg.Batch.MaxWorkers, "STRATA_BATCH_MAX_WORKERS")
	setEnvInt(&cfg.Batch.SequentialThreshold, "STRATA_BATCH_SEQUENTIAL_THRESHOLD")
	setEnvInt(&cfg.Batch.PerFileTimeoutSeconds, "STRATA_BATCH_PER_FILE_TIMEOUT_SECONDS")

	setEnvInt(&cfg.Collect.MaxFileBytes, "STRATA_COLLECT_MAX_FILE_BYTES")
	setEnvInt(&cfg.Collect.ReadParallelism, "STRATA_COLLECT_READ_PARALLELISM")

	setEnvBool(&cfg.Spool.Enabled, "STRATA_SPOOL_ENABLED")
	setEnvString(&cfg.Spool.Path, "STRATA_SPOOL_PATH")
	setEnvDuration(&cfg.Spool.BusyTimeout, "STRATA_SPOOL_BUSY_TIMEOUT")

	setEnvString(&cfg.API.Address, "STRATA_API_ADDRESS")
	setEnvFloat64(&cfg.API.RatePerSecond, "STRATA_API_RATE_PER_SECOND")
	setEnvInt(&cfg.API.Burst, "STRATA_API_BURST")

	setEnvDuration(&cfg.Watch.Debounce, "STRATA_WATCH_DEBOUNCE")

	setEnvString(&cfg.Output.Format, "STRATA_OUTPUT_FORMAT")
	setEnvString(&cfg.Output.Path, "STRATA_OUTPUT_PATH")

	setEnvString(&cfg.Observability.OTLPEndpoint, "STRATA_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvFloat64(&cfg.Observability.SampleRatio, "STRATA_OBSERVABILITY_SAMPLE_RATIO")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key)
			*target = d
		}
	}
}
