// # internal/core/config/validator.go
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	errs "strata/internal/core/errors"
	"strata/internal/engine/merge"
)

// Validate runs every section check and maps failures to configuration
// errors. It must reject anything the batch layer would reject later, so a
// bad config dies here, before any file is read.
func (c *Config) Validate() error {
	checks := []func(*Config) error{
		validateVersion,
		validateParser,
		validateBatch,
		validateCollect,
		validateAPI,
		validateOutput,
		validateLanguages,
	}
	for _, check := range checks {
		if err := check(c); err != nil {
			var derr *errs.DomainError
			if errors.As(err, &derr) {
				return err
			}
			return errs.Wrap(err, errs.CodeConfig, "invalid configuration")
		}
	}
	return nil
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; only version 1 is supported", cfg.Version)
	}
	return nil
}

func validateParser(cfg *Config) error {
	if _, err := merge.ParseStrategy(cfg.Parser.MergeStrategy); err != nil {
		return err
	}
	if cfg.Parser.EarlyTerminationThreshold < 1 {
		return fmt.Errorf("parser.early_termination_threshold must be >= 1, got %d", cfg.Parser.EarlyTerminationThreshold)
	}
	if cfg.Parser.CacheMaxSize < 1 {
		return fmt.Errorf("parser.cache_max_size must be >= 1, got %d", cfg.Parser.CacheMaxSize)
	}
	return nil
}

func validateBatch(cfg *Config) error {
	if cfg.Batch.MaxWorkers < 1 {
		return fmt.Errorf("batch.max_workers must be >= 1, got %d", cfg.Batch.MaxWorkers)
	}
	if cfg.Batch.SequentialThreshold < 0 {
		return fmt.Errorf("batch.sequential_threshold must not be negative, got %d", cfg.Batch.SequentialThreshold)
	}
	if cfg.Batch.PerFileTimeoutSeconds < 1 {
		return fmt.Errorf("batch.per_file_timeout_seconds must be >= 1, got %d", cfg.Batch.PerFileTimeoutSeconds)
	}
	return nil
}

func validateCollect(cfg *Config) error {
	if len(cfg.Collect.Roots) == 0 {
		return fmt.Errorf("collect.roots must not be empty")
	}
	for _, pattern := range cfg.Collect.Include {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("collect.include pattern %q: %v", pattern, err)
		}
	}
	for _, pattern := range cfg.Collect.Exclude.Dirs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("collect.exclude.dirs pattern %q: %v", pattern, err)
		}
	}
	for _, pattern := range cfg.Collect.Exclude.Files {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("collect.exclude.files pattern %q: %v", pattern, err)
		}
	}
	return nil
}

func validateAPI(cfg *Config) error {
	if strings.TrimSpace(cfg.API.Address) == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if cfg.API.RatePerSecond <= 0 {
		return fmt.Errorf("api.rate_per_second must be positive, got %v", cfg.API.RatePerSecond)
	}
	if cfg.API.Burst < 1 {
		return fmt.Errorf("api.burst must be >= 1, got %d", cfg.API.Burst)
	}
	return nil
}

func validateOutput(cfg *Config) error {
	switch cfg.Output.Format {
	case "markdown", "json", "yaml", "xml", "text":
		return nil
	}
	return fmt.Errorf("output.format must be one of: markdown, json, yaml, xml, text; got %q", cfg.Output.Format)
}

func validateLanguages(cfg *Config) error {
	for language, settings := range cfg.Languages {
		if strings.TrimSpace(language) == "" {
			return fmt.Errorf("languages key must not be empty")
		}
		for _, ext := range settings.Extensions {
			if strings.TrimSpace(ext) == "" {
				return fmt.Errorf("languages.%s.extensions must not include empty values", language)
			}
		}
		for _, name := range settings.Filenames {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("languages.%s.filenames must not include empty values", language)
			}
		}
	}
	return nil
}
