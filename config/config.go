// Package config provides unified configuration for the QueryFlow
// pipeline. Precedence: defaults, then YAML file, then environment
// variables with the QUERYFLOW_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a QueryFlow engine.
type Config struct {
	Cache       CacheConfig       `yaml:"cache"`
	Decomposer  DecomposerConfig  `yaml:"decomposer"`
	Planner     PlannerConfig     `yaml:"planner"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Reasoner    ReasonerConfig    `yaml:"reasoner"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Log         LogConfig         `yaml:"log"`
}

// CacheConfig configures the shared result cache.
type CacheConfig struct {
	// Enabled toggles the cache; when false every operation is a
	// passthrough.
	Enabled bool `yaml:"enabled"`
	// DefaultTTL applies when a Set call passes no TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// MaxEntries bounds the entry count; exceeding it evicts the
	// least recently accessed entry.
	MaxEntries int `yaml:"max_entries"`
	// MaxEntryBytes bounds the estimated serialized size of one value.
	MaxEntryBytes int `yaml:"max_entry_bytes"`
}

// DecomposerConfig configures query decomposition.
type DecomposerConfig struct {
	// MaxQueryLength rejects queries longer than this many characters.
	MaxQueryLength int `yaml:"max_query_length"`
}

// PlannerConfig configures the retrieval planner's cost model.
type PlannerConfig struct {
	SimpleQueryCost    float64 `yaml:"simple_query_cost"`
	ComplexQueryCost   float64 `yaml:"complex_query_cost"`
	MultiStepQueryCost float64 `yaml:"multi_step_query_cost"`
	// DependencyMultiplier scales the cost of any sub-query that has
	// at least one dependency. Must be > 1.
	DependencyMultiplier float64 `yaml:"dependency_multiplier"`
}

// OptimizerConfig configures parallel execution and early termination.
type OptimizerConfig struct {
	// MaxWorkers caps the goroutine pool used for independent queries.
	MaxWorkers int `yaml:"max_workers"`
	// SufficientResults is the pooled result count needed before early
	// termination is considered.
	SufficientResults int `yaml:"sufficient_results"`
	// ConfidenceThreshold is the minimum mean confidence for early
	// termination.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// ReasonerConfig configures multi-step reasoning.
type ReasonerConfig struct {
	// MaxSteps is a hard ceiling on total reasoning steps.
	MaxSteps int `yaml:"max_steps"`
	// StepTimeout bounds each sequential retrieval invocation.
	StepTimeout time.Duration `yaml:"step_timeout"`
	// MaxContextChars caps the accumulated context buffer.
	MaxContextChars int `yaml:"max_context_chars"`
	// EnableEarlyTermination stops scheduling once results are
	// judged sufficient.
	EnableEarlyTermination bool `yaml:"enable_early_termination"`
}

// SynthesizerConfig configures answer synthesis and conflict handling.
type SynthesizerConfig struct {
	// LowConfidenceThreshold adds a caveat to answers below it.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	// MaxConflicts caps the number of reported conflicts.
	MaxConflicts int `yaml:"max_conflicts"`
	// MaxAnswerLength truncates rendered answers.
	MaxAnswerLength int `yaml:"max_answer_length"`
	// MaxAuditEntries bounds the conflict resolution audit trail.
	MaxAuditEntries int `yaml:"max_audit_entries"`
}

// LogConfig configures logging for the CLI entry point.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Enabled:       true,
			DefaultTTL:    time.Hour,
			MaxEntries:    1000,
			MaxEntryBytes: 10 * 1024 * 1024,
		},
		Decomposer: DecomposerConfig{
			MaxQueryLength: 5000,
		},
		Planner: PlannerConfig{
			SimpleQueryCost:      1.0,
			ComplexQueryCost:     2.0,
			MultiStepQueryCost:   3.0,
			DependencyMultiplier: 1.5,
		},
		Optimizer: OptimizerConfig{
			MaxWorkers:          4,
			SufficientResults:   5,
			ConfidenceThreshold: 0.7,
		},
		Reasoner: ReasonerConfig{
			MaxSteps:               10,
			StepTimeout:            5 * time.Second,
			MaxContextChars:        5000,
			EnableEarlyTermination: true,
		},
		Synthesizer: SynthesizerConfig{
			LowConfidenceThreshold: 0.6,
			MaxConflicts:           10,
			MaxAnswerLength:        1000,
			MaxAuditEntries:        100,
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load reads configuration with the precedence defaults -> YAML file ->
// environment. An empty path skips file loading.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Decomposer.MaxQueryLength <= 0 {
		return fmt.Errorf("decomposer.max_query_length must be positive, got %d", c.Decomposer.MaxQueryLength)
	}
	if c.Planner.DependencyMultiplier <= 1.0 {
		return fmt.Errorf("planner.dependency_multiplier must be > 1, got %g", c.Planner.DependencyMultiplier)
	}
	if c.Optimizer.MaxWorkers <= 0 {
		return fmt.Errorf("optimizer.max_workers must be positive, got %d", c.Optimizer.MaxWorkers)
	}
	if c.Reasoner.MaxSteps <= 0 {
		return fmt.Errorf("reasoner.max_steps must be positive, got %d", c.Reasoner.MaxSteps)
	}
	return nil
}

// applyEnv overrides selected knobs from QUERYFLOW_* variables.
func (c *Config) applyEnv() {
	if v, ok := lookupBool("QUERYFLOW_CACHE_ENABLED"); ok {
		c.Cache.Enabled = v
	}
	if v, ok := lookupDuration("QUERYFLOW_CACHE_TTL"); ok {
		c.Cache.DefaultTTL = v
	}
	if v, ok := lookupInt("QUERYFLOW_CACHE_MAX_ENTRIES"); ok {
		c.Cache.MaxEntries = v
	}
	if v, ok := lookupInt("QUERYFLOW_MAX_WORKERS"); ok {
		c.Optimizer.MaxWorkers = v
	}
	if v, ok := lookupInt("QUERYFLOW_SUFFICIENT_RESULTS"); ok {
		c.Optimizer.SufficientResults = v
	}
	if v, ok := lookupFloat("QUERYFLOW_CONFIDENCE_THRESHOLD"); ok {
		c.Optimizer.ConfidenceThreshold = v
	}
	if v, ok := lookupInt("QUERYFLOW_MAX_STEPS"); ok {
		c.Reasoner.MaxSteps = v
	}
	if v, ok := lookupDuration("QUERYFLOW_STEP_TIMEOUT"); ok {
		c.Reasoner.StepTimeout = v
	}
	if v, ok := lookupBool("QUERYFLOW_EARLY_TERMINATION"); ok {
		c.Reasoner.EnableEarlyTermination = v
	}
	if v := os.Getenv("QUERYFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
