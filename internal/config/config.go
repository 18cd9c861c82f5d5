// Package config loads Athena's runtime configuration via viper into a
// typed struct populated from a YAML file with environment-variable
// overrides, rather than scattering viper.Get calls through the
// codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageBackend selects which Storage implementation internal/storage/factory
// constructs at boot.
type StorageBackend string

const (
	BackendSQLite    StorageBackend = "sqlite"
	BackendClustered StorageBackend = "clustered"
	BackendMemory    StorageBackend = "memory"
)

// ConsolidationStrategy is the default strategy used for scheduled runs
// absent an explicit per-call override.
type ConsolidationStrategy string

const (
	StrategySpeed    ConsolidationStrategy = "SPEED"
	StrategyBalanced ConsolidationStrategy = "BALANCED"
	StrategyQuality  ConsolidationStrategy = "QUALITY"
)

// Config is the full set of tunables.
type Config struct {
	StorageBackend StorageBackend `mapstructure:"storage_backend"`

	// Embedding / retrieval.
	EmbeddingDim                  int     `mapstructure:"embedding_dim"`
	WorkingMemoryCapacity         int     `mapstructure:"working_memory_capacity"`
	RecencyHalfLifeMs             int64   `mapstructure:"recency_half_life_ms"`
	QueryExpansionEnabled         bool    `mapstructure:"query_expansion_enabled"`
	QueryExpansionVariants        int     `mapstructure:"query_expansion_variants"`
	CascadingConfidenceThreshold  float64 `mapstructure:"cascading_confidence_threshold"`

	// Confidence formula weights, exposed so operators can
	// retune without a code change.
	WeightSemanticRelevance float64 `mapstructure:"weight_semantic_relevance"`
	WeightSourceQuality     float64 `mapstructure:"weight_source_quality"`
	WeightRecency           float64 `mapstructure:"weight_recency"`
	WeightConsistency       float64 `mapstructure:"weight_consistency"`
	WeightCompleteness      float64 `mapstructure:"weight_completeness"`

	// Consolidation.
	ConsolidationStrategyDefault ConsolidationStrategy `mapstructure:"consolidation_strategy_default"`

	// Verification gateway thresholds.
	VerificationGroundingThreshold  float64 `mapstructure:"verification_grounding_threshold"`
	VerificationConfidenceThreshold float64 `mapstructure:"verification_confidence_threshold"`
	VerificationStrictMode         bool    `mapstructure:"verification_strict_mode"`

	// Tool dispatch.
	ToolTimeoutMsDefault   int `mapstructure:"tool_timeout_ms_default"`
	PendingTaskWatermark   int `mapstructure:"pending_task_watermark"`

	// Scheduler: worker pool sizing and background job cadence.
	SchedulerWorkers                   int   `mapstructure:"scheduler_workers"`
	WorkingMemoryDecayIntervalMs       int64 `mapstructure:"working_memory_decay_interval_ms"`
	ScheduledConsolidationIntervalMs   int64 `mapstructure:"scheduled_consolidation_interval_ms"`
	SessionReapIntervalMs              int64 `mapstructure:"session_reap_interval_ms"`
	SessionMaxIdleMs                   int64 `mapstructure:"session_max_idle_ms"`

	// Collaborators.
	LLMEnabled       bool   `mapstructure:"llm_enabled"`
	LLMModel         string `mapstructure:"llm_model"`
	PIIPolicyProfile string `mapstructure:"pii_policy_profile"`

	// Storage connection settings.
	SQLitePath string `mapstructure:"sqlite_path"`

	ClusteredHost     string `mapstructure:"clustered_host"`
	ClusteredPort     int    `mapstructure:"clustered_port"`
	ClusteredDatabase string `mapstructure:"clustered_database"`
	ClusteredUser     string `mapstructure:"clustered_user"`
	ClusteredPassword string `mapstructure:"clustered_password"`
	ClusteredPoolMin  int    `mapstructure:"clustered_pool_min"`
	ClusteredPoolMax  int    `mapstructure:"clustered_pool_max"`
}

// RecencyHalfLife returns the configured half-life as a time.Duration.
func (c *Config) RecencyHalfLife() time.Duration {
	return time.Duration(c.RecencyHalfLifeMs) * time.Millisecond
}

// WorkingMemoryDecayInterval returns how often the scheduler should run
// a working-memory decay tick.
func (c *Config) WorkingMemoryDecayInterval() time.Duration {
	return time.Duration(c.WorkingMemoryDecayIntervalMs) * time.Millisecond
}

// ScheduledConsolidationInterval returns how often the scheduler should
// trigger a SCHEDULED consolidation run.
func (c *Config) ScheduledConsolidationInterval() time.Duration {
	return time.Duration(c.ScheduledConsolidationIntervalMs) * time.Millisecond
}

// SessionReapInterval returns how often the scheduler should sweep for
// stale sessions.
func (c *Config) SessionReapInterval() time.Duration {
	return time.Duration(c.SessionReapIntervalMs) * time.Millisecond
}

// SessionMaxIdle returns the idle duration after which an active
// session is eligible for reaping.
func (c *Config) SessionMaxIdle() time.Duration {
	return time.Duration(c.SessionMaxIdleMs) * time.Millisecond
}

// ToolTimeout returns the default per-tool-call timeout as a time.Duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMsDefault) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_backend", BackendSQLite)
	v.SetDefault("embedding_dim", 768)
	v.SetDefault("working_memory_capacity", 7)
	v.SetDefault("recency_half_life_ms", int64(24*time.Hour/time.Millisecond))
	v.SetDefault("query_expansion_enabled", false)
	v.SetDefault("query_expansion_variants", 4)
	v.SetDefault("cascading_confidence_threshold", 0.6)

	v.SetDefault("weight_semantic_relevance", 0.35)
	v.SetDefault("weight_source_quality", 0.25)
	v.SetDefault("weight_recency", 0.15)
	v.SetDefault("weight_consistency", 0.15)
	v.SetDefault("weight_completeness", 0.10)

	v.SetDefault("consolidation_strategy_default", StrategyBalanced)

	v.SetDefault("verification_grounding_threshold", 0.7)
	v.SetDefault("verification_confidence_threshold", 0.6)
	v.SetDefault("verification_strict_mode", false)

	v.SetDefault("tool_timeout_ms_default", 5_000)
	v.SetDefault("pending_task_watermark", 200)

	v.SetDefault("scheduler_workers", 4)
	v.SetDefault("working_memory_decay_interval_ms", int64(5*time.Minute/time.Millisecond))
	v.SetDefault("scheduled_consolidation_interval_ms", int64(30*time.Minute/time.Millisecond))
	v.SetDefault("session_reap_interval_ms", int64(10*time.Minute/time.Millisecond))
	v.SetDefault("session_max_idle_ms", int64(2*time.Hour/time.Millisecond))

	v.SetDefault("llm_enabled", true)
	v.SetDefault("llm_model", "claude-haiku-4-5")
	v.SetDefault("pii_policy_profile", "default")

	v.SetDefault("sqlite_path", "athena.db")

	v.SetDefault("clustered_host", "127.0.0.1")
	v.SetDefault("clustered_port", 3306)
	v.SetDefault("clustered_database", "athena")
	v.SetDefault("clustered_user", "root")
	v.SetDefault("clustered_password", "")
	v.SetDefault("clustered_pool_min", 2)
	v.SetDefault("clustered_pool_max", 10)
}

// Load reads configuration from athenaDir/athena.yaml, applying
// ATHENA_-prefixed environment variable overrides on top. Returns a
// Config populated with defaults even if the file does not exist,
// matching LoadLocalConfig's "never nil" contract.
func Load(athenaDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATHENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := filepath.Join(athenaDir, "athena.yaml")
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the system assumes hold, e.g.
// the confidence weights summing to 1.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.WorkingMemoryCapacity <= 0 {
		return fmt.Errorf("working_memory_capacity must be positive, got %d", c.WorkingMemoryCapacity)
	}
	sum := c.WeightSemanticRelevance + c.WeightSourceQuality + c.WeightRecency + c.WeightConsistency + c.WeightCompleteness
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("confidence weights must sum to ~1.0, got %.4f", sum)
	}
	switch c.StorageBackend {
	case BackendSQLite, BackendClustered, BackendMemory:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}
