// Package config loads Confab's runtime configuration from a YAML file with
// environment overlays. Values follow ${VAR} expansion against the process
// environment; a .env file next to the working directory is loaded first so
// local setups can keep API keys out of the config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers"`
	Store      StoreConfig      `yaml:"store"`
	Queue      QueueConfig      `yaml:"queue"`
	Turn       TurnConfig       `yaml:"turn"`
	Memory     MemoryConfig     `yaml:"memory"`
	Initiative InitiativeConfig `yaml:"initiative"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProvidersConfig carries credentials and endpoints for the model providers.
type ProvidersConfig struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// AnthropicConfig configures the direct Anthropic integration.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// OpenRouterConfig configures the aggregation provider.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StoreConfig selects the persistence backend. An empty path selects the
// in-memory store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig bounds the task queue worker pool.
type QueueConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

// TurnConfig tunes the streaming turn pipeline.
type TurnConfig struct {
	ContentFlushMs   int      `yaml:"content_flush_ms"`
	ReasoningFlushMs int      `yaml:"reasoning_flush_ms"`
	QuietTools       []string `yaml:"quiet_tools"`
	MaxToolRounds    int      `yaml:"max_tool_rounds"`
	HistoryLimit     int      `yaml:"history_limit"`
}

// ContentFlushInterval returns the content channel debounce interval.
func (c TurnConfig) ContentFlushInterval() time.Duration {
	return time.Duration(c.ContentFlushMs) * time.Millisecond
}

// ReasoningFlushInterval returns the reasoning channel debounce interval.
func (c TurnConfig) ReasoningFlushInterval() time.Duration {
	return time.Duration(c.ReasoningFlushMs) * time.Millisecond
}

// MemoryConfig tunes the memory lifecycle sweeps.
type MemoryConfig struct {
	IdleHours          int `yaml:"idle_hours"`
	ChunkTokens        int `yaml:"chunk_tokens"`
	JournalWindowDays  int `yaml:"journal_window_days"`
	CoreTokenBudget    int `yaml:"core_token_budget"`
	RefineIntervalDays int `yaml:"refine_interval_days"`
	OperationCap       int `yaml:"operation_cap"`
}

// IdleThreshold returns how long a chat must be quiet before consolidation.
func (c MemoryConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleHours) * time.Hour
}

// JournalWindow returns the trailing window in which journal entries stay live.
func (c MemoryConfig) JournalWindow() time.Duration {
	return time.Duration(c.JournalWindowDays) * 24 * time.Hour
}

// RefineInterval returns the maximum age of a refinement before a new one is due.
func (c MemoryConfig) RefineInterval() time.Duration {
	return time.Duration(c.RefineIntervalDays) * 24 * time.Hour
}

// InitiativeConfig tunes the initiation decision engine.
type InitiativeConfig struct {
	ActivityWindowDays int    `yaml:"activity_window_days"`
	DefaultCap         int    `yaml:"default_cap"`
	HourStart          int    `yaml:"hour_start"`
	HourEnd            int    `yaml:"hour_end"`
	Timezone           string `yaml:"timezone"`
	JitterMinutes      int    `yaml:"jitter_minutes"`
}

// ActivityWindow returns the trailing window used for eligibility checks.
func (c InitiativeConfig) ActivityWindow() time.Duration {
	return time.Duration(c.ActivityWindowDays) * 24 * time.Hour
}

// MaxJitter returns the per-agent scheduling jitter ceiling.
func (c InitiativeConfig) MaxJitter() time.Duration {
	return time.Duration(c.JitterMinutes) * time.Minute
}

// ScheduleConfig sets the sweep cadences in minutes.
type ScheduleConfig struct {
	ConsolidateEveryMin int `yaml:"consolidate_every_min"`
	ReflectEveryMin     int `yaml:"reflect_every_min"`
	RefineEveryMin      int `yaml:"refine_every_min"`
	InitiateEveryMin    int `yaml:"initiate_every_min"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the config file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result. A missing file is
// not an error: defaults plus environment variables form a complete
// configuration for local use.
func Load(path string) (*Config, error) {
	// Best effort: a .env file is convenience, not a requirement.
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays well-known environment variables over file values.
// Environment wins so deployments can rotate keys without editing files.
func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.Providers.OpenRouter.APIKey = v
	}
	if v := os.Getenv("CONFAB_DB"); v != "" {
		c.Store.Path = v
	}
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.Providers.OpenRouter.BaseURL == "" {
		c.Providers.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Buffer == 0 {
		c.Queue.Buffer = 1024
	}
	if c.Turn.ContentFlushMs == 0 {
		c.Turn.ContentFlushMs = 200
	}
	if c.Turn.ReasoningFlushMs == 0 {
		c.Turn.ReasoningFlushMs = 100
	}
	if c.Turn.MaxToolRounds == 0 {
		c.Turn.MaxToolRounds = 10
	}
	if c.Turn.HistoryLimit == 0 {
		c.Turn.HistoryLimit = 50
	}
	if c.Memory.IdleHours == 0 {
		c.Memory.IdleHours = 6
	}
	if c.Memory.ChunkTokens == 0 {
		c.Memory.ChunkTokens = 100_000
	}
	if c.Memory.JournalWindowDays == 0 {
		c.Memory.JournalWindowDays = 7
	}
	if c.Memory.CoreTokenBudget == 0 {
		c.Memory.CoreTokenBudget = 10_000
	}
	if c.Memory.RefineIntervalDays == 0 {
		c.Memory.RefineIntervalDays = 14
	}
	if c.Memory.OperationCap == 0 {
		c.Memory.OperationCap = 25
	}
	if c.Initiative.ActivityWindowDays == 0 {
		c.Initiative.ActivityWindowDays = 7
	}
	if c.Initiative.DefaultCap == 0 {
		c.Initiative.DefaultCap = 3
	}
	if c.Initiative.HourStart == 0 {
		c.Initiative.HourStart = 8
	}
	if c.Initiative.HourEnd == 0 {
		c.Initiative.HourEnd = 22
	}
	if c.Initiative.Timezone == "" {
		c.Initiative.Timezone = "Local"
	}
	if c.Initiative.JitterMinutes == 0 {
		c.Initiative.JitterMinutes = 15
	}
	if c.Schedule.ConsolidateEveryMin == 0 {
		c.Schedule.ConsolidateEveryMin = 30
	}
	if c.Schedule.ReflectEveryMin == 0 {
		c.Schedule.ReflectEveryMin = 360
	}
	if c.Schedule.RefineEveryMin == 0 {
		c.Schedule.RefineEveryMin = 720
	}
	if c.Schedule.InitiateEveryMin == 0 {
		c.Schedule.InitiateEveryMin = 60
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9187"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate rejects configurations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers: must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Turn.ContentFlushMs < 0 || c.Turn.ReasoningFlushMs < 0 {
		return fmt.Errorf("turn: flush intervals must not be negative")
	}
	if c.Memory.ChunkTokens < 1000 {
		return fmt.Errorf("memory.chunk_tokens: must be at least 1000, got %d", c.Memory.ChunkTokens)
	}
	if c.Initiative.HourStart < 0 || c.Initiative.HourStart > 23 {
		return fmt.Errorf("initiative.hour_start: must be within 0..23, got %d", c.Initiative.HourStart)
	}
	if c.Initiative.HourEnd < 1 || c.Initiative.HourEnd > 24 {
		return fmt.Errorf("initiative.hour_end: must be within 1..24, got %d", c.Initiative.HourEnd)
	}
	if c.Initiative.HourEnd <= c.Initiative.HourStart {
		return fmt.Errorf("initiative: hour_end (%d) must be after hour_start (%d)", c.Initiative.HourEnd, c.Initiative.HourStart)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("initiative.timezone: %w", err)
	}
	return nil
}

// Location resolves the initiation reference timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Initiative.Timezone == "" || c.Initiative.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Initiative.Timezone)
}

// Default returns a fully defaulted configuration without touching the
// filesystem or environment.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
