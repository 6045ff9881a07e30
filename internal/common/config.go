package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Tasks       TasksConfig     `toml:"tasks"`
	Dataflows   DataflowsConfig `toml:"dataflows"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Auth        AuthConfig      `toml:"auth"`
	Claude      ClaudeConfig    `toml:"claude"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// TasksConfig controls the analysis task manager
type TasksConfig struct {
	Concurrency  int    `toml:"concurrency"`   // Max simultaneously running tasks
	LookbackDays int    `toml:"lookback_days"` // Over-fetch window for market data
	StageTimeout string `toml:"stage_timeout"` // e.g. "2m" - hard timeout per execution stage
}

// DataflowsConfig controls the data source resolution layer
type DataflowsConfig struct {
	ResultLimit    int              `toml:"result_limit"`    // Records kept after trimming (default 3)
	DefaultTimeout string           `toml:"default_timeout"` // Provider timeout when unset per provider
	Providers      []ProviderConfig `toml:"providers"`       // Initial provider configuration, seeded into storage
}

// ProviderConfig seeds one data source configuration at startup.
// Runtime reordering happens through storage, not this file.
type ProviderConfig struct {
	Name      string   `toml:"name"`
	BaseURL   string   `toml:"base_url"`
	Priority  int      `toml:"priority"`
	Enabled   bool     `toml:"enabled"`
	Markets   []string `toml:"markets"`    // Capability tags: domestic-equity, cross-border-equity, us-equity
	RateLimit string   `toml:"rate_limit"` // e.g. "500ms" - min interval between calls
	Timeout   string   `toml:"timeout"`    // e.g. "10s"
}

// SchedulerConfig controls the background job scheduler
type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`
	DefinitionsDir string `toml:"definitions_dir"` // Directory containing job definition files (YAML)
	HistoryLimit   int    `toml:"history_limit"`   // Max history entries kept per job
}

// WebSocketConfig contains configuration for the notification channels
type WebSocketConfig struct {
	HeartbeatInterval string `toml:"heartbeat_interval"` // e.g. "30s"
	SendBuffer        int    `toml:"send_buffer"`        // Per-connection outbound buffer size
	ProgressThrottle  string `toml:"progress_throttle"`  // Min interval between progress pushes per connection
}

// AuthConfig contains token validation configuration
type AuthConfig struct {
	Tokens []TokenConfig `toml:"tokens"` // Static tokens seeded into kv storage at startup
}

type TokenConfig struct {
	Token   string `toml:"token"`
	OwnerID string `toml:"owner_id"`
}

// ClaudeConfig contains the analysis collaborator configuration
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"`
}

// DefaultConfig returns configuration defaults applied before file loading
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/tradingagents",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Tasks: TasksConfig{
			Concurrency:  4,
			LookbackDays: 10,
			StageTimeout: "2m",
		},
		Dataflows: DataflowsConfig{
			ResultLimit:    3,
			DefaultTimeout: "10s",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			HistoryLimit: 100,
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: "30s",
			SendBuffer:        64,
			ProgressThrottle:  "500ms",
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   "120s",
		},
	}
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> file1 -> file2 -> ... -> env overrides.
// Later config files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TA_-prefixed environment variable overrides
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("TA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("TA_STORAGE_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("TA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if concurrency := os.Getenv("TA_TASKS_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Tasks.Concurrency = c
		}
	}
	if lookback := os.Getenv("TA_TASKS_LOOKBACK_DAYS"); lookback != "" {
		if d, err := strconv.Atoi(lookback); err == nil && d >= 1 {
			config.Tasks.LookbackDays = d
		}
	}
	if limit := os.Getenv("TA_DATAFLOWS_RESULT_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			config.Dataflows.ResultLimit = l
		}
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("TA_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // TA_ prefix takes priority
	}
	if model := os.Getenv("TA_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// StageTimeoutDuration parses the per-stage timeout, falling back to 2 minutes
func (c *TasksConfig) StageTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.StageTimeout); err == nil && d > 0 {
		return d
	}
	return 2 * time.Minute
}

// DefaultTimeoutDuration parses the provider default timeout, falling back to 10s
func (c *DataflowsConfig) DefaultTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.DefaultTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// HeartbeatDuration parses the heartbeat interval, falling back to 30s
func (c *WebSocketConfig) HeartbeatDuration() time.Duration {
	if d, err := time.ParseDuration(c.HeartbeatInterval); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// ProgressThrottleDuration parses the progress throttle interval; zero disables throttling
func (c *WebSocketConfig) ProgressThrottleDuration() time.Duration {
	if d, err := time.ParseDuration(c.ProgressThrottle); err == nil && d > 0 {
		return d
	}
	return 0
}
