package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Keywords    KeywordsConfig  `toml:"keywords"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Cleanup     CleanupConfig   `toml:"cleanup"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval   string `toml:"poll_interval"`     // e.g., "1s" - how often workers poll for jobs
	Concurrency    int    `toml:"concurrency" validate:"gt=0"`
	MaxJobsPerPoll int    `toml:"max_jobs_per_poll" validate:"gt=0"`
	RetryBackoff   string `toml:"retry_backoff"` // Base delay before a failed job is retried
}

// PipelineConfig controls phase auto-advance and job fan-out
type PipelineConfig struct {
	CompletionThreshold float64 `toml:"completion_threshold" validate:"gt=0,lte=100"` // Percent complete before auto-advance
	BatchSize           int     `toml:"batch_size" validate:"gt=0"`                   // Items per validation batch job
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
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// KeywordsConfig contains configuration for keyword set file loading
type KeywordsConfig struct {
	Dir string `toml:"dir"` // Directory containing keyword set files (YAML)
}

// WebSocketConfig contains configuration for the campaign event stream
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Minimum interval between campaign_progress broadcasts per campaign
	ProgressThrottle  string `toml:"progress_throttle"`
	KeepAliveInterval string `toml:"keep_alive_interval"`
}

// CleanupConfig controls the scheduled old-job retention sweep
type CleanupConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"` // Cron schedule format
	RetentionDays int    `toml:"retention_days" validate:"gte=1"`
	BatchSize     int    `toml:"batch_size" validate:"gt=0"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in leadflow.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:   "1s",
			Concurrency:    4,
			MaxJobsPerPoll: 5,
			RetryBackoff:   "30s",
		},
		Pipeline: PipelineConfig{
			CompletionThreshold: 95.0,
			BatchSize:           50,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Keywords: KeywordsConfig{
			Dir: "./keywords",
		},
		WebSocket: WebSocketConfig{
			// Empty AllowedEvents allows all events
			AllowedEvents:     []string{},
			ProgressThrottle:  "1s",
			KeepAliveInterval: "30s",
		},
		Cleanup: CleanupConfig{
			Enabled:       true,
			Schedule:      "0 0 3 * * *", // Daily at 03:00
			RetentionDays: 30,
			BatchSize:     500,
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct constraints plus the
// duration fields that TOML carries as strings.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":           c.Queue.PollInterval,
		"queue.retry_backoff":           c.Queue.RetryBackoff,
		"websocket.progress_throttle":   c.WebSocket.ProgressThrottle,
		"websocket.keep_alive_interval": c.WebSocket.KeepAliveInterval,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", field, err)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LEADFLOW_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("LEADFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LEADFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("LEADFLOW_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("LEADFLOW_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if maxJobs := os.Getenv("LEADFLOW_QUEUE_MAX_JOBS_PER_POLL"); maxJobs != "" {
		if mj, err := strconv.Atoi(maxJobs); err == nil {
			config.Queue.MaxJobsPerPoll = mj
		}
	}
	if retryBackoff := os.Getenv("LEADFLOW_QUEUE_RETRY_BACKOFF"); retryBackoff != "" {
		config.Queue.RetryBackoff = retryBackoff
	}

	// Pipeline configuration
	if threshold := os.Getenv("LEADFLOW_PIPELINE_COMPLETION_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Pipeline.CompletionThreshold = t
		}
	}
	if batchSize := os.Getenv("LEADFLOW_PIPELINE_BATCH_SIZE"); batchSize != "" {
		if bs, err := strconv.Atoi(batchSize); err == nil {
			config.Pipeline.BatchSize = bs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("LEADFLOW_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("LEADFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LEADFLOW_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("LEADFLOW_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Keywords configuration
	if keywordsDir := os.Getenv("LEADFLOW_KEYWORDS_DIR"); keywordsDir != "" {
		config.Keywords.Dir = keywordsDir
	}

	// WebSocket configuration
	if allowedEvents := os.Getenv("LEADFLOW_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		events := []string{}
		for _, e := range strings.Split(allowedEvents, ",") {
			trimmed := strings.TrimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}
	if throttle := os.Getenv("LEADFLOW_WEBSOCKET_PROGRESS_THROTTLE"); throttle != "" {
		if _, err := time.ParseDuration(throttle); err == nil {
			config.WebSocket.ProgressThrottle = throttle
		}
	}
	if keepAlive := os.Getenv("LEADFLOW_WEBSOCKET_KEEP_ALIVE_INTERVAL"); keepAlive != "" {
		if _, err := time.ParseDuration(keepAlive); err == nil {
			config.WebSocket.KeepAliveInterval = keepAlive
		}
	}

	// Cleanup configuration
	if enabled := os.Getenv("LEADFLOW_CLEANUP_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Cleanup.Enabled = e
		}
	}
	if schedule := os.Getenv("LEADFLOW_CLEANUP_SCHEDULE"); schedule != "" {
		config.Cleanup.Schedule = schedule
	}
	if retention := os.Getenv("LEADFLOW_CLEANUP_RETENTION_DAYS"); retention != "" {
		if r, err := strconv.Atoi(retention); err == nil {
			config.Cleanup.RetentionDays = r
		}
	}
	if batchSize := os.Getenv("LEADFLOW_CLEANUP_BATCH_SIZE"); batchSize != "" {
		if bs, err := strconv.Atoi(batchSize); err == nil {
			config.Cleanup.BatchSize = bs
		}
	}
}

// PollIntervalDuration parses the queue poll interval with a safe fallback
func (c *Config) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.Queue.PollInterval); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// RetryBackoffDuration parses the retry backoff with a safe fallback
func (c *Config) RetryBackoffDuration() time.Duration {
	if d, err := time.ParseDuration(c.Queue.RetryBackoff); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// ProgressThrottleDuration parses the progress throttle with a safe fallback
func (c *Config) ProgressThrottleDuration() time.Duration {
	if d, err := time.ParseDuration(c.WebSocket.ProgressThrottle); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// KeepAliveDuration parses the keep-alive interval with a safe fallback
func (c *Config) KeepAliveDuration() time.Duration {
	if d, err := time.ParseDuration(c.WebSocket.KeepAliveInterval); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}
