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
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Retention   RetentionConfig `toml:"retention"`
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

// PipelineConfig configures the remote document-processing pipeline client
// and the per-job orchestration loop.
type PipelineConfig struct {
	BaseURL             string        `toml:"base_url"`              // Remote pipeline endpoint
	AuthKey             string        `toml:"auth_key"`              // Function/API key sent with requests
	RequestTimeout      time.Duration `toml:"request_timeout"`       // HTTP request timeout
	RateLimit           int           `toml:"rate_limit"`            // Max outbound requests per second
	PollInterval        time.Duration `toml:"poll_interval"`         // Fixed wait between consecutive status polls
	MaxWait             time.Duration `toml:"max_wait"`              // Hard deadline for a job to reach a terminal state
	UseRemoteProcessing bool          `toml:"use_remote_processing"` // When false, jobs complete immediately after upload
	SimulateWhenAbsent  bool          `toml:"simulate_when_absent"`  // Degraded mode when the remote pipeline is missing
	SimulatedDelay      time.Duration `toml:"simulated_delay"`       // Delay before a simulated job reports completion
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for the progress push channel
type WebSocketConfig struct {
	SendBuffer int `toml:"send_buffer"` // Per-subscriber event buffer; oldest events drop when full
}

// RetentionConfig controls the periodic sweep of stored terminal results
type RetentionConfig struct {
	Schedule string        `toml:"schedule"` // Cron schedule for the sweep
	TTL      time.Duration `toml:"ttl"`      // Terminal results older than this are deleted
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Pipeline: PipelineConfig{
			BaseURL:             "",
			AuthKey:             "",
			RequestTimeout:      30 * time.Second,
			RateLimit:           10,
			PollInterval:        5 * time.Second,
			MaxWait:             10 * time.Minute,
			UseRemoteProcessing: false, // Must be explicitly enabled; bypass completes jobs at upload
			SimulateWhenAbsent:  true,  // Preserve degraded-mode fallback, but configurable
			SimulatedDelay:      5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			SendBuffer: 16,
		},
		Retention: RetentionConfig{
			Schedule: "0 * * * *", // Hourly
			TTL:      24 * time.Hour,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files, later files
// overriding earlier ones. Priority: CLI flags > env vars > last file >
// ... > first file > defaults.
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

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOCPROC_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DOCPROC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DOCPROC_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("DOCPROC_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Pipeline configuration
	if baseURL := os.Getenv("DOCPROC_PIPELINE_BASE_URL"); baseURL != "" {
		config.Pipeline.BaseURL = baseURL
	}
	if authKey := os.Getenv("DOCPROC_PIPELINE_AUTH_KEY"); authKey != "" {
		config.Pipeline.AuthKey = authKey
	}
	if pollInterval := os.Getenv("DOCPROC_PIPELINE_POLL_INTERVAL"); pollInterval != "" {
		if d, err := time.ParseDuration(pollInterval); err == nil {
			config.Pipeline.PollInterval = d
		}
	}
	if maxWait := os.Getenv("DOCPROC_PIPELINE_MAX_WAIT"); maxWait != "" {
		if d, err := time.ParseDuration(maxWait); err == nil {
			config.Pipeline.MaxWait = d
		}
	}
	if requestTimeout := os.Getenv("DOCPROC_PIPELINE_REQUEST_TIMEOUT"); requestTimeout != "" {
		if d, err := time.ParseDuration(requestTimeout); err == nil {
			config.Pipeline.RequestTimeout = d
		}
	}
	if useRemote := os.Getenv("DOCPROC_PIPELINE_USE_REMOTE_PROCESSING"); useRemote != "" {
		if b, err := strconv.ParseBool(useRemote); err == nil {
			config.Pipeline.UseRemoteProcessing = b
		}
	}
	if simulate := os.Getenv("DOCPROC_PIPELINE_SIMULATE_WHEN_ABSENT"); simulate != "" {
		if b, err := strconv.ParseBool(simulate); err == nil {
			config.Pipeline.SimulateWhenAbsent = b
		}
	}
	if simulatedDelay := os.Getenv("DOCPROC_PIPELINE_SIMULATED_DELAY"); simulatedDelay != "" {
		if d, err := time.ParseDuration(simulatedDelay); err == nil {
			config.Pipeline.SimulatedDelay = d
		}
	}

	// Logging configuration
	if level := os.Getenv("DOCPROC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DOCPROC_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// WebSocket configuration
	if sendBuffer := os.Getenv("DOCPROC_WEBSOCKET_SEND_BUFFER"); sendBuffer != "" {
		if n, err := strconv.Atoi(sendBuffer); err == nil && n > 0 {
			config.WebSocket.SendBuffer = n
		}
	}

	// Retention configuration
	if schedule := os.Getenv("DOCPROC_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if ttl := os.Getenv("DOCPROC_RETENTION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Retention.TTL = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
