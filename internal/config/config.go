// Package config loads and validates ALTEC's process configuration: a YAML
// file with environment-variable overrides, following the same load/
// loadFromEnv/validate shape used across the codebase's services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP API and metrics listeners.
type ServerConfig struct {
	APIPort     string `yaml:"api_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// StoreConfig addresses the durable and ephemeral backing stores (C1).
type StoreConfig struct {
	PostgresDSN  string        `yaml:"postgres_dsn"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	BreakerTrips uint32        `yaml:"breaker_trips"`
}

// ClassOverride lets a deployment tune one duration class's policy
// parameters (§4.3) without recompiling. HeartbeatInterval, LockLease and
// ClientRefreshInterval are applied; SegmentCount is parsed but not
// applied, since segment counts come from the pipeline's phase count or
// the class default.
type ClassOverride struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	LockLease            time.Duration `yaml:"lock_lease"`
	SegmentCount         int           `yaml:"segment_count"`
	ClientRefreshInterval time.Duration `yaml:"client_refresh_interval"`
}

// PolicyConfig holds the global admission/executor knobs from spec §6.
type PolicyConfig struct {
	ReclaimSweepInterval         time.Duration            `yaml:"reclaim_sweep_interval"`
	MaxReclaimAttempts           int                       `yaml:"max_reclaim_attempts"`
	SkippedRecentSuccessWindow   time.Duration             `yaml:"skipped_recent_success_window"`
	ProgressThrottlePercent      float64                   `yaml:"progress_throttle_percent"`
	ProgressThrottleMessageChanged bool                    `yaml:"progress_throttle_message_changed"`
	DefaultDeadlineMultiplier    float64                   `yaml:"default_deadline_multiplier"`
	ClassOverrides               map[string]ClassOverride  `yaml:"class_overrides"`
}

// SessionConfig configures C6's credential refresh.
type SessionConfig struct {
	Issuer          string        `yaml:"issuer"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RefreshGraceTTL time.Duration `yaml:"refresh_grace_ttl"`
}

// AdaptersConfig carries model-adapter endpoint/credential settings.
type AdaptersConfig struct {
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	BedrockRegion   string        `yaml:"bedrock_region"`
	MistralAPIKey   string        `yaml:"mistral_api_key"`
	GenAIAPIKey     string        `yaml:"genai_api_key"`
	ResultStoreURL  string        `yaml:"result_store_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// LoggingConfig controls the shared structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level ALTEC process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Policy   PolicyConfig   `yaml:"policy"`
	Session  SessionConfig  `yaml:"session"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Logging  LoggingConfig  `yaml:"logging"`
}

var supportedDurationClasses = map[string]bool{"S": true, "M": true, "L": true, "XL": true}

// Load reads, parses, defaults, overrides from environment, and validates
// the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(config)

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.APIPort == "" {
		config.Server.APIPort = "8080"
	}
	if config.Server.MetricsPort == "" {
		config.Server.MetricsPort = "9090"
	}
	if config.Store.DialTimeout == 0 {
		config.Store.DialTimeout = 5 * time.Second
	}
	if config.Store.BreakerTrips == 0 {
		config.Store.BreakerTrips = 5
	}
	if config.Policy.ReclaimSweepInterval == 0 {
		config.Policy.ReclaimSweepInterval = 30 * time.Second
	}
	if config.Policy.MaxReclaimAttempts == 0 {
		config.Policy.MaxReclaimAttempts = 3
	}
	if config.Policy.SkippedRecentSuccessWindow == 0 {
		config.Policy.SkippedRecentSuccessWindow = time.Hour
	}
	if config.Policy.ProgressThrottlePercent == 0 {
		config.Policy.ProgressThrottlePercent = 0.5
	}
	if config.Policy.DefaultDeadlineMultiplier == 0 {
		config.Policy.DefaultDeadlineMultiplier = 3.0
	}
	if config.Session.RefreshGraceTTL == 0 {
		config.Session.RefreshGraceTTL = 5 * time.Minute
	}
	if config.Adapters.RequestTimeout == 0 {
		config.Adapters.RequestTimeout = 60 * time.Second
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

func loadFromEnv(config *Config) error {
	if v := os.Getenv("ALTEC_API_PORT"); v != "" {
		config.Server.APIPort = v
	}
	if v := os.Getenv("ALTEC_METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("ALTEC_POSTGRES_DSN"); v != "" {
		config.Store.PostgresDSN = v
	}
	if v := os.Getenv("ALTEC_REDIS_ADDR"); v != "" {
		config.Store.RedisAddr = v
	}
	if v := os.Getenv("ALTEC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ALTEC_MAX_RECLAIM_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ALTEC_MAX_RECLAIM_ATTEMPTS: %w", err)
		}
		config.Policy.MaxReclaimAttempts = n
	}
	return nil
}

func validate(config *Config) error {
	if config.Store.PostgresDSN == "" {
		return fmt.Errorf("store postgres DSN is required")
	}
	if config.Store.RedisAddr == "" {
		return fmt.Errorf("store redis address is required")
	}
	if config.Policy.MaxReclaimAttempts <= 0 {
		return fmt.Errorf("max reclaim attempts must be greater than 0")
	}
	if config.Policy.ProgressThrottlePercent < 0 || config.Policy.ProgressThrottlePercent > 100 {
		return fmt.Errorf("progress throttle percent must be between 0 and 100")
	}
	if config.Policy.DefaultDeadlineMultiplier <= 0 {
		return fmt.Errorf("default deadline multiplier must be greater than 0")
	}
	for class := range config.Policy.ClassOverrides {
		if !supportedDurationClasses[class] {
			return fmt.Errorf("unsupported duration class in class_overrides: %s", class)
		}
	}
	switch config.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("unsupported logging format: %s", config.Logging.Format)
	}
	return nil
}
