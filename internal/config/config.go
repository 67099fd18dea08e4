package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ops       OpsConfig       `yaml:"ops"`
	Storage   StorageConfig   `yaml:"storage"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodySize  int    `yaml:"max_body_size"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// OpsConfig contains the operations listener settings (metrics, health)
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StorageConfig contains storage engine settings
type StorageConfig struct {
	DataDir                string `yaml:"data_dir"`
	CacheEnabled           bool   `yaml:"cache_enabled"`
	TicketCacheSize        int    `yaml:"ticket_cache_size"`
	UserCacheSize          int    `yaml:"user_cache_size"`
	CacheExpirationSeconds int    `yaml:"cache_expiration_seconds"`
	GCIntervalMinutes      int    `yaml:"gc_interval_minutes"`
}

// RealtimeConfig contains WebSocket and dispatcher settings
type RealtimeConfig struct {
	Path                     string `yaml:"path"`
	SendBufferSize           int    `yaml:"send_buffer_size"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	MaxIdleSeconds           int    `yaml:"max_idle_seconds"`
	MaxConnections           int    `yaml:"max_connections"`
}

// WebhookConfig contains team-chat webhook forwarding settings
type WebhookConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodySize:  1048576, // 1MB
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Ops: OpsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Storage: StorageConfig{
			DataDir:                "./data",
			CacheEnabled:           true,
			TicketCacheSize:        10000,
			UserCacheSize:          1000,
			CacheExpirationSeconds: 30,
			GCIntervalMinutes:      10,
		},
		Realtime: RealtimeConfig{
			Path:                     "/ws",
			SendBufferSize:           64,
			HeartbeatIntervalSeconds: 25,
			MaxIdleSeconds:           300,
			MaxConnections:           10000,
		},
		Webhook: WebhookConfig{
			Enabled:        false,
			TimeoutSeconds: 5,
			MaxRetries:     3,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "ticketflow",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// Load loads configuration from file, environment variables, and flags
func Load(configFile string, dataDir string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if dataDir != "" {
		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Storage.DataDir = absDataDir
	}

	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("TICKETFLOW_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if addr := os.Getenv("TICKETFLOW_OPS_ADDR"); addr != "" {
		config.Ops.Addr = addr
	}

	if dataDir := os.Getenv("TICKETFLOW_STORAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	if bufStr := os.Getenv("TICKETFLOW_REALTIME_SEND_BUFFER_SIZE"); bufStr != "" {
		if val, err := strconv.Atoi(bufStr); err == nil {
			config.Realtime.SendBufferSize = val
		}
	}
	if maxStr := os.Getenv("TICKETFLOW_REALTIME_MAX_CONNECTIONS"); maxStr != "" {
		if val, err := strconv.Atoi(maxStr); err == nil {
			config.Realtime.MaxConnections = val
		}
	}

	if url := os.Getenv("TICKETFLOW_WEBHOOK_URL"); url != "" {
		config.Webhook.URL = url
		config.Webhook.Enabled = true
	}

	if level := os.Getenv("TICKETFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("TICKETFLOW_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}
