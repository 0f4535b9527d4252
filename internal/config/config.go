package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"offlinesync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Queue      QueueConfig      `yaml:"queue"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Network    NetworkConfig    `yaml:"network"`
	Remote     RemoteConfig     `yaml:"remote"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	Backend  string `yaml:"backend"` // sqlite | redis | file | memory
	Path     string `yaml:"path"`
	Key      string `yaml:"key"`
	Failover bool   `yaml:"failover"`
}

type RedisConfig struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

type SyncConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	InitialDelay  string  `yaml:"initial_delay"`
	MaxDelay      string  `yaml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	AutoRetry     bool    `yaml:"auto_retry"`
	Schedule      string  `yaml:"schedule"`
}

type NetworkConfig struct {
	ProbeURL      string `yaml:"probe_url"`
	ProbeInterval int    `yaml:"probe_interval"`
	ProbeTimeout  int    `yaml:"probe_timeout"`
	TransportType string `yaml:"transport_type"`
	StartOnline   bool   `yaml:"start_online"`
}

type RemoteConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	HeaderAPIKey string  `yaml:"header_api_key"`
	Timeout      int     `yaml:"timeout"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "sqlite", "file":
		if c.Queue.Path == "" {
			return fmt.Errorf("queue.path is required for backend %s", c.Queue.Backend)
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis.address is required for backend redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}

	if c.Sync.MaxRetries < 1 {
		return errors.New("sync.max_retries must be at least 1")
	}
	if _, err := parseDuration(c.Sync.InitialDelay); err != nil {
		return fmt.Errorf("sync.initial_delay: %w", err)
	}
	if _, err := parseDuration(c.Sync.MaxDelay); err != nil {
		return fmt.Errorf("sync.max_delay: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "offlinesync"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "sqlite"
	}
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Key == "" {
		c.Queue.Key = models.DefaultQueueKey
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = models.DefaultDeadLetterKey
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.InitialDelay == "" {
		c.Sync.InitialDelay = "2s"
	}
	if c.Sync.MaxDelay == "" {
		c.Sync.MaxDelay = "1m"
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}

	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = models.DefaultProbeTimeout
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultRemoteTimeout
	}
	if c.Remote.HeaderAPIKey == "" {
		c.Remote.HeaderAPIKey = "x-api-key"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// InitialDelayDuration returns the parsed backoff base delay.
func (s SyncConfig) InitialDelayDuration() time.Duration {
	d, _ := parseDuration(s.InitialDelay)
	return d
}

func (s SyncConfig) MaxDelayDuration() time.Duration {
	d, _ := parseDuration(s.MaxDelay)
	return d
}

func (n NetworkConfig) ProbeIntervalDuration() time.Duration {
	return time.Duration(n.ProbeInterval) * time.Second
}

func (n NetworkConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(n.ProbeTimeout) * time.Second
}

func (r RemoteConfig) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
