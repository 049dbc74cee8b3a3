package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dispatchsync/internal/models"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration problems that must stop a sync before any work starts.
var ErrConfig = errors.New("invalid configuration")

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Sync       SyncConfig       `yaml:"sync"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
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

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// UpstreamConfig points at the dispatch API.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig is the YAML form of a retry policy.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// SyncConfig carries every tunable of the order sync pipeline. It is built once
// and handed to each component.
type SyncConfig struct {
	Upstream UpstreamConfig `yaml:"-"`

	WindowDays      int   `yaml:"window_days"`
	RetentionMonths int   `yaml:"retention_months"`
	PageSize        int   `yaml:"page_size"`
	MaxPages        int   `yaml:"max_pages"`
	JobTypes        []int `yaml:"job_types"`
	JobStatuses     []int `yaml:"job_statuses"`

	DetailBatchSize int           `yaml:"detail_batch_size"`
	CODLabels       []string      `yaml:"cod_labels"`
	DetailCacheTTL  time.Duration `yaml:"detail_cache_ttl"`

	ChunkSize int `yaml:"chunk_size"`

	RequestDelay time.Duration `yaml:"request_delay"`
	ChunkDelay   time.Duration `yaml:"chunk_delay"`

	FetchRetry RetryConfig `yaml:"fetch_retry"`
	StoreRetry RetryConfig `yaml:"store_retry"`

	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// Schedule is a cron expression for incremental runs; empty disables scheduling.
	Schedule string `yaml:"schedule"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid sync schedule: %w", err)
		}
	}
	if c.Backup.Enabled && c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid backup schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 30 * time.Second
	}
	c.Sync.ApplyDefaults()
	c.Sync.Upstream = c.Upstream
}

// ApplyDefaults fills zero values with the pipeline defaults.
func (s *SyncConfig) ApplyDefaults() {
	if s.WindowDays <= 0 {
		s.WindowDays = models.DefaultWindowDays
	}
	if s.RetentionMonths <= 0 {
		s.RetentionMonths = models.RetentionMonths
	}
	if s.PageSize <= 0 {
		s.PageSize = models.DefaultPageSize
	}
	if s.MaxPages <= 0 {
		s.MaxPages = models.DefaultMaxPages
	}
	if len(s.JobTypes) == 0 {
		s.JobTypes = []int{
			int(models.JobTypePickup),
			int(models.JobTypeDelivery),
			int(models.JobTypeAppointment),
			int(models.JobTypeOther),
		}
	}
	if len(s.JobStatuses) == 0 {
		for _, st := range models.AllJobStatuses {
			s.JobStatuses = append(s.JobStatuses, int(st))
		}
	}
	if s.DetailBatchSize <= 0 {
		s.DetailBatchSize = models.DefaultDetailBatchSize
	}
	if len(s.CODLabels) == 0 {
		s.CODLabels = []string{"COD_Amount", "COD", "cod_amount"}
	}
	if s.DetailCacheTTL == 0 {
		s.DetailCacheTTL = 10 * time.Minute
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = models.DefaultChunkSize
	}
	if s.RequestDelay == 0 {
		s.RequestDelay = 300 * time.Millisecond
	}
	if s.ChunkDelay == 0 {
		s.ChunkDelay = 100 * time.Millisecond
	}
	if s.FetchRetry.MaxAttempts <= 0 {
		s.FetchRetry.MaxAttempts = 3
	}
	if s.FetchRetry.InitialDelay <= 0 {
		s.FetchRetry.InitialDelay = time.Second
	}
	if s.FetchRetry.MaxDelay <= 0 {
		s.FetchRetry.MaxDelay = 30 * time.Second
	}
	if s.StoreRetry.MaxAttempts <= 0 {
		s.StoreRetry.MaxAttempts = 2
	}
	if s.StoreRetry.InitialDelay <= 0 {
		s.StoreRetry.InitialDelay = 250 * time.Millisecond
	}
	if s.StoreRetry.MaxDelay <= 0 {
		s.StoreRetry.MaxDelay = 2 * time.Second
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = 15 * time.Minute
	}
}

// Validate reports missing upstream credentials. The error wraps ErrConfig.
func (s SyncConfig) Validate() error {
	if strings.TrimSpace(s.Upstream.APIKey) == "" {
		return fmt.Errorf("%w: upstream api key is required", ErrConfig)
	}
	if strings.TrimSpace(s.Upstream.BaseURL) == "" {
		return fmt.Errorf("%w: upstream base url is required", ErrConfig)
	}
	return nil
}
