package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is provided.
const DefaultPath = "config/config.yml"

// Storage backends.
const (
	BackendS3     = "s3"
	BackendAzure  = "azure"
	BackendMemory = "memory"
)

type Config struct {
	Ingest   IngestConfig   `yaml:"ingest"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type IngestConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type UpstreamConfig struct {
	URL               string        `yaml:"url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	PageSize          int           `yaml:"page_size"`
	Page              int           `yaml:"page"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type ScheduleConfig struct {
	Cron          string `yaml:"cron"`
	RunOnStartup  bool   `yaml:"run_on_startup"`
	SkipIfRunning bool   `yaml:"skip_if_running"`
}

type StorageConfig struct {
	Backend             string      `yaml:"backend"`
	RawContainer        string      `yaml:"raw_container"`
	DeadLetterContainer string      `yaml:"deadletter_container"`
	S3                  S3Config    `yaml:"s3"`
	Azure               AzureConfig `yaml:"azure"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type AzureConfig struct {
	ConnectionString   string `yaml:"connection_string"`
	AccountURL         string `yaml:"account_url"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	ListenAddr string           `yaml:"listen_addr"`
	History    int              `yaml:"history"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// HasCredential reports whether the selected backend has what it needs to
// authenticate. The memory backend never needs one.
func (s StorageConfig) HasCredential() bool {
	switch s.Backend {
	case BackendMemory:
		return true
	case BackendAzure:
		if s.Azure.ConnectionString != "" {
			return true
		}
		return s.Azure.UseManagedIdentity && s.Azure.AccountURL != ""
	default:
		return s.S3.AccessKeyID != "" && s.S3.SecretAccessKey != ""
	}
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Ingest: IngestConfig{
			Name:    "cryptoingest",
			Version: "1.0",
		},
		Upstream: UpstreamConfig{
			URL:         "https://api.coingecko.com/api/v3/coins/markets",
			UserAgent:   "crypto-pipeline-ingest/1.0",
			Timeout:     15 * time.Second,
			PageSize:    250,
			Page:        1,
			MaxAttempts: 3,
		},
		Schedule: ScheduleConfig{
			Cron: "0 */5 * * * *",
		},
		Storage: StorageConfig{
			Backend:             BackendS3,
			RawContainer:        "raw",
			DeadLetterContainer: "deadletter",
		},
		Metrics: MetricsConfig{
			ListenAddr: "0.0.0.0:2112",
			History:    100,
			CloudWatch: CloudWatchConfig{Namespace: "CryptoIngest"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envOverrides lists the variables that win over the YAML file. Names match
// the Azure Functions app settings used by existing deployments.
type envOverrides struct {
	PageSize            int    `env:"CG_PER_PAGE"`
	Page                int    `env:"CG_PAGE"`
	MaxAttempts         int    `env:"CG_MAX_ATTEMPTS"`
	RawContainer        string `env:"RAW_CONTAINER"`
	DeadLetterContainer string `env:"DEADLETTER_CONTAINER"`
	Backend             string `env:"STORAGE_BACKEND"`
	AzureConnection     string `env:"AzureWebJobsStorage"`
	AzureAccountURL     string `env:"AZURE_STORAGE_ACCOUNT_URL"`
	AccessKeyID         string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey     string `env:"AWS_SECRET_ACCESS_KEY"`
	Region              string `env:"AWS_REGION"`
	LogLevel            string `env:"LOG_LEVEL"`
}

func LoadConfig(path string) (*Config, error) {
	config := Default()

	path = configPathFor(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist) && isImplicitPath(path):
			// Running purely from the environment.
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(&config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config.Storage.Backend = strings.ToLower(strings.TrimSpace(config.Storage.Backend))
	config.Storage.RawContainer = strings.TrimSpace(config.Storage.RawContainer)
	config.Storage.DeadLetterContainer = strings.TrimSpace(config.Storage.DeadLetterContainer)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return err
	}

	// Numeric overrides apply whenever the variable is set, so an explicit
	// zero reaches validateConfig.
	if envSet("CG_PER_PAGE") {
		config.Upstream.PageSize = env.PageSize
	}
	if envSet("CG_PAGE") {
		config.Upstream.Page = env.Page
	}
	if envSet("CG_MAX_ATTEMPTS") {
		config.Upstream.MaxAttempts = env.MaxAttempts
	}
	if v := strings.TrimSpace(env.RawContainer); v != "" {
		config.Storage.RawContainer = v
	}
	if v := strings.TrimSpace(env.DeadLetterContainer); v != "" {
		config.Storage.DeadLetterContainer = v
	}
	if v := strings.TrimSpace(env.Backend); v != "" {
		config.Storage.Backend = v
	}
	if v := strings.TrimSpace(env.AzureConnection); v != "" {
		config.Storage.Azure.ConnectionString = v
	}
	if v := strings.TrimSpace(env.AzureAccountURL); v != "" {
		config.Storage.Azure.AccountURL = v
	}
	if v := strings.TrimSpace(env.AccessKeyID); v != "" {
		config.Storage.S3.AccessKeyID = v
	}
	if v := strings.TrimSpace(env.SecretAccessKey); v != "" {
		config.Storage.S3.SecretAccessKey = v
	}
	if v := strings.TrimSpace(env.Region); v != "" {
		config.Storage.S3.Region = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		config.Logging.Level = v
	}
	return nil
}

func envSet(name string) bool {
	return strings.TrimSpace(os.Getenv(name)) != ""
}

func validateConfig(cfg *Config) error {
	if cfg.Ingest.Name == "" {
		return fmt.Errorf("ingest.name is required")
	}

	if cfg.Ingest.Version == "" {
		return fmt.Errorf("ingest.version is required")
	}

	if cfg.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if cfg.Upstream.PageSize < 1 || cfg.Upstream.PageSize > 250 {
		return fmt.Errorf("upstream.page_size must be between 1 and 250")
	}
	if cfg.Upstream.Page < 1 {
		return fmt.Errorf("upstream.page must be at least 1")
	}
	if cfg.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream.max_attempts must be at least 1")
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be greater than 0")
	}
	if cfg.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second must not be negative")
	}

	if cfg.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron is required")
	}

	if cfg.Storage.RawContainer == "" {
		return fmt.Errorf("storage.raw_container is required")
	}
	if cfg.Storage.DeadLetterContainer == "" {
		return fmt.Errorf("storage.deadletter_container is required")
	}

	switch cfg.Storage.Backend {
	case BackendS3:
		for _, name := range []string{cfg.Storage.RawContainer, cfg.Storage.DeadLetterContainer} {
			if !isValidS3Bucket(name) {
				return fmt.Errorf("storage container '%s' is not a valid S3 bucket name", name)
			}
		}
	case BackendAzure:
	case BackendMemory:
		if IsProductionLike(AppEnvironment()) {
			return fmt.Errorf("storage.backend 'memory' is not allowed in %s", AppEnvironment())
		}
	default:
		return fmt.Errorf("storage.backend '%s' is not supported", cfg.Storage.Backend)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
