// Package config loads hub configuration from a YAML file, overlays
// environment variables, and validates the result in three stages:
// Load, loadFromEnv, validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TenantPreset resolves a RoutingSpec tenant_tag to an RPA environment.
type TenantPreset struct {
	TokenEndpoint string `yaml:"token_endpoint"`
	TenantName    string `yaml:"tenant_name"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	BaseURL       string `yaml:"base_url"`
	FolderID      string `yaml:"folder_id"`
	Queue         string `yaml:"queue"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port        string `yaml:"port"`
	FunctionKey string `yaml:"function_key"`
}

// PlatformConfig holds credentials/addresses for the collaboration platform.
type PlatformConfig struct {
	TenantID        string        `yaml:"tenant_id"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	BaseURL         string        `yaml:"base_url"`
	CallbackBaseURL string        `yaml:"callback_base_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds connection strings for the persistence layer.
type StorageConfig struct {
	StateStoreDSN   string `yaml:"state_store_dsn"`
	TrackingListDSN string `yaml:"tracking_list_dsn"`
	RedisAddr       string `yaml:"redis_addr"`
}

// RPAConfig holds the default (process-wide) RPA provider settings, used
// when a notification's RoutingSpec does not override them.
type RPAConfig struct {
	DefaultTenant  string                  `yaml:"default_tenant"`
	Presets        map[string]TenantPreset `yaml:"presets"`
	RequestTimeout time.Duration           `yaml:"request_timeout"`
}

// PolicyProcessor declares an operator-supplied Rego policy to register as
// an additional templates.Processor alongside the built-in document and
// status-gated handlers. RegoPackage must match the package declared in
// RegoSource, which must define a boolean "allow" rule.
type PolicyProcessor struct {
	Name          string   `yaml:"name"`
	RegoPackage   string   `yaml:"rego_package"`
	RegoSource    string   `yaml:"rego_source"`
	ContentFields []string `yaml:"content_fields"`
}

// FeatureFlags toggles optional subsystems without a code change.
type FeatureFlags struct {
	EnableTokenCache bool `yaml:"enable_token_cache"`
	EnableRPA        bool `yaml:"enable_rpa"`
	EnableMetrics    bool `yaml:"enable_metrics"`
	DetailedLogging  bool `yaml:"detailed_logging"`
}

// RetryConfig controls the retry/backoff shared by QueueClient and Forwarder.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DiagnosticsConfig configures the operator-alert sink.
type DiagnosticsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// Config is the fully-resolved hub configuration.
type Config struct {
	Server           ServerConfig      `yaml:"server"`
	Platform         PlatformConfig    `yaml:"platform"`
	Storage          StorageConfig     `yaml:"storage"`
	RPA              RPAConfig         `yaml:"rpa"`
	Features         FeatureFlags      `yaml:"features"`
	Retry            RetryConfig       `yaml:"retry"`
	Diagnostics      DiagnosticsConfig `yaml:"diagnostics"`
	LogLevel         string            `yaml:"log_level"`
	RenewalWindow    time.Duration     `yaml:"renewal_window"`
	DedupTTL         time.Duration     `yaml:"dedup_ttl"`
	FanOutCap        int               `yaml:"fan_out_cap"`
	ReconcileCron    string            `yaml:"reconcile_cron"`
	PolicyProcessors []PolicyProcessor `yaml:"policy_processors"`
}

// Load reads the YAML file at path, overlays environment variables, and
// validates the result, applying defaults for anything still unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromEnv overlays select environment variables onto config, matching
// the §6.4 concept names. Unset variables leave the existing value alone.
func loadFromEnv(config *Config) error {
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		config.Server.Port = v
	}
	if v := os.Getenv("FUNCTION_KEY"); v != "" {
		config.Server.FunctionKey = v
	}
	if v := os.Getenv("PLATFORM_TENANT_ID"); v != "" {
		config.Platform.TenantID = v
	}
	if v := os.Getenv("PLATFORM_CLIENT_ID"); v != "" {
		config.Platform.ClientID = v
	}
	if v := os.Getenv("PLATFORM_CLIENT_SECRET"); v != "" {
		config.Platform.ClientSecret = v
	}
	if v := os.Getenv("PLATFORM_BASE_URL"); v != "" {
		config.Platform.BaseURL = v
	}
	if v := os.Getenv("CALLBACK_BASE_URL"); v != "" {
		config.Platform.CallbackBaseURL = v
	}
	if v := os.Getenv("STATE_STORE_DSN"); v != "" {
		config.Storage.StateStoreDSN = v
	}
	if v := os.Getenv("TRACKING_LIST_DSN"); v != "" {
		config.Storage.TrackingListDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Storage.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("ENABLE_RPA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_RPA: %w", err)
		}
		config.Features.EnableRPA = b
	}
	if v := os.Getenv("RPA_DEFAULT_TENANT"); v != "" {
		config.RPA.DefaultTenant = v
	}
	return nil
}

// validate enforces required fields and applies remaining defaults.
func validate(config *Config) error {
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.RenewalWindow <= 0 {
		config.RenewalWindow = 24 * time.Hour
	}
	if config.DedupTTL <= 0 {
		config.DedupTTL = 60 * time.Second
	}
	if config.FanOutCap <= 0 {
		config.FanOutCap = 10
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.BaseDelay <= 0 {
		config.Retry.BaseDelay = time.Second
	}
	if config.Platform.RequestTimeout <= 0 {
		config.Platform.RequestTimeout = 30 * time.Second
	}
	if config.RPA.RequestTimeout <= 0 {
		config.RPA.RequestTimeout = 30 * time.Second
	}
	if config.ReconcileCron == "" {
		config.ReconcileCron = "@hourly"
	}
	if config.RPA.DefaultTenant == "" {
		config.RPA.DefaultTenant = "DEV"
	}

	if config.Platform.BaseURL == "" {
		return fmt.Errorf("platform base URL is required")
	}
	if config.Storage.StateStoreDSN == "" {
		return fmt.Errorf("state store DSN is required")
	}
	if config.Features.EnableRPA {
		if _, ok := config.RPA.Presets[config.RPA.DefaultTenant]; !ok && config.RPA.DefaultTenant != "DEV" && config.RPA.DefaultTenant != "PROD" {
			return fmt.Errorf("RPA default tenant %q has no matching preset", config.RPA.DefaultTenant)
		}
	}
	return nil
}
