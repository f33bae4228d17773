// Package config loads orchestrator settings from a YAML file and the
// environment. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the orchestrator.
type Config struct {
	DatabaseURL     string
	HTTPPort        int
	InternalSecret  string
	LogLevel        string
	// OTELEndpoint is the OTLP collector; empty or "none" disables export.
	OTELEndpoint    string
	OTELSampleRatio float64

	Sandbox SandboxConfig
	Storage StorageConfig
	Gateway GatewayConfig
	Health  HealthConfig
	Breaker BreakerConfig
	Restart RestartConfig
	Sync    SyncConfig
}

type SandboxConfig struct {
	Backend string // "docker" or "local"
	Image   string
	Network string
	Root    string
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Enabled reports whether an object store is configured.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

type GatewayConfig struct {
	Port           int
	Command        string
	DataDir        string
	StartupTimeout time.Duration
	MasterSecret   string

	AIGatewayAPIKey  string
	AIGatewayBaseURL string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
}

type HealthConfig struct {
	Interval      time.Duration
	Parallelism   int
	PortTimeout   time.Duration
	ProbeCommand  string
	ProbeTimeout  time.Duration
	// TenantTimeout bounds one monitor step for a tenant. Zero derives it
	// from the restart and startup budgets.
	TenantTimeout time.Duration
}

type BreakerConfig struct {
	Window    time.Duration
	Threshold int
}

type RestartConfig struct {
	FailuresBeforeRestart int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	FlushTimeout          time.Duration
	SettleDelay           time.Duration
}

type SyncConfig struct {
	Concurrency  int
	MaxRetries   int
	PollInterval time.Duration
	JobTimeout   time.Duration
	RateLimit    float64 // sync events per second per tenant
	RateBurst    int
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"database_url":      "DATABASE_URL",
	"http_port":         "PORT",
	"internal_secret":   "INTERNAL_SECRET",
	"log_level":         "LOG_LEVEL",
	"otel_endpoint":     "OTEL_EXPORTER_OTLP_ENDPOINT",
	"otel_sample_ratio": "OTEL_TRACES_SAMPLER_ARG",

	"sandbox_backend": "SANDBOX_BACKEND",
	"sandbox_image":   "SANDBOX_IMAGE",
	"sandbox_network": "SANDBOX_NETWORK",
	"sandbox_root":    "SANDBOX_ROOT",

	"storage_endpoint":          "STORAGE_ENDPOINT",
	"storage_region":            "STORAGE_REGION",
	"storage_bucket":            "STORAGE_BUCKET",
	"storage_access_key_id":     "STORAGE_ACCESS_KEY_ID",
	"storage_secret_access_key": "STORAGE_SECRET_ACCESS_KEY",
	"storage_force_path_style":  "STORAGE_FORCE_PATH_STYLE",

	"gateway_port":            "GATEWAY_PORT",
	"gateway_command":         "GATEWAY_COMMAND",
	"gateway_data_dir":        "GATEWAY_DATA_DIR",
	"gateway_startup_timeout": "GATEWAY_STARTUP_TIMEOUT",
	"gateway_master_secret":   "GATEWAY_MASTER_SECRET",
	"ai_gateway_api_key":      "AI_GATEWAY_API_KEY",
	"ai_gateway_base_url":     "AI_GATEWAY_BASE_URL",
	"anthropic_api_key":       "ANTHROPIC_API_KEY",
	"anthropic_base_url":      "ANTHROPIC_BASE_URL",
	"openai_api_key":          "OPENAI_API_KEY",

	"health_interval":       "HEALTH_INTERVAL",
	"health_parallelism":    "HEALTH_PARALLELISM",
	"health_port_timeout":   "HEALTH_PORT_TIMEOUT",
	"health_probe_command":  "HEALTH_PROBE_COMMAND",
	"health_probe_timeout":  "HEALTH_PROBE_TIMEOUT",
	"health_tenant_timeout": "HEALTH_TENANT_TIMEOUT",

	"breaker_window":    "BREAKER_WINDOW",
	"breaker_threshold": "BREAKER_THRESHOLD",

	"restart_failures":      "RESTART_FAILURES",
	"restart_base_delay":    "RESTART_BASE_DELAY",
	"restart_max_delay":     "RESTART_MAX_DELAY",
	"restart_flush_timeout": "RESTART_FLUSH_TIMEOUT",
	"restart_settle_delay":  "RESTART_SETTLE_DELAY",

	"sync_concurrency":   "SYNC_CONCURRENCY",
	"sync_max_retries":   "SYNC_MAX_RETRIES",
	"sync_poll_interval": "SYNC_POLL_INTERVAL",
	"sync_job_timeout":   "SYNC_JOB_TIMEOUT",
	"sync_rate_limit":    "SYNC_RATE_LIMIT",
	"sync_rate_burst":    "SYNC_RATE_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6262)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("otel_sample_ratio", 1.0)

	v.SetDefault("sandbox_backend", "docker")
	v.SetDefault("sandbox_image", "gatewayplane/sandbox:latest")

	v.SetDefault("storage_region", "auto")
	v.SetDefault("storage_force_path_style", true)

	v.SetDefault("gateway_port", 18789)
	v.SetDefault("gateway_command", "start-gateway.sh")
	v.SetDefault("gateway_data_dir", "/data/gateway")
	v.SetDefault("gateway_startup_timeout", 180*time.Second)

	v.SetDefault("health_interval", 30*time.Second)
	v.SetDefault("health_parallelism", 8)
	v.SetDefault("health_port_timeout", 5*time.Second)
	v.SetDefault("health_probe_command", "cat /proc/meminfo")
	v.SetDefault("health_probe_timeout", 10*time.Second)

	v.SetDefault("breaker_window", 10*time.Minute)
	v.SetDefault("breaker_threshold", 5)

	v.SetDefault("restart_failures", 3)
	v.SetDefault("restart_base_delay", 2*time.Minute)
	v.SetDefault("restart_max_delay", 10*time.Minute)
	v.SetDefault("restart_flush_timeout", 30*time.Second)
	v.SetDefault("restart_settle_delay", 2*time.Second)

	v.SetDefault("sync_concurrency", 3)
	v.SetDefault("sync_max_retries", 3)
	v.SetDefault("sync_poll_interval", time.Second)
	v.SetDefault("sync_job_timeout", 2*time.Minute)
	v.SetDefault("sync_rate_limit", 10.0)
	v.SetDefault("sync_rate_burst", 50)
}

// Load reads configuration from path (or gatewayplane.yaml in the working
// directory when path is empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gatewayplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:     v.GetString("database_url"),
		HTTPPort:        v.GetInt("http_port"),
		InternalSecret:  v.GetString("internal_secret"),
		LogLevel:        v.GetString("log_level"),
		OTELEndpoint:    v.GetString("otel_endpoint"),
		OTELSampleRatio: v.GetFloat64("otel_sample_ratio"),
		Sandbox: SandboxConfig{
			Backend: strings.ToLower(v.GetString("sandbox_backend")),
			Image:   v.GetString("sandbox_image"),
			Network: v.GetString("sandbox_network"),
			Root:    v.GetString("sandbox_root"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage_endpoint"),
			Region:          v.GetString("storage_region"),
			Bucket:          v.GetString("storage_bucket"),
			AccessKeyID:     v.GetString("storage_access_key_id"),
			SecretAccessKey: v.GetString("storage_secret_access_key"),
			ForcePathStyle:  v.GetBool("storage_force_path_style"),
		},
		Gateway: GatewayConfig{
			Port:             v.GetInt("gateway_port"),
			Command:          v.GetString("gateway_command"),
			DataDir:          v.GetString("gateway_data_dir"),
			StartupTimeout:   v.GetDuration("gateway_startup_timeout"),
			MasterSecret:     v.GetString("gateway_master_secret"),
			AIGatewayAPIKey:  v.GetString("ai_gateway_api_key"),
			AIGatewayBaseURL: v.GetString("ai_gateway_base_url"),
			AnthropicAPIKey:  v.GetString("anthropic_api_key"),
			AnthropicBaseURL: v.GetString("anthropic_base_url"),
			OpenAIAPIKey:     v.GetString("openai_api_key"),
		},
		Health: HealthConfig{
			Interval:      v.GetDuration("health_interval"),
			Parallelism:   v.GetInt("health_parallelism"),
			PortTimeout:   v.GetDuration("health_port_timeout"),
			ProbeCommand:  v.GetString("health_probe_command"),
			ProbeTimeout:  v.GetDuration("health_probe_timeout"),
			TenantTimeout: v.GetDuration("health_tenant_timeout"),
		},
		Breaker: BreakerConfig{
			Window:    v.GetDuration("breaker_window"),
			Threshold: v.GetInt("breaker_threshold"),
		},
		Restart: RestartConfig{
			FailuresBeforeRestart: v.GetInt("restart_failures"),
			BaseDelay:             v.GetDuration("restart_base_delay"),
			MaxDelay:              v.GetDuration("restart_max_delay"),
			FlushTimeout:          v.GetDuration("restart_flush_timeout"),
			SettleDelay:           v.GetDuration("restart_settle_delay"),
		},
		Sync: SyncConfig{
			Concurrency:  v.GetInt("sync_concurrency"),
			MaxRetries:   v.GetInt("sync_max_retries"),
			PollInterval: v.GetDuration("sync_poll_interval"),
			JobTimeout:   v.GetDuration("sync_job_timeout"),
			RateLimit:    v.GetFloat64("sync_rate_limit"),
			RateBurst:    v.GetInt("sync_rate_burst"),
		},
	}

	if strings.EqualFold(cfg.OTELEndpoint, "none") {
		cfg.OTELEndpoint = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TenantStepTimeout is the time a monitor step may take for one tenant: a
// check followed by a restart that flushes, settles and waits out the
// gateway startup.
func (c *Config) TenantStepTimeout() time.Duration {
	if c.Health.TenantTimeout > 0 {
		return c.Health.TenantTimeout
	}
	return c.Health.PortTimeout + c.Health.ProbeTimeout +
		c.Restart.FlushTimeout + c.Restart.SettleDelay + c.Gateway.StartupTimeout
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("internal_secret is required (env: INTERNAL_SECRET)")
	}
	if c.Gateway.MasterSecret == "" {
		return fmt.Errorf("gateway_master_secret is required (env: GATEWAY_MASTER_SECRET)")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return fmt.Errorf("otel_sample_ratio must be between 0 and 1, got %v", c.OTELSampleRatio)
	}
	switch c.Sandbox.Backend {
	case "docker", "local":
	default:
		return fmt.Errorf("invalid sandbox_backend %q (must be docker or local)", c.Sandbox.Backend)
	}
	if c.Storage.Enabled() && (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		return fmt.Errorf("storage_access_key_id and storage_secret_access_key must be set together")
	}
	return nil
}
