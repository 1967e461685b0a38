// Package config holds the environment-driven configuration for the A2A
// server and its subsystems.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all server configuration.
type Config struct {
	AgentName        string // Build-time metadata, not configurable via environment
	AgentDescription string // Build-time metadata, not configurable via environment
	AgentVersion     string // Build-time metadata, not configurable via environment

	AgentCardFilePath string `env:"AGENT_CARD_FILE_PATH" description:"Path to JSON file containing the agent card"`
	Debug             bool   `env:"DEBUG,default=false"`

	ServerConfig    ServerConfig    `env:",prefix=SERVER_"`
	AuthConfig      AuthConfig      `env:",prefix=AUTH_"`
	StoreConfig     StoreConfig     `env:",prefix=STORE_"`
	StreamConfig    StreamConfig    `env:",prefix=STREAM_"`
	RetentionConfig RetentionConfig `env:",prefix=RETENTION_"`
	ArtifactsConfig ArtifactsConfig `env:",prefix=ARTIFACTS_"`
	WebhookConfig   WebhookConfig   `env:",prefix=WEBHOOK_"`
	TelemetryConfig TelemetryConfig `env:",prefix=TELEMETRY_"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                  string        `env:"PORT,default=8080" description:"HTTP server port"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=120s" description:"HTTP server read timeout"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=0s" description:"HTTP server write timeout (0 keeps streams open)"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=120s" description:"HTTP server idle timeout"`
	DisableHealthcheckLog bool          `env:"DISABLE_HEALTHCHECK_LOG,default=true" description:"Disable logging for health check requests"`
	TLSConfig             TLSConfig     `env:",prefix=TLS_"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	Enable   bool   `env:"ENABLE,default=false"`
	CertPath string `env:"CERT_PATH" description:"TLS certificate path"`
	KeyPath  string `env:"KEY_PATH" description:"TLS key path"`
}

// AuthConfig holds inbound authentication configuration. API keys and OIDC
// bearer verification can be enabled independently; a request passing either
// check is accepted.
type AuthConfig struct {
	Enable       bool     `env:"ENABLE,default=false"`
	APIKeys      []string `env:"API_KEYS" description:"Accepted inbound API keys"`
	APIKeyHeader string   `env:"API_KEY_HEADER,default=X-Api-Key" description:"Header carrying the inbound API key"`
	IssuerURL    string   `env:"ISSUER_URL" description:"OIDC issuer URL for bearer token verification"`
	ClientID     string   `env:"CLIENT_ID" description:"OIDC audience for bearer token verification"`
}

// StoreConfig selects and configures the task store backend.
type StoreConfig struct {
	Provider string `env:"PROVIDER,default=memory" description:"Task store provider (memory, redis)"`
	URL      string `env:"URL" description:"Connection URL for the redis provider"`
}

// StreamConfig tunes SSE delivery and listener fan-out.
type StreamConfig struct {
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=15s" description:"Interval between SSE heartbeat comments"`
	ListenerBuffer    int           `env:"LISTENER_BUFFER,default=16" description:"Event queue depth per listener"`
}

// RetentionConfig controls reaping of terminal tasks.
type RetentionConfig struct {
	TTL             time.Duration `env:"TTL,default=0s" description:"How long terminal tasks are kept (0 = forever)"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL,default=5m" description:"How often the retention sweeper runs"`
}

// ArtifactsConfig configures artifact payload offloading.
type ArtifactsConfig struct {
	Enable           bool   `env:"ENABLE,default=false" description:"Offload large inline artifact payloads to storage"`
	Provider         string `env:"PROVIDER,default=filesystem" description:"Storage provider (filesystem, minio)"`
	BasePath         string `env:"BASE_PATH,default=./artifacts" description:"Base path for filesystem storage"`
	BaseURL          string `env:"BASE_URL" description:"Public base URL for offloaded artifact payloads"`
	Endpoint         string `env:"ENDPOINT" description:"Object storage endpoint (minio)"`
	AccessKey        string `env:"ACCESS_KEY" description:"Object storage access key"`
	SecretKey        string `env:"SECRET_KEY" description:"Object storage secret key"`
	BucketName       string `env:"BUCKET_NAME,default=artifacts" description:"Object storage bucket name"`
	UseSSL           bool   `env:"USE_SSL,default=true" description:"Use SSL for object storage connections"`
	OffloadThreshold int    `env:"OFFLOAD_THRESHOLD,default=65536" description:"Inline payload size in bytes above which content is offloaded"`
}

// WebhookConfig tunes push notification delivery.
type WebhookConfig struct {
	Timeout time.Duration `env:"TIMEOUT,default=10s" description:"Per-delivery timeout for webhook pushes"`
}

// MetricsConfig holds metrics server configuration.
type MetricsConfig struct {
	Port         string        `env:"PORT,default=9090" description:"Metrics server port"`
	Host         string        `env:"HOST,default=" description:"Metrics server host (empty for all interfaces)"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s" description:"Metrics server read timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s" description:"Metrics server write timeout"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s" description:"Metrics server idle timeout"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	Enable        bool          `env:"ENABLE,default=false" description:"Enable telemetry collection"`
	MetricsConfig MetricsConfig `env:",prefix=METRICS_"`
}

// Load loads configuration from environment variables, merging with the
// provided base config.
func Load(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, envconfig.OsLookuper())
}

// LoadWithLookuper loads configuration using a custom lookuper and merges
// with the provided base config.
func LoadWithLookuper(ctx context.Context, baseConfig *Config, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if baseConfig != nil {
		cfg = *baseConfig
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NewWithDefaults creates a config with only struct tag defaults applied.
func NewWithDefaults(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, &emptyLookuper{})
}

// emptyLookuper ensures that only default values from struct tags are used.
type emptyLookuper struct{}

func (e *emptyLookuper) Lookup(key string) (string, bool) {
	return "", false
}

// Validate checks cross-field constraints and corrects nonsense values.
func (c *Config) Validate() error {
	switch c.StoreConfig.Provider {
	case "memory":
	case "redis":
		if c.StoreConfig.URL == "" {
			return fmt.Errorf("store provider redis requires STORE_URL")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.StoreConfig.Provider)
	}

	if c.StreamConfig.ListenerBuffer < 1 {
		c.StreamConfig.ListenerBuffer = 1
	}
	if c.StreamConfig.HeartbeatInterval <= 0 {
		c.StreamConfig.HeartbeatInterval = 15 * time.Second
	}

	if c.AuthConfig.Enable && len(c.AuthConfig.APIKeys) == 0 && c.AuthConfig.IssuerURL == "" {
		return fmt.Errorf("auth is enabled but neither AUTH_API_KEYS nor AUTH_ISSUER_URL is set")
	}

	return nil
}
