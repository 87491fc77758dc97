// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr serves the REST surface, health probes and the /ws upgrade.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr serves grpc.health.v1 for orchestrators.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development" switches to the development logger).
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN. Required when StoreDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// StoreDriver is "postgres" or "memory". Empty picks postgres when DATABASE_URL is set.
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	// JWTPublicKey is the PEM-encoded public key (or a path to one) of the auth service that signs access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is only used by cmd/seed to mint development tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`

	// WebSocket tuning.
	WSReadLimit    int64  `mapstructure:"WS_READ_LIMIT"`
	WSSendBuffer   int    `mapstructure:"WS_SEND_BUFFER"`
	WSPingInterval string `mapstructure:"WS_PING_INTERVAL"`
	WSWriteTimeout string `mapstructure:"WS_WRITE_TIMEOUT"`
	// RequestTimeout bounds the store calls made for one client request.
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// AllowedOrigins is a comma-separated list of origins accepted on /ws; "*" or empty accepts any.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// SessionPolicyFile replaces the embedded session access Rego policy when set.
	SessionPolicyFile string `mapstructure:"SESSION_POLICY_FILE"`

	// Redis relay (optional). When RedisAddr is set, room broadcasts are shared across instances.
	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisChannelPrefix string `mapstructure:"REDIS_CHANNEL_PREFIX"`

	// OpenTelemetry (optional). Exporters are no-ops when the endpoint is empty.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Activity events (optional). When Kafka brokers are set, session activity is also produced to Kafka.
	KafkaBrokers       string `mapstructure:"KAFKA_BROKERS"`
	ActivityKafkaTopic string `mapstructure:"ACTIVITY_KAFKA_TOPIC"`
	// KafkaGroupID and LokiURL are read by cmd/worker, which ships activity events to Loki.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_DRIVER", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "collab-auth")
	v.SetDefault("JWT_AUDIENCE", "collab-sync")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("WS_READ_LIMIT", 1<<20)
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_PING_INTERVAL", "25s")
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "5s")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("SESSION_POLICY_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_CHANNEL_PREFIX", "collab:room:")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_SERVICE_NAME", "collab-sync")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ACTIVITY_KAFKA_TOPIC", "collab-activity")
	v.SetDefault("KAFKA_GROUP_ID", "collab-activity-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	switch c.StoreDriver {
	case "":
		c.StoreDriver = StoreDriverMemory
		if c.DatabaseURL != "" {
			c.StoreDriver = StoreDriverPostgres
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	if c.Env == "production" && c.StoreDriver == StoreDriverMemory {
		return errors.New("config: STORE_DRIVER=memory must not be used when APP_ENV=production")
	}
	if c.WSReadLimit <= 0 {
		return errors.New("config: WS_READ_LIMIT must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("config: WS_SEND_BUFFER must be positive")
	}
	for key, val := range map[string]string{
		"WS_PING_INTERVAL": c.WSPingInterval,
		"WS_WRITE_TIMEOUT": c.WSWriteTimeout,
		"REQUEST_TIMEOUT":  c.RequestTimeout,
		"JWT_ACCESS_TTL":   c.JWTAccessTTL,
	} {
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, val)
		}
	}
	return nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, 15*time.Minute) }

// PingInterval is how often the gateway pings idle connections. Returns 25s if unset or invalid.
func (c *Config) PingInterval() time.Duration { return parseDuration(c.WSPingInterval, 25*time.Second) }

// WriteTimeout bounds a single WebSocket write. Returns 10s if unset or invalid.
func (c *Config) WriteTimeout() time.Duration { return parseDuration(c.WSWriteTimeout, 10*time.Second) }

// RequestTimeoutDuration bounds the store work of one client request. Returns 5s if unset or invalid.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, 5*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka activity producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AllowedOriginsList returns the accepted WebSocket origins. Nil means any origin.
func (c *Config) AllowedOriginsList() []string {
	if c == nil {
		return nil
	}
	list := splitList(c.AllowedOrigins)
	for _, o := range list {
		if o == "*" {
			return nil
		}
	}
	return list
}

// Development reports whether APP_ENV selects development defaults.
func (c *Config) Development() bool {
	return c != nil && (c.Env == "development" || c.Env == "dev" || c.Env == "local")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
