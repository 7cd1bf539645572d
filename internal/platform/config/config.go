// Package config assembles runtime configuration. Values come from an
// optional YAML file (VIGIL_CONFIG) with environment variables taking
// precedence, so containers can override a checked-in base file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration consumed by main.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Providers ProvidersConfig `yaml:"providers"`
	Screening ScreeningConfig `yaml:"screening"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	JWTSigningKey  string `yaml:"jwtSigningKey"`
	CallbackSecret string `yaml:"callbackSecret"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig describes the optional Redis connection used by the
// cross-instance event relay.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// KafkaConfig describes the optional audit event sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ProviderEndpoint configures one screening provider backend. An empty URL
// selects the built-in mock for that provider kind.
type ProviderEndpoint struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProvidersConfig groups the per-kind provider endpoints.
type ProvidersConfig struct {
	StructuredList ProviderEndpoint `yaml:"structuredList"`
	PEP            ProviderEndpoint `yaml:"pep"`
	AdverseMedia   ProviderEndpoint `yaml:"adverseMedia"`
	// CallbackBaseURL is the externally reachable base URL providers use to
	// deliver results, e.g. "https://vigil.example.com".
	CallbackBaseURL string `yaml:"callbackBaseUrl"`
}

// ScreeningConfig tunes orchestrator behavior.
type ScreeningConfig struct {
	// ProviderTimeout bounds how long an outcome slot may stay pending
	// before the reaper forces it to failed.
	ProviderTimeout time.Duration `yaml:"providerTimeout"`
	// ReapInterval is how often the reaper scans for overdue slots.
	ReapInterval time.Duration `yaml:"reapInterval"`
	// SubscriberBuffer is the per-subscriber event channel depth. A
	// subscriber that falls this far behind is treated as dead.
	SubscriberBuffer int `yaml:"subscriberBuffer"`
	// KeepaliveInterval spaces SSE comment keepalives.
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
}

// Load reads the optional YAML file named by VIGIL_CONFIG, then applies
// environment overrides and defaults.
func Load() (Config, error) {
	var cfg Config
	if path := os.Getenv("VIGIL_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "VIGIL_ADDR")
	setString(&c.Server.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&c.Server.CallbackSecret, "PROVIDER_CALLBACK_SECRET")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Kafka.Topic, "AUDIT_KAFKA_TOPIC")
	if v := os.Getenv("AUDIT_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	setString(&c.Providers.StructuredList.URL, "PROVIDER_STRUCTURED_LIST_URL")
	setString(&c.Providers.PEP.URL, "PROVIDER_PEP_URL")
	setString(&c.Providers.AdverseMedia.URL, "PROVIDER_ADVERSE_MEDIA_URL")
	setString(&c.Providers.CallbackBaseURL, "CALLBACK_BASE_URL")
	if err := setDuration(&c.Screening.ProviderTimeout, "PROVIDER_TIMEOUT"); err != nil {
		return err
	}
	return setInt(&c.Screening.SubscriberBuffer, "SUBSCRIBER_BUFFER")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.JWTSigningKey == "" {
		// Development default, override in production.
		c.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "vigil.audit"
	}
	if c.Providers.StructuredList.Timeout == 0 {
		c.Providers.StructuredList.Timeout = 10 * time.Second
	}
	if c.Providers.PEP.Timeout == 0 {
		c.Providers.PEP.Timeout = 10 * time.Second
	}
	if c.Providers.AdverseMedia.Timeout == 0 {
		c.Providers.AdverseMedia.Timeout = 10 * time.Second
	}
	if c.Providers.CallbackBaseURL == "" {
		c.Providers.CallbackBaseURL = "http://localhost:8080"
	}
	if c.Screening.ProviderTimeout == 0 {
		c.Screening.ProviderTimeout = 2 * time.Minute
	}
	if c.Screening.ReapInterval == 0 {
		c.Screening.ReapInterval = 15 * time.Second
	}
	if c.Screening.SubscriberBuffer == 0 {
		c.Screening.SubscriberBuffer = 16
	}
	if c.Screening.KeepaliveInterval == 0 {
		c.Screening.KeepaliveInterval = 25 * time.Second
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", env, v, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q: %w", env, v, err)
	}
	*dst = n
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
