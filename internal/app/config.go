package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STORE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig enables the product cache. An empty Addr and URL disable it.
type RedisConfig struct {
	URL        string        `usage:"Redis URL, overrides Addr/Password/DB (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Addr       string        `default:"" usage:"Redis address host:port"`
	Password   string        `default:"" usage:"Redis password"`
	DB         int           `default:"0" usage:"Redis database number"`
	ProductTTL time.Duration `default:"5m" usage:"Product cache entry lifetime" flag:"product-ttl"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" || c.Addr != "" }

// KafkaConfig enables order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka bootstrap brokers"`
	Topic        string        `default:"store.orders" usage:"Topic for order events"`
	WriteTimeout time.Duration `default:"5s" usage:"Per-event write timeout" flag:"kafka-write-timeout"`
}

// OrdersConfig tunes order creation and status handling.
type OrdersConfig struct {
	StrictStatus       bool `default:"false" usage:"Reject status changes outside the transition table" flag:"strict-status"`
	IdentifierAttempts int  `default:"10" usage:"Candidates tried per invoice number or masked ID"`
	InsertAttempts     int  `default:"5" usage:"Insert retries after a unique violation"`
}

// RateLimitConfig controls the sliding window rate limiters. Every request
// counts against its client address and, when it carries one, its API key.
type RateLimitConfig struct {
	Max           int           `default:"100" usage:"Max requests per window per API key"`
	PerAddressMax int           `default:"600" usage:"Max requests per window per client address, across API keys"`
	Window        time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storeadmin/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set STORE_API_KEY_PEPPER")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.PerAddressMax <= 0 {
		return errors.Errorf("rate limit max must be positive, got %d per key and %d per address",
			c.RateLimit.Max, c.RateLimit.PerAddressMax)
	}
	if c.RateLimit.Window < time.Second {
		return errors.Errorf("rate limit window must be at least 1s, got %s", c.RateLimit.Window)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if len(c.Kafka.Brokers) == 0 {
		if v := os.Getenv("KAFKA_BROKERS"); v != "" {
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Kafka.Brokers = append(c.Kafka.Brokers, b)
				}
			}
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
