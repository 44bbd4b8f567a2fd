package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/cloud-kitchen/internal/stripegw"
)

// Config holds the complete application configuration, loadable from
// environment variables (KITCHEN_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL for the catalog and sessions (KITCHEN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	TokenPepper  string `usage:"HMAC pepper for session token hashing (KITCHEN_TOKEN_PEPPER)" flag:"token-pepper"`
	Mongo        MongoConfig
	Redis        RedisConfig
	NATS         NATSConfig
	Stripe       stripegw.Config
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// MongoConfig locates the order and address book database.
type MongoConfig struct {
	URL      string `usage:"MongoDB connection URI (KITCHEN_MONGO_URL or MONGO_URL)" flag:"mongo-url"`
	Database string `default:"kitchen" usage:"MongoDB database name" flag:"mongo-database"`
}

// RedisConfig locates the cart and checkout session store.
type RedisConfig struct {
	URL        string        `usage:"Redis URL (KITCHEN_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	KeyPrefix  string        `default:"kitchen:" usage:"Prefix for every Redis key"`
	SessionTTL time.Duration `default:"168h" usage:"Idle lifetime of a cart and checkout session" flag:"session-ttl"`
}

// NATSConfig controls order event publishing. Publishing is disabled when
// URL is empty.
type NATSConfig struct {
	URL           string `usage:"NATS server URL (KITCHEN_NATS_URL or NATS_URL)" flag:"nats-url"`
	SubjectPrefix string `default:"kitchen.orders" usage:"Subject prefix for order events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max     int           `default:"100" usage:"Max requests per window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Backend string        `default:"memory" usage:"Counter store: memory or redis" flag:"rate-limit-backend"`
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
		EnvPrefix: "KITCHEN",
		Files:     []string{"config.yaml", "/etc/kitchen/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KITCHEN_DATABASE_URL or DATABASE_URL")
	case c.Mongo.URL == "":
		return errors.New("mongo URL is required: set KITCHEN_MONGO_URL or MONGO_URL")
	case c.Redis.URL == "":
		return errors.New("redis URL is required: set KITCHEN_REDIS_URL or REDIS_URL")
	case c.TokenPepper == "":
		return errors.New("token pepper is required: set KITCHEN_TOKEN_PEPPER")
	case c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "":
		return errors.New("stripe keys are required: set KITCHEN_STRIPE_SECRET_KEY and KITCHEN_STRIPE_WEBHOOK_SECRET")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return errors.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KITCHEN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Mongo.URL, "MONGO_URL")
	fallback(&c.Redis.URL, "REDIS_URL")
	fallback(&c.NATS.URL, "NATS_URL")

	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
