package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/kitchen",
		TokenPepper: "pepper",
	}
	cfg.Mongo.URL = "mongodb://localhost"
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.Stripe.SecretKey = "sk_test"
	cfg.Stripe.WebhookSecret = "whsec_test"
	cfg.RateLimit.Backend = "memory"
	return cfg
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("MONGO_URL", "mongodb://platform")
	t.Setenv("REDIS_URL", "redis://platform:6379")
	t.Setenv("NATS_URL", "nats://platform:4222")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.Redis.URL = "redis://explicit:6379"
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "mongodb://platform", cfg.Mongo.URL)
	assert.Equal(t, "redis://explicit:6379", cfg.Redis.URL)
	assert.Equal(t, "nats://platform:4222", cfg.NATS.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestApplyPlatformDefaults_KeepsCustomAddr(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg := Config{Addr: "127.0.0.1:7000"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"database", func(c *Config) { c.DatabaseURL = "" }, "database URL"},
		{"mongo", func(c *Config) { c.Mongo.URL = "" }, "mongo URL"},
		{"redis", func(c *Config) { c.Redis.URL = "" }, "redis URL"},
		{"pepper", func(c *Config) { c.TokenPepper = "" }, "token pepper"},
		{"stripe", func(c *Config) { c.Stripe.WebhookSecret = "" }, "stripe keys"},
		{"rate limit backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "rate limit backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
