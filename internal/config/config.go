// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
	StoreNATS   = "nats"
	StoreMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `env:"PORT" envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`

	// Upstream NL-to-SQL service
	UpstreamBaseURL      string        `env:"VANNA_API_BASE_URL" envDefault:"http://localhost:8000"`
	UpstreamServiceName  string        `env:"UPSTREAM_SERVICE_NAME" envDefault:"Vanna AI"`
	UpstreamProbeTimeout time.Duration `env:"UPSTREAM_PROBE_TIMEOUT" envDefault:"5s"`
	UpstreamQueryTimeout time.Duration `env:"UPSTREAM_QUERY_TIMEOUT" envDefault:"30s"`

	// Conversation
	InlineRows int    `env:"CHAT_INLINE_ROWS" envDefault:"50"`
	StorageKey string `env:"CHAT_STORAGE_KEY" envDefault:"flowbit.chat-with-data.v1"`

	// Persistence
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"bolt"`
	BoltPath      string `env:"BOLT_PATH" envDefault:"./data/chat.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// NATS settings
	NATSURL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSCAFile        string `env:"NATS_CA_FILE"`
	NATSCertFile      string `env:"NATS_CERT_FILE"`
	NATSKeyFile       string `env:"NATS_KEY_FILE"`
	NATSToken         string `env:"NATS_TOKEN"`
	NATSKVBucket      string `env:"NATS_KV_BUCKET" envDefault:"CHAT_HISTORY"`
	NATSEventsEnabled bool   `env:"NATS_EVENTS_ENABLED" envDefault:"false"`

	// JWT settings (auth is off when the secret is empty)
	JWTSecret string `env:"JWT_SECRET"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://*,http://*"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// LLM settings for the SQL explanation action
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	ExplainModel    string `env:"EXPLAIN_MODEL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBolt, StoreRedis, StoreNATS, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("VANNA_API_BASE_URL must not be empty")
	}
	if c.StorageKey == "" {
		return fmt.Errorf("CHAT_STORAGE_KEY must not be empty")
	}
	if c.UpstreamProbeTimeout <= 0 || c.UpstreamQueryTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}
	if c.InlineRows < 0 {
		return fmt.Errorf("CHAT_INLINE_ROWS must not be negative")
	}
	return nil
}
