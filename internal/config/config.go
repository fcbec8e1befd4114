// Package config provides configuration for the chat relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort     int `env:"HTTP_PORT" envDefault:"8080"`     // WebSocket + REST API
	InternalPort int `env:"INTERNAL_PORT" envDefault:"8081"` // /internal/send, /health
	RPCPort      int `env:"RPC_PORT"`                        // JSON-RPC push, disabled when 0

	// Database. postgres:// URLs select the Postgres store, anything else is a SQLite DSN.
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:chatrelay.db?cache=shared&mode=rwc"`

	// Inference gateway
	GatewayURL     string        `env:"GATEWAY_URL" envDefault:"http://localhost:8000/ai/chat"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
	GatewayMode    string        `env:"GATEWAY_MODE"`

	// Auth
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"change-me"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`

	// Messages
	MaxContentLength int `env:"MAX_CONTENT_LENGTH" envDefault:"1000"`

	// Object storage
	ObjectStore         string `env:"OBJECT_STORE" envDefault:"local"`
	LocalStorageDir     string `env:"LOCAL_STORAGE_DIR" envDefault:"./data/objects"`
	LocalStorageBaseURL string `env:"LOCAL_STORAGE_BASE_URL" envDefault:"http://localhost:8080/objects"`
	GCSBucket           string `env:"GCS_BUCKET"`
	GCSCredentialsFile  string `env:"GCS_CREDENTIALS_FILE"`

	// Background attachment uploads
	AttachmentWorkers   int `env:"ATTACHMENT_WORKERS" envDefault:"2"`
	AttachmentQueueSize int `env:"ATTACHMENT_QUEUE_SIZE" envDefault:"64"`

	// WebSocket settings
	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	ReadTimeout    time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load loads configuration from an optional .env file and the environment.
// Variables already present in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("parse config: GATEWAY_TIMEOUT must be positive")
	}
	if cfg.MaxContentLength <= 0 {
		return nil, fmt.Errorf("parse config: MAX_CONTENT_LENGTH must be positive")
	}
	return cfg, nil
}

// IsMockGateway reports whether the mock inference gateway is selected.
func (c *Config) IsMockGateway() bool {
	return c.GatewayMode == "MOCK"
}
