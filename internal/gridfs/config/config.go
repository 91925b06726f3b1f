package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"gridfs-store/internal/gridfs/domain/model"

	"github.com/caarlos0/env/v6"
)

const maxChunkSize = model.MaxChunkSize

// Storage backends selectable with GRIDFS_BACKEND
const (
	BackendMongoDB = "mongodb"
	BackendMemory  = "memory"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" envDefault:"0.0.0.0" json:"host"`
	Port         string        `env:"SERVER_PORT" envDefault:"8080" json:"port"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s" json:"read_timeout"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s" json:"write_timeout"`
	// RateLimit is the number of requests per minute allowed per client IP, 0 disables it
	RateLimit int `env:"SERVER_RATE_LIMIT" envDefault:"120" json:"rate_limit"`
}

// Addr returns host:port for app.Listen
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// AuthConfig configures the bearer token guard on mutating routes.
type AuthConfig struct {
	Enabled        bool          `env:"AUTH_ENABLED" envDefault:"false" json:"enabled"`
	JWTSecretKey   string        `env:"JWT_SECRET_KEY" json:"-"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"gridfs-store" json:"jwt_issuer"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m" json:"access_token_ttl"`
}

// RealtimeConfig holds configuration of the websocket file-event feed.
type RealtimeConfig struct {
	// WebSocketPath is mounted on the root app, ":bucket" selects the watched bucket.
	WebSocketPath string `env:"WEBSOCKET_PATH" envDefault:"/ws/v1/buckets/:bucket/watch" json:"websocket_path"`

	// ClientSendChannelBuffer is the number of events queued per client before it is dropped.
	ClientSendChannelBuffer int `env:"CLIENT_SEND_CHANNEL_BUFFER" envDefault:"16" json:"client_send_channel_buffer"`
}

// EventsConfig configures delivery of file events to watchers and the event log.
type EventsConfig struct {
	// Async delivers events from a background dispatcher so uploads do not wait on slow handlers
	Async      bool          `env:"EVENTBUS_ASYNC" envDefault:"false" json:"async"`
	QueueSize  int           `env:"EVENTBUS_QUEUE_SIZE" envDefault:"256" json:"queue_size"`
	MaxRetries int           `env:"EVENTBUS_MAX_RETRIES" envDefault:"3" json:"max_retries"`
	RetryDelay time.Duration `env:"EVENTBUS_RETRY_DELAY" envDefault:"100ms" json:"retry_delay"`
}

// Config holds all configuration of the GridFS service.
type Config struct {
	// Backend is "mongodb" or "memory"; the memory backend keeps nothing across restarts
	Backend                string `env:"GRIDFS_BACKEND" envDefault:"mongodb"`
	MongoDBURI             string `env:"MONGODB_URI"`
	DatabaseName           string `env:"GRIDFS_DATABASE" envDefault:"gridfs"`
	DefaultPrefix          string `env:"GRIDFS_DEFAULT_PREFIX" envDefault:"fs"`
	ChunkSize              int    `env:"GRIDFS_CHUNK_SIZE" envDefault:"261120"`
	MaxUploadSize          int64  `env:"GRIDFS_MAX_UPLOAD_SIZE" envDefault:"104857600"`
	UploadTempDir          string `env:"GRIDFS_UPLOAD_TEMP_DIR"`
	UploadPolicy           string `env:"GRIDFS_UPLOAD_POLICY"`
	EnsureIndexesOnStartup bool   `env:"GRIDFS_ENSURE_INDEXES_ON_STARTUP" envDefault:"true"`

	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
	Realtime RealtimeConfig `json:"realtime"`
	Events   EventsConfig   `json:"events"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load gridfs configuration from environment: " + err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express
func (c *Config) Validate() error {
	switch c.Backend {
	case "":
		c.Backend = BackendMongoDB
	case BackendMongoDB, BackendMemory:
	default:
		return fmt.Errorf("GRIDFS_BACKEND must be %q or %q, got %q", BackendMongoDB, BackendMemory, c.Backend)
	}
	if c.Backend == BackendMongoDB && c.MongoDBURI == "" {
		return errors.New("MONGODB_URI environment variable is not set")
	}
	if c.DatabaseName == "" {
		return errors.New("GRIDFS_DATABASE must not be empty")
	}
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("GRIDFS_CHUNK_SIZE must be between 1 and %d, got %d", maxChunkSize, c.ChunkSize)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("GRIDFS_MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if c.Auth.Enabled && c.Auth.JWTSecretKey == "" {
		return errors.New("JWT_SECRET_KEY is required when AUTH_ENABLED is set")
	}
	if c.DefaultPrefix == "" {
		c.DefaultPrefix = model.DefaultPrefix
	}
	if c.Realtime.WebSocketPath == "" {
		c.Realtime.WebSocketPath = "/ws/v1/buckets/:bucket/watch"
	}
	if c.Realtime.ClientSendChannelBuffer <= 0 {
		c.Realtime.ClientSendChannelBuffer = 16
	}
	if c.Events.QueueSize <= 0 {
		c.Events.QueueSize = 256
	}
	if c.Events.MaxRetries < 0 {
		return fmt.Errorf("EVENTBUS_MAX_RETRIES must not be negative, got %d", c.Events.MaxRetries)
	}
	return nil
}

// DefaultConfig returns a Config with default values for local development.
func DefaultConfig() *Config {
	return &Config{
		Backend:                BackendMongoDB,
		MongoDBURI:             "mongodb://localhost:27017",
		DatabaseName:           "gridfs",
		DefaultPrefix:          model.DefaultPrefix,
		ChunkSize:              model.DefaultChunkSize,
		MaxUploadSize:          100 * 1024 * 1024,
		EnsureIndexesOnStartup: true,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			RateLimit:    120,
		},
		Auth: AuthConfig{
			JWTIssuer:      "gridfs-store",
			AccessTokenTTL: 15 * time.Minute,
		},
		Redis: *DefaultRedisConfig(),
		Realtime: RealtimeConfig{
			WebSocketPath:           "/ws/v1/buckets/:bucket/watch",
			ClientSendChannelBuffer: 16,
		},
		Events: EventsConfig{
			QueueSize:  256,
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
	}
}
