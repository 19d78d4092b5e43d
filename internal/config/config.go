// Package config defines runtime defaults, validation, and the
// file/env/flag loading for the LobbyChat service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/lobbychat/internal/logging"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       logging.Config  `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds per-connection transport limits.
type WebSocketConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	RequireToken   bool          `mapstructure:"require_token"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	Secret           string        `mapstructure:"secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	Issuer           string        `mapstructure:"issuer"`
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	UnifyLoginErrors bool          `mapstructure:"unify_login_errors"`
}

// DatabaseConfig selects the store backend. DSN is used by postgres and
// mysql, Path by sqlite.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the history cache when Address is set.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Address) != ""
}

// StoreConfig bounds hub writes and shared history fetches.
type StoreConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns a Config populated with default values for all settings.
// The signing secret has no default.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 512,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			SendBuffer:     256,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   time.Hour,
			Issuer:     "lobbychat",
			BcryptCost: 10,
		},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			Path:         "lobbychat.db",
			MaxIdleConns: 2,
			MaxOpenConns: 10,
		},
		Redis: RedisConfig{
			Prefix: "lobbychat:history",
			TTL:    time.Minute,
		},
		Store: StoreConfig{
			Timeout: 5 * time.Second,
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "lobbychat",
		},
	}
}

// Sanitize replaces non-positive or empty values with defaults and
// normalises the listen port.
func (c *Config) Sanitize() {
	def := Default()

	c.Server.Port = normalizePort(c.Server.Port, def.Server.Port)
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if c.WebSocket.MaxMessageSize <= 0 {
		c.WebSocket.MaxMessageSize = def.WebSocket.MaxMessageSize
	}
	if c.WebSocket.PongWait <= 0 {
		c.WebSocket.PongWait = def.WebSocket.PongWait
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		c.WebSocket.PingInterval = c.WebSocket.PongWait * 9 / 10
	}
	if c.WebSocket.WriteWait <= 0 {
		c.WebSocket.WriteWait = def.WebSocket.WriteWait
	}
	if c.WebSocket.SendBuffer <= 0 {
		c.WebSocket.SendBuffer = def.WebSocket.SendBuffer
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = def.Auth.TokenTTL
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = def.Auth.BcryptCost
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = def.Redis.Prefix
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = def.Redis.TTL
	}

	if c.Store.Timeout <= 0 {
		c.Store.Timeout = def.Store.Timeout
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret (AUTH_SECRET) is required"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}

	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres, DriverMySQL:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %q", c.Database.Driver))
	}

	return errors.Join(errs...)
}

func normalizePort(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return fallback
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
