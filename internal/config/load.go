package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envAliases binds the short environment names operators already use in
// addition to the automatic SECTION_KEY names.
var envAliases = map[string][]string{
	"server.port":                {"SERVER_PORT"},
	"websocket.allowed_origins":  {"ALLOWED_ORIGINS"},
	"websocket.max_message_size": {"MAX_MESSAGE_SIZE"},
	"rate_limit.burst":           {"RATE_LIMIT_BURST"},
	"rate_limit.refill_interval": {"RATE_LIMIT_REFILL_INTERVAL"},
	"auth.secret":                {"AUTH_SECRET", "JWT_SECRET"},
	"auth.token_ttl":             {"TOKEN_TTL"},
	"database.driver":            {"DATABASE_DRIVER"},
	"database.dsn":               {"DATABASE_DSN", "DATABASE_URL"},
	"redis.address":              {"REDIS_ADDRESS"},
	"redis.password":             {"REDIS_PASSWORD"},
	"log.level":                  {"LOG_LEVEL"},
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"port":            "server.port",
	"log-level":       "log.level",
	"database-driver": "database.driver",
	"database-dsn":    "database.dsn",
}

// Duration keys also accept a bare integer, read as seconds.
var durationKeys = []string{
	"server.shutdown_timeout",
	"websocket.ping_interval",
	"websocket.pong_wait",
	"websocket.write_wait",
	"rate_limit.refill_interval",
	"auth.token_ttl",
	"database.conn_max_lifetime",
	"redis.ttl",
	"store.timeout",
}

// RegisterFlags defines the flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("port", "", "listen address, e.g. :8080")
	fs.String("log-level", "", "log level: trace, debug, info, warn, error")
	fs.String("database-driver", "", "store backend: memory, sqlite, postgres, mysql")
	fs.String("database-dsn", "", "DSN for the postgres and mysql drivers")
}

// Load builds a Config from defaults, an optional YAML file, environment
// variables and the already-parsed flags in fs (fs may be nil). The result
// is sanitized and validated.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	configFile := ""
	if fs != nil {
		configFile, _ = fs.GetString("config")
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	normalizeDurations(v)
	if raw, ok := v.Get("websocket.allowed_origins").(string); ok {
		v.Set("websocket.allowed_origins", parseOrigins(raw))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil // Config file not found, rely on env vars
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func normalizeDurations(v *viper.Viper) {
	for _, key := range durationKeys {
		if seconds, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
			v.Set(key, time.Duration(seconds)*time.Second)
		}
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.require_token", d.WebSocket.RequireToken)

	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.unify_login_errors", d.Auth.UnifyLoginErrors)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("store.timeout", d.Store.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}
