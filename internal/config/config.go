// Package config loads client configuration from .env, a yaml file and the environment.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"devchat/client/internal/logging"
)

type Config struct {
	Backend   BackendConfig
	Transport TransportConfig
	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Log       logging.Config
	Locale    string
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SocketURL      string        `mapstructure:"socket_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Email          string
	Password       string
	// Token reuses an existing session instead of logging in.
	Token string
}

type TransportConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

type SessionConfig struct {
	OutboxSize   int  `mapstructure:"outbox_size"`
	RejoinOnDrop bool `mapstructure:"rejoin_on_drop"`
}

// RedisConfig configures the profile cache. An empty address disables it.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
	Prefix     string
}

// DatabaseConfig configures the session journal. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string
}

type ServerConfig struct {
	Host         string
	Port         int
	BridgeSecret string        `mapstructure:"bridge_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// Load reads .env (if present), then configPath/config.yaml (if present), then
// the environment. Later sources win.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger := logging.L()
		logger.Debug().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if cfg.Backend.SocketURL == "" {
		cfg.Backend.SocketURL = cfg.Backend.BaseURL
	}
	return &cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Transport.SendBuffer < 1 {
		return errors.Errorf("transport.send_buffer must be positive, got %d", c.Transport.SendBuffer)
	}
	if c.Session.OutboxSize < 0 {
		return errors.Errorf("session.outbox_size must not be negative, got %d", c.Session.OutboxSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", DefaultBaseURL)
	v.SetDefault("backend.socket_url", "")
	v.SetDefault("backend.request_timeout", DefaultRequestTimeout)
	v.SetDefault("backend.token", "")
	v.SetDefault("transport.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("transport.max_elapsed", DefaultMaxElapsed)
	v.SetDefault("transport.initial_interval", DefaultInitialInterval)
	v.SetDefault("transport.write_wait", DefaultWriteWait)
	v.SetDefault("transport.pong_wait", DefaultPongWait)
	v.SetDefault("transport.max_message_size", DefaultMaxMessageSize)
	v.SetDefault("transport.send_buffer", DefaultSendBuffer)
	v.SetDefault("session.outbox_size", DefaultOutboxSize)
	v.SetDefault("session.rejoin_on_drop", false)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.profile_ttl", DefaultProfileTTL)
	v.SetDefault("redis.prefix", DefaultProfilePrefix)
	v.SetDefault("database.dsn", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.token_ttl", DefaultBridgeTokenTTL)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "devchat")
	v.SetDefault("locale", "en")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("backend.base_url", "BACKEND_URL")
	_ = v.BindEnv("backend.socket_url", "SOCKET_URL")
	_ = v.BindEnv("backend.email", "CHAT_EMAIL")
	_ = v.BindEnv("backend.password", "CHAT_PASSWORD")
	_ = v.BindEnv("backend.token", "CHAT_TOKEN")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.bridge_secret", "BRIDGE_SECRET")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("locale", "CHAT_LOCALE")
}
