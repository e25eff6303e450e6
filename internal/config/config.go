package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Log      LogConfig
	Store    StoreConfig
	Security SecurityConfig
	Session  SessionConfig
	Sync     SyncConfig
	Upload   UploadConfig
	API      APIConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type StoreConfig struct {
	Driver        string // sqlite | postgres | pebble | redis
	DSN           string
	Path          string
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type SecurityConfig struct {
	EncryptKey string   `mapstructure:"encrypt_key"`
	LegacyKeys []string `mapstructure:"legacy_keys"`
}

type SessionConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	APIURL         string        `mapstructure:"api_url"`
	Token          string        `mapstructure:"token"`
	Phone          string        `mapstructure:"phone"`
	MinBackoff     time.Duration `mapstructure:"min_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
}

type SyncConfig struct {
	FlushCron     string  `mapstructure:"flush_cron"`
	DeliveryRate  float64 `mapstructure:"delivery_rate"`
	DeliveryBurst int     `mapstructure:"delivery_burst"`
}

type UploadConfig struct {
	Driver string // http | s3 | none
	S3     S3Config
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UsePathStyle    bool          `mapstructure:"use_path_style"`
	URLExpiry       time.Duration `mapstructure:"url_expiry"`
}

type APIConfig struct {
	Host        string
	Port        int
	Token       string
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Load reads .env, then config.yaml from configPath (or . and ./config),
// then ZCHAT_* environment variables, applies defaults and validates.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ZCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "zchat-client")
	v.SetDefault("app.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "zchat.db")
	v.SetDefault("store.path", "data/pebble")
	v.SetDefault("store.redis_address", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "zchat:")

	v.SetDefault("security.encrypt_key", "")
	v.SetDefault("security.legacy_keys", []string{})

	v.SetDefault("session.server_url", "ws://localhost:8000/ws")
	v.SetDefault("session.api_url", "http://localhost:8000")
	v.SetDefault("session.token", "")
	v.SetDefault("session.phone", "")
	v.SetDefault("session.min_backoff", "1s")
	v.SetDefault("session.max_backoff", "30s")
	v.SetDefault("session.ping_interval", "30s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.write_wait", "10s")
	v.SetDefault("session.max_message_size", 64*1024)
	v.SetDefault("session.ack_timeout", "10s")

	v.SetDefault("sync.flush_cron", "*/5 * * * *")
	v.SetDefault("sync.delivery_rate", 0)
	v.SetDefault("sync.delivery_burst", 1)

	v.SetDefault("upload.driver", "http")
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.s3.region", "us-east-1")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.use_path_style", false)
	v.SetDefault("upload.s3.url_expiry", "168h")

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8790)
	v.SetDefault("api.token", "")
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
}

// Validate checks option combinations that would only fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "pebble", "redis":
	default:
		return fmt.Errorf("store.driver must be sqlite, postgres, pebble or redis, got %q", c.Store.Driver)
	}
	switch c.Upload.Driver {
	case "http", "none":
	case "s3":
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3.bucket is required when upload.driver is s3")
		}
	default:
		return fmt.Errorf("upload.driver must be http, s3 or none, got %q", c.Upload.Driver)
	}
	if c.Session.MinBackoff <= 0 {
		return fmt.Errorf("session.min_backoff must be positive")
	}
	if c.Session.MaxBackoff < c.Session.MinBackoff {
		return fmt.Errorf("session.max_backoff (%s) is below session.min_backoff (%s)", c.Session.MaxBackoff, c.Session.MinBackoff)
	}
	if c.Sync.FlushCron != "" && !gronx.IsValid(c.Sync.FlushCron) {
		return fmt.Errorf("sync.flush_cron is not a valid cron expression: %q", c.Sync.FlushCron)
	}
	if c.Sync.DeliveryRate < 0 {
		return fmt.Errorf("sync.delivery_rate must not be negative")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development" || c.App.Env == "dev"
}

// APIAddr is the listen address of the local control API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
