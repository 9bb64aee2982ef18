package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config aggregates runtime configuration for the client core.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Session  SessionConfig  `mapstructure:"session"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Push     PushConfig     `mapstructure:"push"`
	SNS      SNSConfig      `mapstructure:"sns"`
}

// AppConfig describes the running install.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	Platform string `mapstructure:"platform"`
}

// BridgeConfig controls the local HTTP bridge used by the native shell.
type BridgeConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BackendConfig points at the REST backend.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects and tunes the persistent key-value store.
type StorageConfig struct {
	Driver               string        `mapstructure:"driver"`
	EncryptionKey        string        `mapstructure:"encryption_key"`
	ScopeByAddress       bool          `mapstructure:"scope_by_address"`
	AddressLookupURL     string        `mapstructure:"address_lookup_url"`
	AddressLookupTimeout time.Duration `mapstructure:"address_lookup_timeout"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	RunMigrations  bool   `mapstructure:"run_migrations"`
	ConnMaxIdleSec int32  `mapstructure:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `mapstructure:"conn_max_life_seconds"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// SessionConfig tunes the token lifecycle monitor.
type SessionConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
}

// DeliveryConfig tunes push delivery and the local notification channel.
type DeliveryConfig struct {
	BackgroundBudget  time.Duration `mapstructure:"background_budget"`
	NavigationWait    time.Duration `mapstructure:"navigation_wait"`
	DedupCapacity     int           `mapstructure:"dedup_capacity"`
	DedupTTL          time.Duration `mapstructure:"dedup_ttl"`
	ChannelID         string        `mapstructure:"channel_id"`
	ChannelName       string        `mapstructure:"channel_name"`
	ChannelImportance string        `mapstructure:"channel_importance"`
	ChannelSound      string        `mapstructure:"channel_sound"`
}

// PushConfig selects how notifications reach the device and how pushes arrive.
type PushConfig struct {
	Presenter     string `mapstructure:"presenter"`
	OutboxStream  string `mapstructure:"outbox_stream"`
	InboundStream string `mapstructure:"inbound_stream"`
	Group         string `mapstructure:"group"`
	Consumer      string `mapstructure:"consumer"`
}

// SNSConfig configures the SNS presenter.
type SNSConfig struct {
	Region      string `mapstructure:"region"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Load reads configuration from .env, an optional marshal.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("marshal")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marshal-client")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.platform", PlatformAndroid)

	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", "8787")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.request_timeout", "15s")

	v.SetDefault("backend.base_url", "http://localhost:3000")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("storage.scope_by_address", false)
	v.SetDefault("storage.address_lookup_url", "https://api.ipify.org?format=json")
	v.SetDefault("storage.address_lookup_timeout", "3s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.run_migrations", true)
	v.SetDefault("postgres.conn_max_idle_seconds", 30)
	v.SetDefault("postgres.conn_max_life_seconds", 300)

	v.SetDefault("logger.level", "info")

	v.SetDefault("session.check_interval", "60s")
	v.SetDefault("session.refresh_threshold", "10m")

	v.SetDefault("delivery.background_budget", "25s")
	v.SetDefault("delivery.navigation_wait", "5s")
	v.SetDefault("delivery.dedup_capacity", 256)
	v.SetDefault("delivery.dedup_ttl", "72h")
	v.SetDefault("delivery.channel_id", "marshal-default")
	v.SetDefault("delivery.channel_name", "Marshal notifications")
	v.SetDefault("delivery.channel_importance", "high")
	v.SetDefault("delivery.channel_sound", "default")

	v.SetDefault("push.presenter", PresenterLog)
	v.SetDefault("push.outbox_stream", "shell:commands")
	v.SetDefault("push.inbound_stream", "push:inbound")
	v.SetDefault("push.group", "marshal-core")
	v.SetDefault("push.consumer", "core-1")

	v.SetDefault("sns.region", "eu-central-1")
	v.SetDefault("sns.topic_prefix", "marshal")
}

// Supported values for the enumerated settings.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"

	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"

	PresenterLog    = "log"
	PresenterStream = "stream"
	PresenterSNS    = "sns"
)

// Validate checks enumerations and derived values.
func (c *Config) Validate() error {
	switch c.App.Platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
	default:
		return fmt.Errorf("app.platform %q not supported", c.App.Platform)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}
	switch c.Push.Presenter {
	case PresenterLog, PresenterSNS:
	case PresenterStream:
		if c.Push.OutboxStream == "" {
			return errors.New("push.outbox_stream is required for the stream presenter")
		}
	default:
		return fmt.Errorf("push.presenter %q not supported", c.Push.Presenter)
	}
	if c.Storage.EncryptionKey != "" {
		if _, err := c.Storage.EncryptionKeyBytes(); err != nil {
			return err
		}
	}
	if c.Session.CheckInterval <= 0 {
		return errors.New("session.check_interval must be positive")
	}
	if c.Session.RefreshThreshold <= 0 {
		return errors.New("session.refresh_threshold must be positive")
	}
	if c.Delivery.DedupCapacity <= 0 {
		return errors.New("delivery.dedup_capacity must be positive")
	}
	return nil
}

// Addr returns the bridge bind address.
func (b BridgeConfig) Addr() string {
	return fmt.Sprintf("%s:%s", b.Host, b.Port)
}

// EncryptionKeyBytes decodes the hex session encryption key (32 bytes).
func (s StorageConfig) EncryptionKeyBytes() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("storage.encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("storage.encryption_key must be 32 bytes (64 hex chars), got %d", len(key))
	}
	return key, nil
}

// UsesRedis reports whether any configured component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Driver == StorageRedis || c.Push.Presenter == PresenterStream
}
