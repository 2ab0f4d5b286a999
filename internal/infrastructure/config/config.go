package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"PORT,      default=3001"`
	Env      string `env:"ENV,       default=development" validate:"oneof=development staging production test"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Discord  DiscordConfig
	Backend  BackendConfig
	Sync     SyncConfig
	Notify   NotifyConfig
	Security SecurityConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type DiscordConfig struct {
	Token            string `env:"DISCORD_BOT_TOKEN"          validate:"required"`
	GuildID          string `env:"DISCORD_GUILD_ID"           validate:"required,numeric"`
	SubscribedRoleID string `env:"DISCORD_SUBSCRIBED_ROLE_ID" validate:"required,numeric"`
}

type BackendConfig struct {
	URL     string        `env:"BACKEND_API_URL,   default=http://localhost:3000" validate:"required,url"`
	Token   string        `env:"BACKEND_API_TOKEN"                                validate:"required,min=32"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT,   default=10s"                   validate:"gt=0"`
}

type SyncConfig struct {
	Schedule     string        `env:"DAILY_SYNC_SCHEDULE, default=59 23 * * *" validate:"required"`
	Timezone     string        `env:"SYNC_TIMEZONE,       default=UTC"`
	OnStartup    bool          `env:"SYNC_ON_STARTUP,     default=true"`
	Concurrency  int           `env:"SYNC_CONCURRENCY,    default=8"   validate:"gte=1,lte=64"`
	UserTimeout  time.Duration `env:"SYNC_USER_TIMEOUT,   default=15s" validate:"gte=0"`
	QueueWorkers int           `env:"QUEUE_WORKERS,       default=4"   validate:"gte=1"`
	LockTTL      time.Duration `env:"SYNC_LOCK_TTL,       default=30m" validate:"gt=0"`
}

type NotifyConfig struct {
	GracePeriodDays int           `env:"GRACE_PERIOD_DAYS,       default=7"    validate:"gte=1"`
	GraceDMEnabled  bool          `env:"GRACE_PERIOD_DM_ENABLED, default=true"`
	CheckoutURL     string        `env:"CHECKOUT_URL,            default=https://triboar.guild/checkout/" validate:"url"`
	MembershipName  string        `env:"MEMBERSHIP_NAME,         default=Triboar Guildhall"`
	TemplatesPath   string        `env:"TEMPLATES_PATH"`
	DedupTTL        time.Duration `env:"NOTIFY_DEDUP_TTL,        default=36h"  validate:"gte=0"`
}

type SecurityConfig struct {
	WebhookSecret  string `env:"WEBHOOK_SECRET"   validate:"required,min=16"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET" validate:"required,min=16"`
}

// MongoConfig is optional: an empty URI disables run history.
type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DB, default=guild_sync"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

// Location returns the time zone the sync schedule is evaluated in.
func (c SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: SYNC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads an optional .env file, then the environment, and validates the result.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom processes configuration from l without touching .env files.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	if _, err := cfg.Sync.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
