package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Orders       OrdersConfig
	Sweeper      SweeperConfig
	PayPal       PayPalConfig
	Currency     CurrencyConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// Local development shortcut: flip the driver without rewriting DSN vars.
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STAGEPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"STAGEPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STAGEPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STAGEPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STAGEPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STAGEPASS_DB_DSN"`
	Driver string `envconfig:"STAGEPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STAGEPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"STAGEPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STAGEPASS_DB_USER"`
	LegacyPassword string `envconfig:"STAGEPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"STAGEPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"STAGEPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STAGEPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STAGEPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STAGEPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STAGEPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STAGEPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STAGEPASS_REDIS_ADDR"`
	Password     string        `envconfig:"STAGEPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"STAGEPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STAGEPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STAGEPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STAGEPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STAGEPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STAGEPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STAGEPASS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STAGEPASS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STAGEPASS_JWT_EXPIRATION_MINUTES" required:"true"`
}

// OrdersConfig carries the two reservation TTLs: a short hold created at
// reservation time, extended once a payment intent exists.
type OrdersConfig struct {
	ReservationTTL time.Duration `envconfig:"STAGEPASS_ORDERS_RESERVATION_TTL" default:"15m"`
	PaymentTTL     time.Duration `envconfig:"STAGEPASS_ORDERS_PAYMENT_TTL" default:"2h"`
}

type SweeperConfig struct {
	Interval          time.Duration `envconfig:"STAGEPASS_SWEEPER_INTERVAL" default:"5m"`
	LockTTL           time.Duration `envconfig:"STAGEPASS_SWEEPER_LOCK_TTL" default:"10m"`
	HeartbeatInterval time.Duration `envconfig:"STAGEPASS_SWEEPER_HEARTBEAT_INTERVAL" default:"24h"`
}

type PayPalConfig struct {
	BaseURL            string         `envconfig:"STAGEPASS_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	ClientID           string         `envconfig:"STAGEPASS_PAYPAL_CLIENT_ID"`
	ClientSecret       string         `envconfig:"STAGEPASS_PAYPAL_CLIENT_SECRET"`
	WebhookID          string         `envconfig:"STAGEPASS_PAYPAL_WEBHOOK_ID"`
	SettlementCurrency enums.Currency `envconfig:"STAGEPASS_PAYPAL_SETTLEMENT_CURRENCY" default:"USD"`
	RequestTimeout     time.Duration  `envconfig:"STAGEPASS_PAYPAL_REQUEST_TIMEOUT" default:"15s"`
}

type CurrencyConfig struct {
	RatesURL string        `envconfig:"STAGEPASS_CURRENCY_RATES_URL" default:"https://api.exchangerate.host"`
	CacheTTL time.Duration `envconfig:"STAGEPASS_CURRENCY_CACHE_TTL" default:"1h"`
	Timeout  time.Duration `envconfig:"STAGEPASS_CURRENCY_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STAGEPASS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"STAGEPASS_PUBSUB_ORDERS_TOPIC" default:"sp-order-events"`
	NotificationTopic string `envconfig:"STAGEPASS_PUBSUB_NOTIFICATION_TOPIC" default:"sp-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STAGEPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STAGEPASS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STAGEPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STAGEPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STAGEPASS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
