package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/locad/locad-payments/pkg/env"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Stripe.resolveSecrets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string        `envconfig:"LOCAD_APP_ENV" required:"true"`
	Port           string        `envconfig:"LOCAD_APP_PORT" required:"true"`
	LogLevel       string        `envconfig:"LOCAD_LOG_LEVEL" default:"info"`
	LogWarnStack   bool          `envconfig:"LOCAD_LOG_WARN_STACK" default:"false"`
	LogFormat      string        `envconfig:"LOCAD_LOG_FORMAT" default:"json"`
	RequestTimeout time.Duration `envconfig:"LOCAD_REQUEST_TIMEOUT" default:"30s"`
	ShutdownGrace  time.Duration `envconfig:"LOCAD_SHUTDOWN_GRACE" default:"15s"`
	CORSOrigins    []string      `envconfig:"LOCAD_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LOCAD_DB_DSN"`
	Driver string `envconfig:"LOCAD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOCAD_DB_HOST"`
	LegacyPort     int    `envconfig:"LOCAD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOCAD_DB_USER"`
	LegacyPassword string `envconfig:"LOCAD_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOCAD_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOCAD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOCAD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOCAD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOCAD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOCAD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOCAD_REDIS_URL"`
	Address      string        `envconfig:"LOCAD_REDIS_ADDR"`
	Password     string        `envconfig:"LOCAD_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOCAD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOCAD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOCAD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOCAD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOCAD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOCAD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"LOCAD_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LOCAD_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LOCAD_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOCAD_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookDedupeTTL time.Duration `envconfig:"LOCAD_EVENTING_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LOCAD_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"LOCAD_PUBSUB_PAYMENTS_TOPIC" default:"locad-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LOCAD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LOCAD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LOCAD_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// MetricsAddr is where the publisher serves /metrics. Empty disables it.
	MetricsAddr string `envconfig:"LOCAD_OUTBOX_METRICS_ADDR" default:":9091"`
}

type RateLimitConfig struct {
	PaymentsWindow time.Duration `envconfig:"LOCAD_RATE_LIMIT_PAYMENTS_WINDOW" default:"1m"`
	PaymentsLimit  int           `envconfig:"LOCAD_RATE_LIMIT_PAYMENTS_LIMIT" default:"30"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"LOCAD_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"LOCAD_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"LOCAD_STRIPE_ENV" default:"test"`
	Currency      string `envconfig:"LOCAD_STRIPE_CURRENCY" default:"usd"`
}

// resolveSecrets fills unset Stripe keys from <VAR>_FILE mounts.
func (s *StripeConfig) resolveSecrets() error {
	targets := map[string]*string{
		EnvStripeAPIKey:        &s.APIKey,
		EnvStripeWebhookSecret: &s.WebhookSecret,
	}
	for key, dst := range targets {
		if *dst != "" {
			continue
		}
		val, err := env.Secret(key)
		if err != nil {
			return fmt.Errorf("stripe secret: %w", err)
		}
		*dst = val
	}
	return nil
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// ChargeCurrency returns the lower-cased ISO currency every intent is created in.
func (s StripeConfig) ChargeCurrency() string {
	currency := strings.TrimSpace(strings.ToLower(s.Currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
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
