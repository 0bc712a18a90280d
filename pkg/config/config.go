package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Webhooks      WebhooksConfig
	Stripe        StripeConfig
	Sendgrid      SendgridConfig
	SMTP          SMTPConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	Scheduler     SchedulerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SAFETRANSIT_APP_ENV" required:"true"`
	Port         string `envconfig:"SAFETRANSIT_APP_PORT" default:"3000"`
	LogLevel     string `envconfig:"SAFETRANSIT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SAFETRANSIT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SAFETRANSIT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SAFETRANSIT_SERVICE_KIND" default:"api"`
}

type HTTPConfig struct {
	AllowedOrigins  []string      `envconfig:"SAFETRANSIT_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	RateLimitWindow time.Duration `envconfig:"SAFETRANSIT_RATE_LIMIT_WINDOW" default:"15m"`
	RateLimitMax    int           `envconfig:"SAFETRANSIT_RATE_LIMIT_MAX" default:"100"`
	ShutdownTimeout time.Duration `envconfig:"SAFETRANSIT_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DBConfig struct {
	DSN    string `envconfig:"SAFETRANSIT_DB_DSN"`
	Driver string `envconfig:"SAFETRANSIT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"SAFETRANSIT_DB_HOST"`
	Port     int    `envconfig:"SAFETRANSIT_DB_PORT" default:"5432"`
	User     string `envconfig:"SAFETRANSIT_DB_USER"`
	Password string `envconfig:"SAFETRANSIT_DB_PASSWORD"`
	Name     string `envconfig:"SAFETRANSIT_DB_NAME"`
	SSLMode  string `envconfig:"SAFETRANSIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SAFETRANSIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SAFETRANSIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SAFETRANSIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SAFETRANSIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"SAFETRANSIT_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SAFETRANSIT_REDIS_URL"`
	Address      string        `envconfig:"SAFETRANSIT_REDIS_ADDR"`
	Password     string        `envconfig:"SAFETRANSIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SAFETRANSIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SAFETRANSIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SAFETRANSIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SAFETRANSIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SAFETRANSIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SAFETRANSIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"SAFETRANSIT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SAFETRANSIT_JWT_ISSUER" default:"safetransit"`
	ExpirationMinutes int    `envconfig:"SAFETRANSIT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate    bool `envconfig:"SAFETRANSIT_AUTO_MIGRATE" default:"false"`
	EmbedScheduler bool `envconfig:"SAFETRANSIT_EMBED_SCHEDULER" default:"true"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SAFETRANSIT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	ProcessingTTL  time.Duration `envconfig:"SAFETRANSIT_WEBHOOK_PROCESSING_TTL" default:"2m"`
}

type StripeConfig struct {
	APIKey   string `envconfig:"SAFETRANSIT_STRIPE_API_KEY"`
	Secret   string `envconfig:"SAFETRANSIT_STRIPE_SECRET"`
	Env      string `envconfig:"SAFETRANSIT_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"SAFETRANSIT_STRIPE_CURRENCY" default:"usd"`
	// SignatureTolerance bounds how old a signed webhook timestamp may be.
	SignatureTolerance time.Duration `envconfig:"SAFETRANSIT_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"SAFETRANSIT_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"SAFETRANSIT_SENDGRID_FROM_EMAIL"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SAFETRANSIT_SMTP_HOST"`
	Port     int    `envconfig:"SAFETRANSIT_SMTP_PORT" default:"587"`
	Username string `envconfig:"SAFETRANSIT_SMTP_USER"`
	Password string `envconfig:"SAFETRANSIT_SMTP_PASS"`
	From     string `envconfig:"SAFETRANSIT_SMTP_FROM"`
	Secure   bool   `envconfig:"SAFETRANSIT_SMTP_SECURE" default:"false"`
}

type PaymentsConfig struct {
	// Gateway selects the payment integration: "stripe" or "local".
	Gateway               string        `envconfig:"SAFETRANSIT_PAYMENT_GATEWAY" default:"local"`
	Timeout               time.Duration `envconfig:"SAFETRANSIT_PAYMENT_TIMEOUT" default:"10s"`
	BreakerMaxRequests    uint32        `envconfig:"SAFETRANSIT_PAYMENT_BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval       time.Duration `envconfig:"SAFETRANSIT_PAYMENT_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout        time.Duration `envconfig:"SAFETRANSIT_PAYMENT_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailureTrigger uint32        `envconfig:"SAFETRANSIT_PAYMENT_BREAKER_FAILURES" default:"5"`
}

func (p PaymentsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Gateway)) {
	case PaymentGatewayStripe, PaymentGatewayLocal:
		return nil
	}
	return fmt.Errorf("%s must be %q or %q", EnvPaymentGateway, PaymentGatewayStripe, PaymentGatewayLocal)
}

type NotificationsConfig struct {
	// Transport selects delivery: "sendgrid", "smtp" or "log".
	Transport   string        `envconfig:"SAFETRANSIT_NOTIFICATION_TRANSPORT" default:"log"`
	PacingDelay time.Duration `envconfig:"SAFETRANSIT_NOTIFICATION_PACING" default:"1s"`
	Retention   time.Duration `envconfig:"SAFETRANSIT_NOTIFICATION_RETENTION" default:"720h"`
}

type SchedulerConfig struct {
	ExpiredCron        string        `envconfig:"SAFETRANSIT_SCHEDULER_EXPIRED_CRON" default:"* * * * *"`
	ExpiringSoonCron   string        `envconfig:"SAFETRANSIT_SCHEDULER_EXPIRING_SOON_CRON" default:"*/15 * * * *"`
	CleanupCron        string        `envconfig:"SAFETRANSIT_SCHEDULER_CLEANUP_CRON" default:"0 2 * * *"`
	ExpiringSoonWindow time.Duration `envconfig:"SAFETRANSIT_SCHEDULER_EXPIRING_SOON_WINDOW" default:"1h"`
	SuppressionWindow  time.Duration `envconfig:"SAFETRANSIT_SCHEDULER_SUPPRESSION_WINDOW" default:"2h"`
	LockTTL            time.Duration `envconfig:"SAFETRANSIT_SCHEDULER_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:safetransit.db?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
