package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Invoices     InvoicesConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HOUSING_APP_ENV" required:"true"`
	Port         string `envconfig:"HOUSING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"HOUSING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HOUSING_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow-list for browser clients.
	CORSOrigins []string `envconfig:"HOUSING_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"HOUSING_DB_DSN"`
	Driver string `envconfig:"HOUSING_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"HOUSING_DB_HOST"`
	Port     int    `envconfig:"HOUSING_DB_PORT" default:"5432"`
	User     string `envconfig:"HOUSING_DB_USER"`
	Password string `envconfig:"HOUSING_DB_PASSWORD"`
	Name     string `envconfig:"HOUSING_DB_NAME"`
	SSLMode  string `envconfig:"HOUSING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HOUSING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HOUSING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HOUSING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HOUSING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the embedded sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"HOUSING_REDIS_URL"`
	Address      string        `envconfig:"HOUSING_REDIS_ADDR"`
	Password     string        `envconfig:"HOUSING_REDIS_PASSWORD"`
	DB           int           `envconfig:"HOUSING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HOUSING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HOUSING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HOUSING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HOUSING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HOUSING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"HOUSING_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HOUSING_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HOUSING_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"HOUSING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"HOUSING_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL  time.Duration `envconfig:"HOUSING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	ConsumerIdempotencyTTL time.Duration `envconfig:"HOUSING_CONSUMER_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"HOUSING_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"HOUSING_GCP_CREDENTIALS_JSON"`
}

type GCSConfig struct {
	BucketName     string `envconfig:"HOUSING_GCS_BUCKET_NAME"`
	DocumentPrefix string `envconfig:"HOUSING_GCS_DOCUMENT_PREFIX" default:"tenants"`
}

type PubSubConfig struct {
	InvoiceTopic        string `envconfig:"HOUSING_PUBSUB_INVOICE_TOPIC" default:"housing-invoice-events"`
	InvoiceSubscription string `envconfig:"HOUSING_PUBSUB_INVOICE_SUBSCRIPTION" default:"housing-invoice-renderer"`
	NotificationTopic   string `envconfig:"HOUSING_PUBSUB_NOTIFICATION_TOPIC" default:"housing-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"HOUSING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"HOUSING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"HOUSING_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"HOUSING_CRON_INTERVAL" default:"15m"`
	LockTTL         time.Duration `envconfig:"HOUSING_CRON_LOCK_TTL" default:"10m"`
	ReconcileLimit  int           `envconfig:"HOUSING_CRON_RECONCILE_LIMIT" default:"250"`
	DriftAuditLimit int           `envconfig:"HOUSING_CRON_DRIFT_AUDIT_LIMIT" default:"500"`
	OutboxRetention int           `envconfig:"HOUSING_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type StripeConfig struct {
	APIKey              string        `envconfig:"HOUSING_STRIPE_API_KEY"`
	PublishableKey      string        `envconfig:"HOUSING_STRIPE_PUBLISHABLE_KEY"`
	Secret              string        `envconfig:"HOUSING_STRIPE_SECRET"`
	AccountSecret       string        `envconfig:"HOUSING_STRIPE_ACCOUNT_SECRET"`
	Env                 string        `envconfig:"HOUSING_STRIPE_ENV" default:"test"`
	RequestTimeout      time.Duration `envconfig:"HOUSING_STRIPE_REQUEST_TIMEOUT" default:"20s"`
	SignatureTolerance  time.Duration `envconfig:"HOUSING_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
	InvoiceDaysUntilDue int64         `envconfig:"HOUSING_STRIPE_INVOICE_DAYS_UNTIL_DUE" default:"14"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	// StrictCredit rejects deductions that would overdraw a tenant balance.
	StrictCredit    bool   `envconfig:"HOUSING_BILLING_STRICT_CREDIT" default:"false"`
	DefaultCurrency string `envconfig:"HOUSING_BILLING_DEFAULT_CURRENCY" default:"eur"`
}

type InvoicesConfig struct {
	FanOutLimit int    `envconfig:"HOUSING_INVOICES_FANOUT_LIMIT" default:"8"`
	IssuerName  string `envconfig:"HOUSING_INVOICES_ISSUER_NAME" default:"Housing Co."`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:housing.db?cache=shared"
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
