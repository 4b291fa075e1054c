package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RENTIVA_APP_ENV" required:"true"`
	Port         string `envconfig:"RENTIVA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RENTIVA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RENTIVA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RENTIVA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RENTIVA_DB_DSN"`
	Driver string `envconfig:"RENTIVA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RENTIVA_DB_HOST"`
	LegacyPort     int    `envconfig:"RENTIVA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RENTIVA_DB_USER"`
	LegacyPassword string `envconfig:"RENTIVA_DB_PASSWORD"`
	LegacyName     string `envconfig:"RENTIVA_DB_NAME"`
	LegacySSLMode  string `envconfig:"RENTIVA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RENTIVA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RENTIVA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RENTIVA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RENTIVA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RENTIVA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RENTIVA_REDIS_ADDR"`
	Password     string        `envconfig:"RENTIVA_REDIS_PASSWORD"`
	DB           int           `envconfig:"RENTIVA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RENTIVA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RENTIVA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RENTIVA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RENTIVA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RENTIVA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RENTIVA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RENTIVA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RENTIVA_JWT_EXPIRATION_MINUTES" required:"true"`
}

type StripeConfig struct {
	APIKey string `envconfig:"RENTIVA_STRIPE_API_KEY"`
	Env    string `envconfig:"RENTIVA_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// BillingConfig holds the pricing and installment-plan policy.
type BillingConfig struct {
	Currency                string `envconfig:"RENTIVA_BILLING_CURRENCY" default:"EUR"`
	TaxRate                 string `envconfig:"RENTIVA_BILLING_TAX_RATE" default:"0.21"`
	DepositRate             string `envconfig:"RENTIVA_BILLING_DEPOSIT_RATE" default:"0.20"`
	InstallmentCount        int    `envconfig:"RENTIVA_BILLING_INSTALLMENT_COUNT" default:"3"`
	InstallmentIntervalDays int    `envconfig:"RENTIVA_BILLING_INSTALLMENT_INTERVAL_DAYS" default:"30"`
	InstallmentThreshold    string `envconfig:"RENTIVA_BILLING_INSTALLMENT_THRESHOLD" default:"500"`
}

func (b BillingConfig) validate() error {
	if b.InstallmentCount < 1 {
		return fmt.Errorf("installment count must be at least 1")
	}
	if b.InstallmentIntervalDays < 1 {
		return fmt.Errorf("installment interval days must be at least 1")
	}
	for name, raw := range map[string]string{
		"tax rate":              b.TaxRate,
		"deposit rate":          b.DepositRate,
		"installment threshold": b.InstallmentThreshold,
	} {
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	return nil
}

// TaxRateDecimal returns the VAT rate as a decimal fraction.
func (b BillingConfig) TaxRateDecimal() decimal.Decimal {
	return decimal.RequireFromString(b.TaxRate)
}

// DepositRateDecimal returns the deposit rate as a decimal fraction.
func (b BillingConfig) DepositRateDecimal() decimal.Decimal {
	return decimal.RequireFromString(b.DepositRate)
}

// InstallmentThresholdDecimal returns the minimum order total that qualifies
// for an installment plan.
func (b BillingConfig) InstallmentThresholdDecimal() decimal.Decimal {
	return decimal.RequireFromString(b.InstallmentThreshold)
}

// InstallmentInterval returns the gap between consecutive due dates.
func (b BillingConfig) InstallmentInterval() time.Duration {
	return time.Duration(b.InstallmentIntervalDays) * 24 * time.Hour
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"RENTIVA_CRON_INTERVAL" default:"24h"`
	LockTTL              time.Duration `envconfig:"RENTIVA_CRON_LOCK_TTL" default:"10m"`
	ReminderWindow       time.Duration `envconfig:"RENTIVA_CRON_REMINDER_WINDOW" default:"72h"`
	PlanRetryBatchSize   int           `envconfig:"RENTIVA_CRON_PLAN_RETRY_BATCH_SIZE" default:"50"`
	MetricsListenAddress string        `envconfig:"RENTIVA_CRON_METRICS_ADDR" default:":9091"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RENTIVA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RENTIVA_AUTO_MIGRATE" default:"false"`
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
