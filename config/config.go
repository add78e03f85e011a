// Package config loads runtime settings from LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

const EnvPrefix = "LEDGER"

const (
	EnvAppEnv      = "LEDGER_APP_ENV"
	EnvPort        = "LEDGER_APP_PORT"
	EnvLogLevel    = "LEDGER_LOG_LEVEL"
	EnvDBDriver    = "LEDGER_DB_DRIVER"
	EnvDBPath      = "LEDGER_DB_PATH"
	EnvDBDSN       = "LEDGER_DB_DSN"
	EnvAuditMode   = "LEDGER_AUDIT_MODE"
	EnvPolicy      = "LEDGER_OPENING_POLICY"
	EnvRedisAddr   = "LEDGER_REDIS_ADDR"
	EnvGCPProject  = "LEDGER_GCP_PROJECT_ID"
	EnvBQDataset   = "LEDGER_BIGQUERY_DATASET"
	EnvCronEnabled = "LEDGER_CRON_ENABLED"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Store drivers.
const (
	DriverMemory     = "memory"
	DriverSQLite     = "sqlite"      // database/sql on go-sqlite3
	DriverGormSQLite = "gorm-sqlite" // gorm on the sqlite driver
	DriverPostgres   = "postgres"    // gorm on pgx
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Ledger   LedgerConfig
	Cron     CronConfig
	Redis    RedisConfig
	BigQuery BigQueryConfig
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env             string   `envconfig:"LEDGER_APP_ENV" default:"dev"`
	Port            string   `envconfig:"LEDGER_APP_PORT" default:"8080"`
	LogLevel        string   `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat       string   `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack    bool     `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
	AllowedOrigins  []string `envconfig:"LEDGER_CORS_ORIGINS"`
	MetricsEnabled  bool     `envconfig:"LEDGER_METRICS_ENABLED" default:"true"`
	EnableScenarios bool     `envconfig:"LEDGER_ENABLE_SCENARIOS" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver string `envconfig:"LEDGER_DB_DRIVER" default:"sqlite"`
	Path   string `envconfig:"LEDGER_DB_PATH" default:"ledger.db"`
	DSN    string `envconfig:"LEDGER_DB_DSN"`

	MaxOpenConns    int           `envconfig:"LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
}

type LedgerConfig struct {
	AuditMode              string `envconfig:"LEDGER_AUDIT_MODE" default:"coupled"`
	MaxRetries             int    `envconfig:"LEDGER_MAX_RETRIES" default:"5"`
	OpeningPolicy          string `envconfig:"LEDGER_OPENING_POLICY" default:"latest_prior"`
	AggregationConcurrency int    `envconfig:"LEDGER_AGGREGATION_CONCURRENCY" default:"4"`
	LowStockThreshold      int64  `envconfig:"LEDGER_LOW_STOCK_THRESHOLD" default:"10"`
}

type CronConfig struct {
	Enabled  bool          `envconfig:"LEDGER_CRON_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"LEDGER_CRON_INTERVAL" default:"1h"`
	LockKey  string        `envconfig:"LEDGER_CRON_LOCK_KEY" default:"ledger:cron:lock"`
	LockTTL  time.Duration `envconfig:"LEDGER_CRON_LOCK_TTL"` // zero derives it from Interval
}

type RedisConfig struct {
	Address  string `envconfig:"LEDGER_REDIS_ADDR"`
	Password string `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB       int    `envconfig:"LEDGER_REDIS_DB" default:"0"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Address) != "" }

type BigQueryConfig struct {
	ProjectID       string `envconfig:"LEDGER_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"LEDGER_GCP_CREDENTIALS_FILE"`
	Dataset         string `envconfig:"LEDGER_BIGQUERY_DATASET"`
	Table           string `envconfig:"LEDGER_BIGQUERY_TABLE" default:"daily_snapshots"`
	CreateTable     bool   `envconfig:"LEDGER_BIGQUERY_CREATE_TABLE" default:"false"`
	BatchSize       int    `envconfig:"LEDGER_BIGQUERY_BATCH_SIZE" default:"500"`
}

// Enabled reports whether snapshot export is configured.
func (b BigQueryConfig) Enabled() bool { return strings.TrimSpace(b.ProjectID) != "" }

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case DriverMemory, DriverSQLite, DriverGormSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for the postgres driver", EnvDBDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown driver %q", EnvDBDriver, c.DB.Driver))
	}
	if (c.DB.Driver == DriverSQLite || c.DB.Driver == DriverGormSQLite) && strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, fmt.Errorf("%s is required for the %s driver", EnvDBPath, c.DB.Driver))
	}

	if !ledger.AuditMode(c.Ledger.AuditMode).Valid() {
		errs = append(errs, fmt.Errorf("%s: unknown mode %q", EnvAuditMode, c.Ledger.AuditMode))
	}
	if !ledger.OpeningPolicy(c.Ledger.OpeningPolicy).Valid() {
		errs = append(errs, fmt.Errorf("%s: unknown policy %q", EnvPolicy, c.Ledger.OpeningPolicy))
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, errors.New("LEDGER_MAX_RETRIES must not be negative"))
	}
	if c.Ledger.AggregationConcurrency <= 0 {
		errs = append(errs, errors.New("LEDGER_AGGREGATION_CONCURRENCY must be positive"))
	}
	if c.Ledger.LowStockThreshold < 0 {
		errs = append(errs, errors.New("LEDGER_LOW_STOCK_THRESHOLD must not be negative"))
	}
	if c.Cron.Enabled && c.Cron.Interval <= 0 {
		errs = append(errs, errors.New("LEDGER_CRON_INTERVAL must be positive"))
	}
	if c.Cron.Enabled && c.Cron.LockTTL > c.Cron.Interval {
		errs = append(errs, errors.New("LEDGER_CRON_LOCK_TTL must not exceed LEDGER_CRON_INTERVAL"))
	}
	if c.BigQuery.Enabled() && strings.TrimSpace(c.BigQuery.Dataset) == "" {
		errs = append(errs, fmt.Errorf("%s is required when %s is set", EnvBQDataset, EnvGCPProject))
	}

	return multierr.Combine(errs...)
}
