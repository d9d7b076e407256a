// Package config loads application settings from environment variables with
// defaults, and validates them on startup so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/pipeline"
)

// Database drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig
	Data       DataConfig
	Checks     CheckConfig
	Columns    ColumnConfig
	Report     ReportConfig
	Correction CorrectionConfig
	Server     ServerConfig
	Schedule   ScheduleConfig
	Logging    LoggingConfig
}

// DatabaseConfig selects the backend and its connection settings.
type DatabaseConfig struct {
	// Driver is duckdb or postgres (default: duckdb)
	Driver string `env:"DB_DRIVER" envAlt:"DRIVER" default:"duckdb"`

	// SalesPath and PaymentsPath are DuckDB files. They may be the same file.
	SalesPath    string `env:"SALES_DB_PATH" default:"data/sales.duckdb"`
	PaymentsPath string `env:"PAYMENTS_DB_PATH" default:"data/payments.duckdb"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// DataConfig names the CSV inputs.
type DataConfig struct {
	SalesCSV    string `env:"SALES_CSV" default:"supermarket_sales.csv"`
	PaymentsCSV string `env:"PAYMENTS_CSV" default:"payments.csv"`

	// ResetOnStart reloads both tables before every run (default: true)
	ResetOnStart bool `env:"RESET_ON_START" default:"true"`
}

// CheckConfig tunes validation and reconciliation.
type CheckConfig struct {
	// RulesFile is an optional YAML rule set; empty uses the built-in rules.
	RulesFile string `env:"RULES_FILE"`

	Workers int `env:"CHECK_WORKERS" default:"8"`

	// RangeWorkers bounds numeric-range checks; 0 means one per CPU.
	RangeWorkers int `env:"RANGE_WORKERS" default:"0"`

	TaxRate   float64 `env:"TAX_RATE" default:"0.05"`
	Tolerance float64 `env:"TOTAL_TOLERANCE" default:"0.01"`
	Threshold float64 `env:"MISMATCH_THRESHOLD" default:"0.01"`

	// ReportUnmatched also lists invoices present on only one side.
	ReportUnmatched bool `env:"REPORT_UNMATCHED" default:"false"`
}

// ColumnConfig renames the columns read by the built-in consistency checks,
// the summary and reconciliation. Unset names keep the standard sales
// extract columns.
type ColumnConfig struct {
	Invoice     string `env:"COLUMN_INVOICE"`
	Total       string `env:"COLUMN_TOTAL"`
	UnitPrice   string `env:"COLUMN_UNIT_PRICE"`
	Quantity    string `env:"COLUMN_QUANTITY"`
	Date        string `env:"COLUMN_DATE"`
	ProductLine string `env:"COLUMN_PRODUCT_LINE"`
	Rating      string `env:"COLUMN_RATING"`
	Margin      string `env:"COLUMN_MARGIN"`
}

// ReportConfig controls rendered outputs.
type ReportConfig struct {
	Dir     string   `env:"REPORT_DIR" default:"reports"`
	Formats []string `env:"REPORT_FORMATS" default:"json,excel"`
}

// CorrectionConfig controls the correction phase.
type CorrectionConfig struct {
	Auto bool `env:"AUTO_CORRECT" default:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout caps a request, including a synchronous run (default: 10m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"10m"`

	// MaxConcurrentRuns is how many pipeline runs may execute at once (default: 1)
	MaxConcurrentRuns int `env:"MAX_CONCURRENT_RUNS" default:"1"`

	// RunMaxWait is how long a run request waits for a slot (default: 30s)
	RunMaxWait time.Duration `env:"RUN_MAX_WAIT" default:"30s"`

	// RunHistory is how many results the API keeps (default: 20)
	RunHistory int `env:"RUN_HISTORY" default:"20"`

	// APIKeys guard POST /api/runs via the X-API-Key header; empty disables auth.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For are honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// ScheduleConfig enables periodic runs in serve mode.
type ScheduleConfig struct {
	// Cron is a cron expression; empty disables scheduling.
	Cron string `env:"SCHEDULE_CRON"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PoolOptions returns the PostgreSQL pool settings.
func (c *DatabaseConfig) PoolOptions() datasource.PoolOptions {
	return datasource.PoolOptions{
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// Opener returns the database opener for the configured driver.
func (c *DatabaseConfig) Opener() pipeline.Opener {
	if strings.EqualFold(c.Driver, DriverPostgres) {
		return pipeline.PostgresOpener{URL: c.URL, Pool: c.PoolOptions()}
	}
	return pipeline.DuckDBOpener{SalesPath: c.SalesPath, PaymentsPath: c.PaymentsPath}
}
