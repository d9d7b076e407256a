package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/report"
	"github.com/salesqa/salesqa/internal/rules"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults
// for unset values and validates the result.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated reads the environment without validating, so callers can
// apply overrides such as command-line flags before calling Validate.
func LoadUnvalidated() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// loadStruct populates struct fields from environment variables, recursing
// into nested structs.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}
	return nil
}

// setField parses value into field according to its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Database.Driver) {
	case DriverDuckDB:
		if c.Database.SalesPath == "" {
			errs = append(errs, "SALES_DB_PATH is required for the duckdb driver")
		}
		if c.Database.PaymentsPath == "" {
			errs = append(errs, "PAYMENTS_DB_PATH is required for the duckdb driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: duckdb, postgres", c.Database.Driver))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if c.Data.ResetOnStart && (c.Data.SalesCSV == "" || c.Data.PaymentsCSV == "") {
		errs = append(errs, "SALES_CSV and PAYMENTS_CSV are required when RESET_ON_START is true")
	}

	if c.Checks.Workers <= 0 {
		errs = append(errs, "CHECK_WORKERS must be positive")
	}
	if c.Checks.RangeWorkers < 0 {
		errs = append(errs, "RANGE_WORKERS must be non-negative")
	}
	if c.Checks.TaxRate < 0 {
		errs = append(errs, "TAX_RATE must be non-negative")
	}
	if c.Checks.Tolerance < 0 {
		errs = append(errs, "TOTAL_TOLERANCE must be non-negative")
	}
	if c.Checks.Threshold < 0 {
		errs = append(errs, "MISMATCH_THRESHOLD must be non-negative")
	}

	if _, err := report.New(c.Report.Dir, c.Report.Formats); err != nil {
		errs = append(errs, fmt.Sprintf("REPORT_FORMATS: %v", err))
	}
	if len(c.Report.Formats) > 0 && c.Report.Dir == "" {
		errs = append(errs, "REPORT_DIR is required when REPORT_FORMATS is set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		errs = append(errs, "MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Server.RunMaxWait <= 0 {
		errs = append(errs, "RUN_MAX_WAIT must be positive")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES: %q is not an IP or CIDR", cidr))
		}
	}

	if c.Schedule.Cron != "" {
		if _, err := pipeline.ParseSchedule(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("SCHEDULE_CRON: %v", err))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RuleSet loads RULES_FILE, or returns the built-in rules when it is unset.
func (c *Config) RuleSet() (*rules.RuleSet, error) {
	if c.Checks.RulesFile == "" {
		return rules.Default(), nil
	}
	return rules.LoadFile(c.Checks.RulesFile)
}

// PipelineOptions maps the configuration onto pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		SalesCSV:     c.Data.SalesCSV,
		PaymentsCSV:  c.Data.PaymentsCSV,
		Reset:        c.Data.ResetOnStart,
		Correct:      c.Correction.Auto,
		Workers:      c.Checks.Workers,
		RangeWorkers: c.Checks.RangeWorkers,
		TaxRate:      c.Checks.TaxRate,
		Tolerance:    c.Checks.Tolerance,
		Threshold:    c.Checks.Threshold,
		Unmatched:    c.Checks.ReportUnmatched,
		Columns: quality.Columns{
			Key:         c.Columns.Invoice,
			Total:       c.Columns.Total,
			UnitPrice:   c.Columns.UnitPrice,
			Quantity:    c.Columns.Quantity,
			Date:        c.Columns.Date,
			ProductLine: c.Columns.ProductLine,
			Rating:      c.Columns.Rating,
			Margin:      c.Columns.Margin,
		},
	}
}

// String returns a loggable summary with the database URL masked.
func (c *Config) String() string {
	url := ""
	if c.Database.URL != "" {
		url = "[MASKED]"
	}
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {Driver: %q, SalesPath: %q, PaymentsPath: %q, URL: %s, MaxConns: %d}, ",
		c.Database.Driver, c.Database.SalesPath, c.Database.PaymentsPath, url, c.Database.MaxConns)
	fmt.Fprintf(&b, "Data: {SalesCSV: %q, PaymentsCSV: %q, ResetOnStart: %v}, ",
		c.Data.SalesCSV, c.Data.PaymentsCSV, c.Data.ResetOnStart)
	fmt.Fprintf(&b, "Checks: {RulesFile: %q, Workers: %d, RangeWorkers: %d, Threshold: %v}, ",
		c.Checks.RulesFile, c.Checks.Workers, c.Checks.RangeWorkers, c.Checks.Threshold)
	fmt.Fprintf(&b, "Report: {Dir: %q, Formats: %v}, ", c.Report.Dir, c.Report.Formats)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d, MaxConcurrentRuns: %d, APIKeys: %d configured, TrustedProxies: %v}, ",
		c.Server.Host, c.Server.Port, c.Server.MaxConcurrentRuns, len(c.Server.APIKeys), c.Server.TrustedProxies)
	fmt.Fprintf(&b, "Schedule: {Cron: %q}, ", c.Schedule.Cron)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
