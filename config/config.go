/*
Package config loads server settings from the environment.

PURPOSE:
  Everything that used to be a runtime feature flag is read once here and
  handed to constructors as plain values. Nothing below this package looks
  at the environment.

SOURCES (later wins):
  1. Defaults in Load
  2. .env in the working directory (optional)
  3. Environment variables

HDHP THRESHOLDS:
  The IRS minimum deductible table ships with the code. A year can be
  overridden or added with dollar amounts:

    HDHP_INDIVIDUAL_THRESHOLD_2027=1750.00
    HDHP_FAMILY_THRESHOLD_2027=3500.00
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/benefits-engine/accumulation"
	"github.com/warp/benefits-engine/costbreakdown"
)

type Config struct {
	ServerAddress           string   `mapstructure:"SERVER_ADDRESS"`
	LogFormat               string   `mapstructure:"LOG_FORMAT"`
	DBDriver                string   `mapstructure:"DB_DRIVER"`
	DatabaseDSN             string   `mapstructure:"DATABASE_DSN"`
	MigrationDir            string   `mapstructure:"MIGRATION_DIR"`
	CORSOrigins             []string `mapstructure:"CORS_ORIGINS"`
	DisabledPayerCodes      []string `mapstructure:"DISABLED_PAYER_CODES"`
	HealthPlanBehavior      string   `mapstructure:"HEALTH_PLAN_BEHAVIOR"`
	AccumulationSenderID    string   `mapstructure:"ACCUMULATION_SENDER_ID"`
	AccumulationEnvironment string   `mapstructure:"ACCUMULATION_ENVIRONMENT"`

	// Scheduled accumulator files. An empty output dir disables the
	// scheduler.
	AccumulationOutputDir string        `mapstructure:"ACCUMULATION_OUTPUT_DIR"`
	AccumulationInterval  time.Duration `mapstructure:"ACCUMULATION_INTERVAL"`
	AccumulationPayers    []string      `mapstructure:"ACCUMULATION_PAYERS"`

	HDHPThresholds costbreakdown.HDHPThresholds `mapstructure:"-"`
}

var keys = []string{
	"SERVER_ADDRESS",
	"LOG_FORMAT",
	"DB_DRIVER",
	"DATABASE_DSN",
	"MIGRATION_DIR",
	"CORS_ORIGINS",
	"DISABLED_PAYER_CODES",
	"HEALTH_PLAN_BEHAVIOR",
	"ACCUMULATION_SENDER_ID",
	"ACCUMULATION_ENVIRONMENT",
	"ACCUMULATION_OUTPUT_DIR",
	"ACCUMULATION_INTERVAL",
	"ACCUMULATION_PAYERS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_DSN", "benefits.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("HEALTH_PLAN_BEHAVIOR", string(costbreakdown.HealthPlanServiceDate))
	v.SetDefault("ACCUMULATION_SENDER_ID", "WARPHEALTH")
	v.SetDefault("ACCUMULATION_ENVIRONMENT", "T")
	v.SetDefault("ACCUMULATION_INTERVAL", "24h")
	v.SetDefault("ACCUMULATION_PAYERS", "esi,premera")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional, but one that exists must parse
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.DisabledPayerCodes = splitList(v.GetString("DISABLED_PAYER_CODES"))
	cfg.AccumulationPayers = splitList(v.GetString("ACCUMULATION_PAYERS"))

	thresholds, err := hdhpThresholds(os.Environ())
	if err != nil {
		return nil, err
	}
	cfg.HDHPThresholds = thresholds

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or mysql, got %q", c.DBDriver)
	}
	switch costbreakdown.HealthPlanBehavior(c.HealthPlanBehavior) {
	case costbreakdown.HealthPlanServiceDate, costbreakdown.HealthPlanCurrent:
	default:
		return fmt.Errorf("HEALTH_PLAN_BEHAVIOR must be service_date or current, got %q", c.HealthPlanBehavior)
	}
	if c.AccumulationEnvironment != "P" && c.AccumulationEnvironment != "T" {
		return fmt.Errorf("ACCUMULATION_ENVIRONMENT must be P or T, got %q", c.AccumulationEnvironment)
	}
	if c.AccumulationInterval <= 0 {
		return fmt.Errorf("ACCUMULATION_INTERVAL must be positive, got %s", c.AccumulationInterval)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	return nil
}

// CostBreakdown is the processor configuration.
func (c *Config) CostBreakdown() costbreakdown.Config {
	disabled := make(map[string]struct{}, len(c.DisabledPayerCodes))
	for _, code := range c.DisabledPayerCodes {
		disabled[strings.ToLower(code)] = struct{}{}
	}
	return costbreakdown.Config{
		DisabledPayerCodes: disabled,
		HealthPlanBehavior: costbreakdown.HealthPlanBehavior(c.HealthPlanBehavior),
		HDHPThresholds:     c.HDHPThresholds,
	}
}

// Accumulation is the file generator configuration.
func (c *Config) Accumulation() accumulation.Options {
	return accumulation.Options{
		SenderID:    c.AccumulationSenderID,
		Environment: c.AccumulationEnvironment,
	}
}

// PayerNames lists the payers the scheduler builds files for.
func (c *Config) PayerNames() []accumulation.PayerName {
	names := make([]accumulation.PayerName, len(c.AccumulationPayers))
	for i, p := range c.AccumulationPayers {
		names[i] = accumulation.PayerName(strings.ToLower(p))
	}
	return names
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// hdhpThresholds starts from the built-in table and applies
// HDHP_{INDIVIDUAL,FAMILY}_THRESHOLD_<YEAR> overrides found in environ.
func hdhpThresholds(environ []string) (costbreakdown.HDHPThresholds, error) {
	thresholds := costbreakdown.DefaultHDHPThresholds()
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		var family bool
		var yearStr string
		switch {
		case strings.HasPrefix(key, "HDHP_INDIVIDUAL_THRESHOLD_"):
			yearStr = strings.TrimPrefix(key, "HDHP_INDIVIDUAL_THRESHOLD_")
		case strings.HasPrefix(key, "HDHP_FAMILY_THRESHOLD_"):
			yearStr = strings.TrimPrefix(key, "HDHP_FAMILY_THRESHOLD_")
			family = true
		default:
			continue
		}

		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid year: %w", key, err)
		}
		dollars, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid amount: %w", key, err)
		}
		if dollars.IsNegative() {
			return nil, fmt.Errorf("%s: amount cannot be negative", key)
		}
		cents := dollars.Shift(2).Round(0).IntPart()

		th := thresholds[year]
		if family {
			th.Family = cents
		} else {
			th.Individual = cents
		}
		thresholds[year] = th
	}
	return thresholds, nil
}
