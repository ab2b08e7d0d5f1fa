package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	HTTP           HTTPConfig           `yaml:"http"`
	Logging        LoggingConfig        `yaml:"logging"`
	Settlement     SettlementConfig     `yaml:"settlement"`
	SpotPrice      SpotPriceConfig      `yaml:"spot_price"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SettlementConfig controls settlement calculation.
type SettlementConfig struct {
	Currency              string        `yaml:"currency"`
	RequireCompletePrices bool          `yaml:"require_complete_prices"`
	LockTTL               time.Duration `yaml:"lock_ttl"`
	DocumentPrefix        string        `yaml:"document_prefix"`
}

// SpotPriceConfig points at the public spot price dataset.
type SpotPriceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Areas    []string      `yaml:"areas"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

// Tolerance defines when a reconciliation difference is reported.
// Values are decoded from their YAML text.
type Tolerance struct {
	// Amount is the largest absolute difference still Matched.
	Amount decimal.Decimal `yaml:"amount"`
	// NotifyPercent suppresses notifications for discrepancies below this percentage.
	NotifyPercent decimal.Decimal `yaml:"notify_percent"`
}

// ReconciliationConfig defines reconciliation tolerances and schedule.
type ReconciliationConfig struct {
	Defaults        Tolerance            `yaml:"defaults"`
	GridAreas       map[string]Tolerance `yaml:"grid_areas"`
	Schedule        ScheduleConfig       `yaml:"schedule"`
	ReportRoot      string               `yaml:"report_root"`
	WebhookURL      string               `yaml:"webhook_url"`
	WebhookSecret   string               `yaml:"webhook_secret"`
	WebhookTemplate string               `yaml:"webhook_template"`
	PublicBaseURL   string               `yaml:"public_base_url"`
}

// ScheduleConfig defines the daily reconciliation run.
type ScheduleConfig struct {
	DailyAt   string   `yaml:"daily_at"`
	GridAreas []string `yaml:"grid_areas"`
}

// Load reads defaults, then the YAML file named by SETTLEMENT_CONFIG, then env overrides.
func Load() (Config, error) {
	cfg := Config{
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Settlement: SettlementConfig{
			Currency:       "DKK",
			LockTTL:        30 * time.Second,
			DocumentPrefix: "S",
		},
		SpotPrice: SpotPriceConfig{
			BaseURL:  "https://api.energidataservice.dk",
			Areas:    []string{"DK1", "DK2"},
			Timeout:  30 * time.Second,
			PageSize: 10000,
		},
		Reconciliation: ReconciliationConfig{
			Defaults:      Tolerance{Amount: decimal.New(1, -2)},
			Schedule:      ScheduleConfig{DailyAt: "03:00"},
			ReportRoot:    filepath.FromSlash("var/reports/reconciliation"),
			PublicBaseURL: "http://localhost:8080",
		},
	}

	if path := os.Getenv("SETTLEMENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Database.URL = getenvDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Settlement.Currency = getenvDefault("CURRENCY", cfg.Settlement.Currency)
	cfg.Settlement.RequireCompletePrices = getenvBoolDefault("REQUIRE_COMPLETE_PRICES", cfg.Settlement.RequireCompletePrices)
	cfg.SpotPrice.BaseURL = getenvDefault("SPOT_PRICE_BASE_URL", cfg.SpotPrice.BaseURL)
	if areas := splitCSV(os.Getenv("SPOT_PRICE_AREAS")); len(areas) > 0 {
		cfg.SpotPrice.Areas = areas
	}
	tolerance, err := getenvDecimalDefault("RECONCILIATION_TOLERANCE", cfg.Reconciliation.Defaults.Amount)
	if err != nil {
		return cfg, err
	}
	cfg.Reconciliation.Defaults.Amount = tolerance
	cfg.Reconciliation.Schedule.DailyAt = getenvDefault("RECONCILIATION_DAILY_AT", cfg.Reconciliation.Schedule.DailyAt)
	if areas := splitCSV(os.Getenv("RECONCILIATION_GRID_AREAS")); len(areas) > 0 {
		cfg.Reconciliation.Schedule.GridAreas = areas
	}
	cfg.Reconciliation.WebhookURL = getenvDefault("RECONCILIATION_WEBHOOK_URL", cfg.Reconciliation.WebhookURL)
	cfg.Reconciliation.WebhookSecret = getenvDefault("RECONCILIATION_WEBHOOK_SECRET", cfg.Reconciliation.WebhookSecret)
	cfg.Reconciliation.ReportRoot = getenvDefault("RECONCILIATION_REPORT_ROOT", cfg.Reconciliation.ReportRoot)
	cfg.Reconciliation.PublicBaseURL = getenvDefault("PUBLIC_BASE_URL", cfg.Reconciliation.PublicBaseURL)

	if cfg.Database.URL == "" {
		return cfg, errors.New("config: DATABASE_URL required")
	}
	if cfg.Reconciliation.ReportRoot == "" {
		return cfg, errors.New("config: reconciliation report root required")
	}
	if cfg.Reconciliation.Defaults.Amount.IsNegative() {
		return cfg, errors.New("config: negative reconciliation tolerance")
	}
	for area, t := range cfg.Reconciliation.GridAreas {
		if t.Amount.IsNegative() {
			return cfg, fmt.Errorf("config: negative reconciliation tolerance for grid area %s", area)
		}
	}
	return cfg, nil
}

// ToleranceFor returns the grid area tolerance merged over the defaults.
func (c ReconciliationConfig) ToleranceFor(gridArea string) Tolerance {
	if c.GridAreas != nil {
		if override, ok := c.GridAreas[gridArea]; ok {
			return mergeTolerance(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeTolerance(base, override Tolerance) Tolerance {
	if !override.Amount.IsZero() {
		base.Amount = override.Amount
	}
	if !override.NotifyPercent.IsZero() {
		base.NotifyPercent = override.NotifyPercent
	}
	return base
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDecimalDefault(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
