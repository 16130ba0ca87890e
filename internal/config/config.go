// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mbd888/txrisk/internal/assessment"
	"github.com/mbd888/txrisk/internal/risk"
	"github.com/mbd888/txrisk/internal/rules"
	"github.com/mbd888/txrisk/internal/transaction"
)

// Config holds all application configuration
type Config struct {
	Env          string // "development", "staging", "production"
	LogLevel     string
	LogFormat    string // "text" or "json"
	OTLPEndpoint string // tracing disabled when empty

	// Factor calculator
	HomeCountry       string
	HighRiskCountries []string
	HighRiskMerchants []string
	ElevatedMerchant  string
	AmountTiers       []risk.AmountTier
	AmountBaseScore   float64
	NightEndHour      int // also bounds the TIME rule night window

	// Global rule settings
	MaxTransactionAmount  decimal.Decimal
	MaxDailyTransactions  int
	BlockedCountries      []string
	BlockedMerchants      []string
	TestMode              bool
	MaxRulesPerEvaluation int

	// Pipeline and simulator
	HistoryCapacity int
	PipelineWorkers int
	StoreCapacity   int
	SimSeed         uint64
	SimCount        int
}

const (
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultHomeCountry          = "United States"
	DefaultHighRiskCountries    = "Nigeria,Russia,China,Iran"
	DefaultHighRiskMerchants    = "Gambling,Cryptocurrency,Financial"
	DefaultElevatedMerchant     = "Financial"
	DefaultAmountTiers          = "5000:80,1000:40,500:20"
	DefaultAmountBaseScore      = 10
	DefaultMaxTransactionAmount = "50000"
	DefaultSimSeed              = 42
	DefaultSimCount             = 200
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	tiers, err := ParseAmountTiers(getEnv("RISK_AMOUNT_TIERS", DefaultAmountTiers))
	if err != nil {
		return nil, fmt.Errorf("RISK_AMOUNT_TIERS: %w", err)
	}
	maxAmount, err := decimal.NewFromString(getEnv("RULES_MAX_TRANSACTION_AMOUNT", DefaultMaxTransactionAmount))
	if err != nil {
		return nil, fmt.Errorf("RULES_MAX_TRANSACTION_AMOUNT: %w", err)
	}

	cfg := &Config{
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		HomeCountry:       getEnv("RISK_HOME_COUNTRY", DefaultHomeCountry),
		HighRiskCountries: getEnvList("RISK_HIGH_RISK_COUNTRIES", DefaultHighRiskCountries),
		HighRiskMerchants: getEnvList("RISK_HIGH_RISK_MERCHANTS", DefaultHighRiskMerchants),
		ElevatedMerchant:  getEnv("RISK_ELEVATED_MERCHANT", DefaultElevatedMerchant),
		AmountTiers:       tiers,
		AmountBaseScore:   getEnvFloat("RISK_AMOUNT_BASE_SCORE", DefaultAmountBaseScore),
		NightEndHour:      int(getEnvInt64("RISK_NIGHT_END_HOUR", rules.DefaultNightEndHour)),

		MaxTransactionAmount:  maxAmount,
		MaxDailyTransactions:  int(getEnvInt64("RULES_MAX_DAILY_TRANSACTIONS", 0)),
		BlockedCountries:      getEnvList("RULES_BLOCKED_COUNTRIES", ""),
		BlockedMerchants:      getEnvList("RULES_BLOCKED_MERCHANTS", ""),
		TestMode:              getEnvBool("RULES_TEST_MODE", false),
		MaxRulesPerEvaluation: int(getEnvInt64("RULES_MAX_PER_EVALUATION", rules.DefaultMaxRulesPerEvaluation)),

		HistoryCapacity: int(getEnvInt64("HISTORY_CAPACITY", transaction.DefaultHistoryCapacity)),
		PipelineWorkers: int(getEnvInt64("PIPELINE_WORKERS", assessment.DefaultWorkers)),
		StoreCapacity:   int(getEnvInt64("STORE_CAPACITY", assessment.DefaultStoreCapacity)),
		SimSeed:         uint64(getEnvInt64("SIM_SEED", DefaultSimSeed)),
		SimCount:        int(getEnvInt64("SIM_COUNT", DefaultSimCount)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json (got %q)", c.LogFormat)
	}
	if strings.TrimSpace(c.HomeCountry) == "" {
		return fmt.Errorf("RISK_HOME_COUNTRY is required")
	}
	if c.AmountBaseScore < 0 || c.AmountBaseScore > 100 {
		return fmt.Errorf("RISK_AMOUNT_BASE_SCORE must be within 0..100")
	}
	if c.NightEndHour < 0 || c.NightEndHour > 23 {
		return fmt.Errorf("RISK_NIGHT_END_HOUR must be within 0..23")
	}
	for _, t := range c.AmountTiers {
		if t.Score < 0 || t.Score > 100 {
			return fmt.Errorf("RISK_AMOUNT_TIERS scores must be within 0..100")
		}
	}
	if c.MaxTransactionAmount.IsNegative() {
		return fmt.Errorf("RULES_MAX_TRANSACTION_AMOUNT must not be negative")
	}
	if c.MaxDailyTransactions < 0 {
		return fmt.Errorf("RULES_MAX_DAILY_TRANSACTIONS must not be negative")
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY must be positive")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive")
	}
	if c.StoreCapacity <= 0 {
		return fmt.Errorf("STORE_CAPACITY must be positive")
	}
	if c.SimCount < 0 {
		return fmt.Errorf("SIM_COUNT must not be negative")
	}
	return nil
}

// RiskConfig returns the factor calculator tuning with the configured
// overrides applied to the reference defaults.
func (c *Config) RiskConfig() risk.Config {
	rc := risk.DefaultConfig()
	rc.HomeCountry = c.HomeCountry
	rc.HighRiskCountries = append([]string(nil), c.HighRiskCountries...)
	rc.HighRiskMerchantCategories = append([]string(nil), c.HighRiskMerchants...)
	rc.ElevatedMerchantCategory = c.ElevatedMerchant
	if len(c.AmountTiers) > 0 {
		rc.AmountTiers = append([]risk.AmountTier(nil), c.AmountTiers...)
	}
	rc.AmountBaseScore = c.AmountBaseScore
	rc.NightEndHour = c.NightEndHour
	return rc
}

// GlobalSettings returns the always-on rule checks.
func (c *Config) GlobalSettings() rules.GlobalSettings {
	return rules.GlobalSettings{
		MaxTransactionAmount:      c.MaxTransactionAmount,
		MaxDailyTransactions:      c.MaxDailyTransactions,
		BlockedCountries:          append([]string(nil), c.BlockedCountries...),
		BlockedMerchantCategories: append([]string(nil), c.BlockedMerchants...),
		TestMode:                  c.TestMode,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseAmountTiers parses "above:score" pairs, e.g. "5000:80,1000:40".
func ParseAmountTiers(s string) ([]risk.AmountTier, error) {
	var tiers []risk.AmountTier
	for _, part := range splitList(s) {
		above, score, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("tier %q: want above:score", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(above))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		tiers = append(tiers, risk.AmountTier{Above: d, Score: f})
	}
	return tiers, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value. An explicitly empty variable
// falls back to the default like every other key.
func getEnvList(key, defaultValue string) []string {
	return splitList(getEnv(key, defaultValue))
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
