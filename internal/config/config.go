package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	PricebookPath  string
	PricebookSheet string

	SalesTaxRate        float64
	RollLengthFt        int
	FenceRateLFPerDay   int
	ProductionMinPerDay int
	FuelRatePerDay      float64
	CrewSize            int
	LaborRates          map[int]float64
	PriceMin            float64
	PriceMax            float64
	MarginTarget        float64

	SessionTTL      time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration

	LogLevel  string
	LogFormat string

	MetricsBucketsCSV string
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampling   float64
}

// Default labor rates per crew size in dollars per day.
var defaultLaborRates = map[int]float64{
	2: 277.17,
	3: 415.76,
	4: 554.34,
	5: 692.93,
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PricebookPath:  k.String("PRICEBOOK_PATH"),
		PricebookSheet: valueOrDefault(k.String("PRICEBOOK_SHEET"), "pricebook"),

		SalesTaxRate:        parseFloat(k.String("SALES_TAX_RATE"), 0.0825),
		RollLengthFt:        parseInt(k.String("ROLL_LENGTH_FT"), 100),
		FenceRateLFPerDay:   parseInt(k.String("FENCE_RATE_LF_PER_DAY"), 3000),
		ProductionMinPerDay: parseInt(k.String("PRODUCTION_MIN_PER_DAY"), 480),
		FuelRatePerDay:      parseFloat(k.String("FUEL_RATE_PER_DAY"), 100),
		CrewSize:            parseInt(k.String("CREW_SIZE"), 4),
		LaborRates:          parseLaborRates(k.String("LABOR_RATES")),
		PriceMin:            parseFloat(k.String("PRICE_MIN"), 0),
		PriceMax:            parseFloat(k.String("PRICE_MAX"), 100),
		MarginTarget:        parseFloat(k.String("MARGIN_TARGET"), 0.30),

		SessionTTL:      parseDuration(k.String("SESSION_TTL"), "168h"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 0),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),

		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),

		MetricsBucketsCSV: k.String("METRICS_BUCKETS_MS"),
		TracingEnabled:    parseBool(k.String("TRACING_ENABLED"), false),
		TracingEndpoint:   k.String("TRACING_ENDPOINT"),
		TracingSampling:   parseFloat(k.String("TRACING_SAMPLING_RATIO"), 1),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SalesTaxRate < 0 || cfg.SalesTaxRate > 1 {
		return nil, fmt.Errorf("SALES_TAX_RATE must be within [0,1], got %v", cfg.SalesTaxRate)
	}
	if cfg.PriceMax <= cfg.PriceMin {
		return nil, fmt.Errorf("PRICE_MAX must exceed PRICE_MIN (%v <= %v)", cfg.PriceMax, cfg.PriceMin)
	}
	if cfg.RollLengthFt <= 0 || cfg.FenceRateLFPerDay <= 0 || cfg.ProductionMinPerDay <= 0 {
		return nil, errors.New("production rates must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// LaborPerDay resolves the daily labor rate for the configured crew size.
func (c *Config) LaborPerDay() float64 {
	rates := c.LaborRates
	if len(rates) == 0 {
		rates = defaultLaborRates
	}
	if rate, ok := rates[c.CrewSize]; ok {
		return rate
	}
	return defaultLaborRates[4]
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseLaborRates parses a "crew:rate" CSV such as "2:277.17,4:554.34".
// Malformed pairs are skipped; the built-in table supplies any missing sizes.
func parseLaborRates(value string) map[int]float64 {
	rates := make(map[int]float64, len(defaultLaborRates))
	for crew, rate := range defaultLaborRates {
		rates[crew] = rate
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return rates
	}
	for _, pair := range strings.Split(trimmed, ",") {
		crewStr, rateStr, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found {
			continue
		}
		crew, err := strconv.Atoi(strings.TrimSpace(crewStr))
		if err != nil || crew <= 0 {
			continue
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(rateStr), 64)
		if err != nil || rate < 0 {
			continue
		}
		rates[crew] = rate
	}
	return rates
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
