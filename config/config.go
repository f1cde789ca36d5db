package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bnema/altq/internal/infrastructure/logger"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreJSONFile = "jsonfile"
)

type Config struct {
	DataDir     string
	Store       string
	PostgresDSN string
	RedisAddr   string
	LogLevel    string

	Listen         string
	AdminTokenHash string
	BehindProxy    bool

	GeneratorURL     string
	GeneratorToken   string
	GeneratorCommand string

	BatchSize       int
	MaxAttempts     int
	StaleTimeout    time.Duration
	Retention       time.Duration
	NextDelay       time.Duration
	RateLimitDelay  time.Duration
	EnqueueDelay    time.Duration
	GenerateTimeout time.Duration
	GenerateRate    float64
	SafetySchedule  string
}

// Load reads the configuration from ALTQ_* environment variables. All
// invalid values are reported together.
func Load() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		DataDir:     getEnv("ALTQ_DATA_DIR", "./data"),
		Store:       getEnv("ALTQ_STORE", StoreSQLite),
		PostgresDSN: os.Getenv("ALTQ_POSTGRES_DSN"),
		RedisAddr:   os.Getenv("ALTQ_REDIS_ADDR"),
		LogLevel:    getEnv("ALTQ_LOG_LEVEL", "info"),

		Listen:         getEnv("ALTQ_LISTEN", "127.0.0.1:7890"),
		AdminTokenHash: os.Getenv("ALTQ_ADMIN_TOKEN_HASH"),
		BehindProxy:    p.bool("ALTQ_BEHIND_PROXY", false),

		GeneratorURL:     os.Getenv("ALTQ_GENERATOR_URL"),
		GeneratorToken:   os.Getenv("ALTQ_GENERATOR_TOKEN"),
		GeneratorCommand: os.Getenv("ALTQ_GENERATOR_COMMAND"),

		BatchSize:       p.int("ALTQ_BATCH_SIZE", 3),
		MaxAttempts:     p.int("ALTQ_MAX_ATTEMPTS", 3),
		StaleTimeout:    p.duration("ALTQ_STALE_TIMEOUT", 10*time.Minute),
		Retention:       p.duration("ALTQ_RETENTION", 48*time.Hour),
		NextDelay:       p.duration("ALTQ_NEXT_DELAY", 45*time.Second),
		RateLimitDelay:  p.duration("ALTQ_RATE_LIMIT_DELAY", time.Hour),
		EnqueueDelay:    p.duration("ALTQ_ENQUEUE_DELAY", 30*time.Second),
		GenerateTimeout: p.duration("ALTQ_GENERATE_TIMEOUT", 60*time.Second),
		GenerateRate:    p.float("ALTQ_GENERATE_RATE", 1),
		SafetySchedule:  getEnv("ALTQ_SAFETY_SCHEDULE", "@every 5m"),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error

	switch c.Store {
	case StoreSQLite, StoreJSONFile:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("ALTQ_POSTGRES_DSN is required when ALTQ_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ALTQ_STORE %q: want sqlite, postgres or jsonfile", c.Store))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid ALTQ_LOG_LEVEL: %w", err))
	}

	if c.GeneratorURL != "" && c.GeneratorCommand != "" {
		errs = append(errs, errors.New("ALTQ_GENERATOR_URL and ALTQ_GENERATOR_COMMAND are mutually exclusive"))
	}

	if c.BatchSize < 1 {
		errs = append(errs, errors.New("ALTQ_BATCH_SIZE must be at least 1"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("ALTQ_MAX_ATTEMPTS must be at least 1"))
	}
	if c.GenerateRate < 0 {
		errs = append(errs, errors.New("ALTQ_GENERATE_RATE must not be negative"))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"ALTQ_STALE_TIMEOUT", c.StaleTimeout},
		{"ALTQ_RETENTION", c.Retention},
		{"ALTQ_NEXT_DELAY", c.NextDelay},
		{"ALTQ_RATE_LIMIT_DELAY", c.RateLimitDelay},
		{"ALTQ_ENQUEUE_DELAY", c.EnqueueDelay},
		{"ALTQ_GENERATE_TIMEOUT", c.GenerateTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	return errs
}

// HasGenerator reports whether a generator backend is configured.
func (c *Config) HasGenerator() bool {
	return c.GeneratorURL != "" || c.GeneratorCommand != ""
}

// APIEnabled reports whether the operator API should be served.
func (c *Config) APIEnabled() bool {
	return c.Listen != "" && c.AdminTokenHash != ""
}

type parser struct {
	errs *[]error
}

func (p parser) fail(key string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (p parser) int(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) float(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(def, 'f', -1, 64)), 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) bool(key string, def bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def.String()))
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
