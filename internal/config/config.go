// Package config loads process settings from the environment, optionally
// overlaid by a YAML file named in STOCKLEDGER_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"

	envConfigFile = "STOCKLEDGER_CONFIG"
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	LogFile     string
	HTTPAddr    string

	Store          string
	DatabaseDSN    string
	MySQLDSN       string
	RedisAddr      string
	RecipeCacheTTL time.Duration
	SeedFile       string
	JWTSecret      string

	DeductionMaxAttempts  int
	DeductionBackoff      time.Duration
	DeductionApplyTimeout time.Duration
	BOMMaxDepth           int

	EventMaxDeliveries int
	EventBackoff       time.Duration
}

// fileConfig mirrors Config in the overlay file. Durations are Go duration strings.
type fileConfig struct {
	ServiceName string `yaml:"service_name"`
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	HTTPAddr    string `yaml:"http_addr"`

	Store          string `yaml:"store"`
	DatabaseDSN    string `yaml:"database_dsn"`
	MySQLDSN       string `yaml:"mysql_dsn"`
	RedisAddr      string `yaml:"redis_addr"`
	RecipeCacheTTL string `yaml:"recipe_cache_ttl"`
	SeedFile       string `yaml:"seed_file"`
	JWTSecret      string `yaml:"jwt_secret"`

	Deduction struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		Backoff      string `yaml:"backoff"`
		ApplyTimeout string `yaml:"apply_timeout"`
	} `yaml:"deduction"`
	BOMMaxDepth int `yaml:"bom_max_depth"`

	Events struct {
		MaxDeliveries int    `yaml:"max_deliveries"`
		Backoff       string `yaml:"backoff"`
	} `yaml:"events"`
}

func Defaults() *Config {
	return &Config{
		ServiceName:           "stockledger",
		Env:                   "dev",
		LogLevel:              "info",
		HTTPAddr:              ":8080",
		Store:                 StoreMemory,
		RecipeCacheTTL:        5 * time.Minute,
		DeductionMaxAttempts:  3,
		DeductionBackoff:      50 * time.Millisecond,
		DeductionApplyTimeout: 5 * time.Second,
		BOMMaxDepth:           32,
		EventMaxDeliveries:    5,
		EventBackoff:          100 * time.Millisecond,
	}
}

// Load applies defaults, then the overlay file, then environment variables, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: STORE=postgres needs DATABASE_DSN", ErrInvalidConfig)
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("%w: STORE=mysql needs MYSQL_DSN", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.DeductionMaxAttempts <= 0 {
		return fmt.Errorf("%w: DEDUCTION_MAX_ATTEMPTS must be positive", ErrInvalidConfig)
	}
	if c.DeductionBackoff <= 0 || c.DeductionApplyTimeout <= 0 {
		return fmt.Errorf("%w: deduction backoff and apply timeout must be positive", ErrInvalidConfig)
	}
	if c.BOMMaxDepth <= 0 {
		return fmt.Errorf("%w: BOM_MAX_DEPTH must be positive", ErrInvalidConfig)
	}
	if c.EventMaxDeliveries <= 0 {
		return fmt.Errorf("%w: EVENT_MAX_DELIVERIES must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	setString(&c.ServiceName, fc.ServiceName)
	setString(&c.Env, fc.Env)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, fc.LogFile)
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.Store, fc.Store)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.MySQLDSN, fc.MySQLDSN)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.SeedFile, fc.SeedFile)
	setString(&c.JWTSecret, fc.JWTSecret)
	if fc.Deduction.MaxAttempts != 0 {
		c.DeductionMaxAttempts = fc.Deduction.MaxAttempts
	}
	if fc.BOMMaxDepth != 0 {
		c.BOMMaxDepth = fc.BOMMaxDepth
	}
	if fc.Events.MaxDeliveries != 0 {
		c.EventMaxDeliveries = fc.Events.MaxDeliveries
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"recipe_cache_ttl", fc.RecipeCacheTTL, &c.RecipeCacheTTL},
		{"deduction.backoff", fc.Deduction.Backoff, &c.DeductionBackoff},
		{"deduction.apply_timeout", fc.Deduction.ApplyTimeout, &c.DeductionApplyTimeout},
		{"events.backoff", fc.Events.Backoff, &c.EventBackoff},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: %s in %s: %v", ErrInvalidConfig, d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) overlayEnv() error {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.Store = getEnv("STORE", c.Store)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.MySQLDSN = getEnv("MYSQL_DSN", c.MySQLDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.SeedFile = getEnv("SEED_FILE", c.SeedFile)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	var err error
	if c.RecipeCacheTTL, err = getDuration("RECIPE_CACHE_TTL", c.RecipeCacheTTL); err != nil {
		return err
	}
	if c.DeductionMaxAttempts, err = getInt("DEDUCTION_MAX_ATTEMPTS", c.DeductionMaxAttempts); err != nil {
		return err
	}
	if c.DeductionBackoff, err = getDuration("DEDUCTION_BACKOFF", c.DeductionBackoff); err != nil {
		return err
	}
	if c.DeductionApplyTimeout, err = getDuration("DEDUCTION_APPLY_TIMEOUT", c.DeductionApplyTimeout); err != nil {
		return err
	}
	if c.BOMMaxDepth, err = getInt("BOM_MAX_DEPTH", c.BOMMaxDepth); err != nil {
		return err
	}
	if c.EventMaxDeliveries, err = getInt("EVENT_MAX_DELIVERIES", c.EventMaxDeliveries); err != nil {
		return err
	}
	if c.EventBackoff, err = getDuration("EVENT_BACKOFF", c.EventBackoff); err != nil {
		return err
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return d, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
