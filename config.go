package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/kylycht/currencycalc/conversion"
	"github.com/kylycht/currencycalc/model"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "CURRENCYCALC"
	defaultConfigPath = "config.yaml"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPPort string         `yaml:"httpPort" envconfig:"HTTP_PORT"` // fiber listen address, e.g. ":3000"
	LogLevel string         `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Exchange ExchangeConfig `yaml:"exchange" envconfig:"EXCHANGE"`

	BaseCurrency    string        `yaml:"baseCurrency" envconfig:"BASE_CURRENCY"`       // currency rates are fetched against
	MaxRateAge      time.Duration `yaml:"maxRateAge" envconfig:"MAX_RATE_AGE"`          // staleness window
	RefreshInterval time.Duration `yaml:"refreshInterval" envconfig:"REFRESH_INTERVAL"` // how often staleness is checked
	FetchTimeout    time.Duration `yaml:"fetchTimeout" envconfig:"FETCH_TIMEOUT"`

	Catalog []model.Currency `yaml:"catalog" ignored:"true"` // currencies that can be tracked, the postgres table takes precedence when it has rows
	Tracked []string         `yaml:"tracked" envconfig:"TRACKED"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"` // postgres, sqlite, redis or memory

	DBUsername string `yaml:"dbUsername" envconfig:"DB_USERNAME"`
	DBPassword string `yaml:"dbPassword" envconfig:"DB_PASSWORD"`
	DBHost     string `yaml:"dbHost" envconfig:"DB_HOST"`
	DBPort     string `yaml:"dbPort" envconfig:"DB_PORT"`
	DBName     string `yaml:"dbName" envconfig:"DB_NAME"`

	SQLitePath string `yaml:"sqlitePath" envconfig:"SQLITE_PATH"`

	RedisURL string `yaml:"redisURL" envconfig:"REDIS_URL"`
	RedisKey string `yaml:"redisKey" envconfig:"REDIS_KEY"`
}

type ExchangeConfig struct {
	APIKey      string             `yaml:"apiKey" envconfig:"API_KEY"`
	URL         string             `yaml:"url" envconfig:"URL"`       // overrides the fastforex endpoint
	StaticRates map[string]float64 `yaml:"staticRates" ignored:"true"` // offline table relative to BaseCurrency, used without an api key
}

func defaultConfig() Config {
	return Config{
		HTTPPort: ":3000",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:     DriverMemory,
			DBHost:     "localhost",
			DBPort:     "5432",
			SQLitePath: "currencycalc.db",
			RedisURL:   "redis://localhost:6379/0",
		},
		BaseCurrency:    "USD",
		MaxRateAge:      conversion.DefaultMaxAge,
		RefreshInterval: conversion.DefaultRefreshInterval,
		FetchTimeout:    conversion.DefaultFetchTimeout,
		Catalog: []model.Currency{
			{Code: "USD", Name: "US Dollar", Symbol: "$"},
			{Code: "EUR", Name: "Euro", Symbol: "€"},
			{Code: "GBP", Name: "British Pound", Symbol: "£"},
			{Code: "JPY", Name: "Japanese Yen", Symbol: "¥"},
		},
		Tracked: []string{"USD", "EUR"},
	}
}

// loadConfig reads path over the defaults and overlays CURRENCYCALC_*
// environment variables. A .env file is loaded first when present.
// A missing file at the default path is not an error.
func loadConfig(path string, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debug().Msg("no .env file loaded, using process environment")
	}

	cfg := defaultConfig()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == defaultConfigPath:
		log.Warn().Str("path", path).Msg("configuration file not found, using defaults")
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.BaseCurrency = model.NormalizeCode(c.BaseCurrency)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))

	for i := range c.Catalog {
		c.Catalog[i].Code = model.NormalizeCode(c.Catalog[i].Code)
	}
	for i := range c.Tracked {
		c.Tracked[i] = model.NormalizeCode(c.Tracked[i])
	}
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.BaseCurrency == "" {
		return errors.New("base currency is required")
	}
	if c.MaxRateAge <= 0 {
		return errors.New("maxRateAge must be positive")
	}
	if len(c.Catalog) == 0 && c.Storage.Driver != DriverPostgres {
		return errors.New("currency catalog is required unless storage driver is postgres")
	}
	if len(c.Tracked) == 0 {
		return errors.New("at least one tracked currency is required")
	}

	return nil
}

// connString builds the lib/pq connection url
func (s StorageConfig) connString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
		s.DBUsername,
		s.DBPassword,
		s.DBHost,
		s.DBPort,
		s.DBName,
	)
}
