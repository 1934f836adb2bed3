// Package config loads server settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        int
	Store       string
	SQLitePath  string
	DatabaseURL string

	LogLevel string
	Env      string

	Tolerance ledger.Tolerance
	// VerifyInterval is how often every account's trail is replayed.
	// Zero disables the background verifier.
	VerifyInterval time.Duration
	AllowOrigins   []string
}

// Development reports whether logs should be human readable.
func (c *Config) Development() bool { return c.Env == "development" }

// Load reads the given .env files (default ".env"; a missing file is fine)
// and then the process environment. Variables already set in the
// environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		Store:       getEnv("LEDGER_STORE", StoreSQLite),
		SQLitePath:  getEnv("LEDGER_SQLITE_PATH", "ledger.db"),
		DatabaseURL: getEnv("LEDGER_DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("APP_ENV", "production"),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(getEnv("LEDGER_PORT", "8080")); err != nil {
		return nil, fmt.Errorf("LEDGER_PORT: %w", err)
	}

	def := ledger.DefaultTolerance()
	if cfg.Tolerance.Metal, err = getDecimal("LEDGER_METAL_TOLERANCE", def.Metal); err != nil {
		return nil, err
	}
	if cfg.Tolerance.Cash, err = getDecimal("LEDGER_CASH_TOLERANCE", def.Cash); err != nil {
		return nil, err
	}

	if cfg.VerifyInterval, err = time.ParseDuration(getEnv("LEDGER_VERIFY_INTERVAL", "1h")); err != nil {
		return nil, fmt.Errorf("LEDGER_VERIFY_INTERVAL: %w", err)
	}

	for _, origin := range strings.Split(getEnv("LEDGER_ALLOW_ORIGINS", ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite store needs LEDGER_SQLITE_PATH")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres store needs LEDGER_DATABASE_URL")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want sqlite, postgres or memory)", c.Store)
	}
	if c.Tolerance.Metal.IsNegative() || c.Tolerance.Cash.IsNegative() {
		return errors.New("tolerances must not be negative")
	}
	if c.VerifyInterval < 0 {
		return errors.New("verify interval must not be negative")
	}
	return nil
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
