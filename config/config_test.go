package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"LEDGER_PORT", "LEDGER_STORE", "LEDGER_SQLITE_PATH", "LEDGER_DATABASE_URL",
	"LOG_LEVEL", "APP_ENV", "LEDGER_METAL_TOLERANCE", "LEDGER_CASH_TOLERANCE",
	"LEDGER_VERIFY_INTERVAL", "LEDGER_ALLOW_ORIGINS",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range configKeys {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func() { os.Setenv(k, v) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "ledger.db", cfg.SQLitePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Development())
	assert.True(t, cfg.Tolerance.Metal.Equal(decimal.RequireFromString("0.005")))
	assert.True(t, cfg.Tolerance.Cash.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, time.Hour, cfg.VerifyInterval)
	assert.Empty(t, cfg.AllowOrigins)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"LEDGER_PORT=9090\n"+
			"LEDGER_STORE=memory\n"+
			"LEDGER_METAL_TOLERANCE=0.001\n"+
			"LEDGER_VERIFY_INTERVAL=0\n"+
			"LEDGER_ALLOW_ORIGINS=http://localhost:5173, https://shop.example\n"+
			"APP_ENV=development\n",
	), 0o600))

	// Process environment wins over the file.
	t.Setenv("LEDGER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.Tolerance.Metal.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, time.Duration(0), cfg.VerifyInterval)
	assert.Equal(t, []string{"http://localhost:5173", "https://shop.example"}, cfg.AllowOrigins)
	assert.True(t, cfg.Development())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "LEDGER_PORT", "eighty"},
		{"unknown store", "LEDGER_STORE", "mongo"},
		{"postgres without url", "LEDGER_STORE", "postgres"},
		{"bad tolerance", "LEDGER_CASH_TOLERANCE", "one rupee"},
		{"negative tolerance", "LEDGER_METAL_TOLERANCE", "-0.1"},
		{"bad interval", "LEDGER_VERIFY_INTERVAL", "hourly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
