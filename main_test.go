package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kylycht/currencycalc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTPPort)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 6*time.Hour, cfg.MaxRateAge)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.Tracked)
	assert.NotEmpty(t, cfg.Catalog)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
httpPort: ":4000"
baseCurrency: eur
maxRateAge: 2h
storage:
  driver: SQLite
  sqlitePath: /tmp/rates.db
exchange:
  staticRates:
    USD: 1.08
catalog:
  - code: eur
    name: Euro
    symbol: "€"
  - code: USD
    name: US Dollar
    symbol: "$"
tracked: [eur]
`)

	t.Setenv("CURRENCYCALC_STORAGE_DRIVER", "redis")
	t.Setenv("CURRENCYCALC_TRACKED", "usd,eur")
	t.Setenv("CURRENCYCALC_EXCHANGE_API_KEY", "secret")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.HTTPPort)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, 2*time.Hour, cfg.MaxRateAge)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/rates.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "secret", cfg.Exchange.APIKey)
	assert.Equal(t, map[string]float64{"USD": 1.08}, cfg.Exchange.StaticRates)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.Tracked)
	assert.Equal(t, []model.Currency{
		{Code: "EUR", Name: "Euro", Symbol: "€"},
		{Code: "USD", Name: "US Dollar", Symbol: "$"},
	}, cfg.Catalog)
}

func TestLoadConfigDotEnv(t *testing.T) {
	const key = "CURRENCYCALC_HTTP_PORT"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=:8080\n")

	cfg, err := loadConfig(defaultConfigPath, envFile)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPPort)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"empty base", "baseCurrency: \" \"\n"},
		{"no tracked", "tracked: []\n"},
		{"no catalog", "catalog: []\n"},
		{"bad duration", "maxRateAge: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, "config.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConnString(t *testing.T) {
	s := StorageConfig{DBUsername: "calc", DBPassword: "pw", DBHost: "db", DBPort: "5432", DBName: "rates"}
	assert.Equal(t, "postgresql://calc:pw@db:5432/rates?sslmode=disable", s.connString())
}

func TestSplitKeys(t *testing.T) {
	assert.Equal(t, []string{"1", "2", ".", "5"}, splitKeys("12.5"))
	assert.Equal(t, []string{"*"}, splitKeys("*"))
	assert.Equal(t, []string{"AC"}, splitKeys("AC"))
}

const cliConfig = `
logLevel: error
storage:
  driver: %s
  sqlitePath: %s
exchange:
  staticRates:
    EUR: %s
    GBP: 0.8
tracked: [USD, EUR]
`

func runCLI(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	app := newCLI()
	app.Writer = &out

	require.NoError(t, app.Run(append([]string{"currencycalc"}, args...)))
	return out.String()
}

func memoryConfig(t *testing.T) string {
	t.Helper()
	return writeFile(t, "config.yaml", fmt.Sprintf(cliConfig, DriverMemory, "", "0.92"))
}

func TestConvertCommand(t *testing.T) {
	out := runCLI(t, "--config", memoryConfig(t), "convert", "--from", "USD", "--to", "EUR", "--amount", "100")
	assert.Equal(t, "92.00\n", out)
}

func TestCalcCommand(t *testing.T) {
	out := runCLI(t, "--config", memoryConfig(t), "calc", "50", "*", "2", "=")
	assert.Equal(t, "100\n* USD\t100.00\n  EUR\t92.00\n", out)
}

func TestRatesCommand(t *testing.T) {
	out := runCLI(t, "--config", memoryConfig(t), "rates")
	assert.Contains(t, out, "base USD updated ")
	assert.Contains(t, out, "EUR\t0.92\n")
	assert.Contains(t, out, "GBP\t0.8\n")
	assert.NotContains(t, out, "stale")
}

func TestRefreshPersistsWithSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rates.db")

	out := runCLI(t, "--config", writeFile(t, "config.yaml", fmt.Sprintf(cliConfig, DriverSQLite, dbPath, "0.92")), "refresh")
	assert.Contains(t, out, "fetched 3 rates for USD")

	// a fresh persisted snapshot is used instead of the changed table
	out = runCLI(t, "--config", writeFile(t, "config.yaml", fmt.Sprintf(cliConfig, DriverSQLite, dbPath, "0.5")),
		"convert", "--from", "USD", "--to", "EUR", "--amount", "100")
	assert.Equal(t, "92.00\n", out)
}

func TestUnknownCommandKey(t *testing.T) {
	app := newCLI()
	app.Writer = &bytes.Buffer{}

	err := app.Run([]string{"currencycalc", "--config", memoryConfig(t), "calc", "1", "?"})
	assert.Error(t, err)
}

func newTestApplication(t *testing.T, port string) *Application {
	t.Helper()

	cfg, err := loadConfig(memoryConfig(t))
	require.NoError(t, err)
	cfg.HTTPPort = port

	a, err := newApplication(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeShutsDownWhenContextEnds(t *testing.T) {
	addr := freePort(t)
	a := newTestApplication(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/rates")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after context cancel")
	}
}

func TestServeReturnsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint: errcheck

	a := newTestApplication(t, ln.Addr().String())

	done := make(chan error, 1)
	go func() { done <- a.serve(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after listen failure")
	}
}
