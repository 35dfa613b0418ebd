package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
store:
  driver: memory
  wal_path: /tmp/ledger.wal
auth:
  jwt_secret: from-yaml
ledger:
  operation_timeout: 2s
`)
	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "/tmp/ledger.wal", cfg.Store.WALPath)
	assert.Equal(t, "from-yaml", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.Ledger.OperationTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, float64(10000), cfg.HTTP.RateLimit)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 3306, cfg.MySQL.Port)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
auth:
  jwt_secret: from-yaml
http:
  addr: ":9000"
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger?sslmode=disable")
	t.Setenv("HTTP_RATE_LIMIT", "50")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://ledger@localhost/ledger?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, float64(50), cfg.HTTP.RateLimit)
}

func TestDotEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "JWT_SECRET=from-dotenv\nLEDGER_OPERATION_TIMEOUT=750ms\n")
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("LEDGER_OPERATION_TIMEOUT")
	})

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.OperationTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Auth.JWTSecret = "s"
		c.setDefaults()
		return c
	}

	c := base()
	assert.NoError(t, c.Validate())

	c = base()
	c.Auth.JWTSecret = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Store.Driver = "sqlite"
	assert.Error(t, c.Validate())

	c = base()
	c.Store.Driver = DriverMySQL
	assert.Error(t, c.Validate())
	c.MySQL.Host, c.MySQL.DBName = "db", "ledger"
	assert.NoError(t, c.Validate())

	c = base()
	c.Audit.Enabled = true
	c.Audit.Schedule = "not a schedule"
	assert.Error(t, c.Validate())
}
