package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Server.DefaultFormat)
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, 3, cfg.Transaction.DeadlockRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Transaction.RetryDelay)
	assert.Equal(t, "models", cfg.Codegen.Package)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
database:
  dialect: postgres
  dsn: postgres://localhost/shop
transaction:
  deadlock_retries: 5
  retry_delay: 50ms
  isolation: read committed
`)
	t.Setenv("NKIT_SERVER_PORT", "7070")
	t.Setenv("NKIT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env overrides the file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "postgres://localhost/shop", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Transaction.DeadlockRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Transaction.RetryDelay)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "keys absent from the file come from env")

	level, err := cfg.Transaction.IsolationLevel()
	require.NoError(t, err)
	assert.Equal(t, sql.LevelReadCommitted, level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := &Config{
		Server:      ServerConfig{Port: 0, DefaultFormat: "csv"},
		Transaction: TransactionConfig{DeadlockRetries: -1, Isolation: "chaos"},
		Logging:     LoggingConfig{Format: "xml"},
		Auth:        AuthConfig{JWTSecret: "short"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"server.port",
		"server.default_format",
		"database.dialect is required",
		"database.dsn is required",
		"transaction.deadlock_retries",
		"transaction.isolation",
		"logging.format",
		"auth.jwt_secret",
		"codegen.package",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
