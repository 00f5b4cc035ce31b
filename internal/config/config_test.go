package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstack/credstore/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err, "an explicit missing path is an error")

	cfg = config.Default()
	assert.Equal(t, ":8745", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
database:
  type: mysql
  dsn: "user:pass@tcp(localhost:3306)/credstore"
encryption:
  url: "https://vault.internal:8200"
  timeout: 5s
cache_ttl: 2m
debug: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "https://vault.internal:8200", cfg.Encryption.URL)
	assert.Equal(t, 5*time.Second, cfg.Encryption.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.Debug)
	// Values absent from the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.SweepTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
database:
  dsn: "postgres://file/credstore"
`)

	t.Setenv("CREDSTORE_LISTEN_ADDR", ":7777")
	t.Setenv("CREDSTORE_DB_DSN", "postgres://env/credstore")
	t.Setenv("CREDSTORE_ENCRYPTION_TOKEN", "tok-from-env")
	t.Setenv("CREDSTORE_CACHE_TTL", "90s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "postgres://env/credstore", cfg.Database.DSN)
	assert.Equal(t, "tok-from-env", cfg.Encryption.Token)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `cache_ttl: -1s`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_ttl")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "listen_addr: [not, a, string")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
