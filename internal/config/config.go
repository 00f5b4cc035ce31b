// Package config loads the service configuration from a YAML file with
// environment-variable overrides. Every value has a sane default; a
// missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the admin HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// Database holds credential-store database settings.
	Database DatabaseConfig `yaml:"database"`

	// Encryption holds encryption-service settings.
	Encryption EncryptionConfig `yaml:"encryption"`

	// CacheTTL bounds how long database-sourced credential fields are
	// served without re-reading the store.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// SweepTimeout bounds the startup credential sweep.
	SweepTimeout time.Duration `yaml:"sweep_timeout"`

	// ProbeTimeout bounds a single connection test.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// DatabaseConfig selects and addresses the credential database.
type DatabaseConfig struct {
	// Type is postgres, postgresql, mysql, or mariadb.
	Type string `yaml:"type"`

	// DSN is the driver connection string.
	DSN string `yaml:"dsn"`
}

// EncryptionConfig addresses the external encryption service.
type EncryptionConfig struct {
	// URL is the encryption service base URL.
	URL string `yaml:"url"`

	// Token authenticates to the encryption service. Prefer setting it
	// via CREDSTORE_ENCRYPTION_TOKEN over the config file.
	Token string `yaml:"token"`

	// Timeout bounds one encrypt/decrypt round-trip.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8745",
		Database: DatabaseConfig{
			Type: "postgres",
			DSN:  "postgres://localhost/credstore?sslmode=disable",
		},
		Encryption: EncryptionConfig{
			URL:     "http://localhost:8200",
			Timeout: 10 * time.Second,
		},
		CacheTTL:     5 * time.Minute,
		SweepTimeout: 30 * time.Second,
		ProbeTimeout: 30 * time.Second,
	}
}

// Load reads the config file at path (when it exists), then applies
// environment overrides. An empty path checks credstore.yaml in the
// working directory.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "credstore.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setString(&cfg.ListenAddr, "CREDSTORE_LISTEN_ADDR")
	setString(&cfg.Database.Type, "CREDSTORE_DB_TYPE")
	setString(&cfg.Database.DSN, "CREDSTORE_DB_DSN")
	setString(&cfg.Encryption.URL, "CREDSTORE_ENCRYPTION_URL")
	setString(&cfg.Encryption.Token, "CREDSTORE_ENCRYPTION_TOKEN")

	setDuration := func(dst *time.Duration, name string) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setDuration(&cfg.CacheTTL, "CREDSTORE_CACHE_TTL")
	setDuration(&cfg.SweepTimeout, "CREDSTORE_SWEEP_TIMEOUT")
	setDuration(&cfg.ProbeTimeout, "CREDSTORE_PROBE_TIMEOUT")

	if v := os.Getenv("CREDSTORE_DEBUG"); v == "1" || v == "true" {
		cfg.Debug = true
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn must not be empty")
	}
	if c.Encryption.URL == "" {
		return fmt.Errorf("config: encryption.url must not be empty")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive")
	}
	return nil
}
