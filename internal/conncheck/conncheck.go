// Package conncheck runs end-to-end connection tests for stored
// credentials: it decrypts the credential, builds the matching storage
// backend or API probe, and exercises it against the real service.
package conncheck

import (
	"context"
	"time"

	"github.com/tripstack/credstore/internal/apiprobe"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/metrics"
	"github.com/tripstack/credstore/internal/registry"
	istorage "github.com/tripstack/credstore/internal/storage"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// Revealer supplies a credential's metadata and decrypted fields.
// Satisfied by *store.Store.
type Revealer interface {
	Reveal(ctx context.Context, id string) (credential.Metadata, map[string]string, error)
}

// storageFactory builds a storage backend; injectable for tests.
type storageFactory func(ctx context.Context, p credential.Provider, fields map[string]string, logger *logging.Logger) (storage.Provider, error)

// Runner tests stored credentials against their services.
type Runner struct {
	revealer Revealer
	prober   *apiprobe.Prober
	logger   *logging.Logger
	factory  storageFactory
	timeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds a single connection test.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithStorageFactory sets a custom backend factory (for testing).
func WithStorageFactory(f func(ctx context.Context, p credential.Provider, fields map[string]string, logger *logging.Logger) (storage.Provider, error)) Option {
	return func(r *Runner) { r.factory = f }
}

// New creates a Runner over a credential source and API prober.
func New(revealer Revealer, prober *apiprobe.Prober, logger *logging.Logger, opts ...Option) *Runner {
	r := &Runner{
		revealer: revealer,
		prober:   prober,
		logger:   logger,
		factory:  istorage.NewProvider,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Test runs a connection test for the credential with the given id and
// returns the result alongside the credential's metadata. Probe
// failures are results, not errors; the error return covers lookup and
// decryption problems only.
func (r *Runner) Test(ctx context.Context, id string) (credential.Metadata, storage.ConnectionTestResult, error) {
	meta, fields, err := r.revealer.Reveal(ctx, id)
	if err != nil {
		return credential.Metadata{}, storage.ConnectionTestResult{}, err
	}

	cfg, err := registry.Get(meta.Provider)
	if err != nil {
		return credential.Metadata{}, storage.ConnectionTestResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var result storage.ConnectionTestResult
	if cfg.Kind == registry.KindStorage {
		backend, err := r.factory(ctx, meta.Provider, fields, r.logger)
		if err != nil {
			return credential.Metadata{}, storage.ConnectionTestResult{}, err
		}
		result = backend.TestConnection(ctx)
	} else {
		result = r.prober.Probe(ctx, meta.Provider, fields)
	}

	metrics.RecordConnectionTest(string(meta.Provider), result.Success, result.Elapsed)
	if result.Success {
		r.logger.Info("connection test for %s (%s) passed in %s", id, meta.Provider, result.Elapsed)
	} else {
		r.logger.Warn("connection test for %s (%s) failed: %s", id, meta.Provider, result.Message)
	}
	return meta, result, nil
}
