// Package resolver turns a provider name into ready-to-use credential
// fields, honoring each provider's source policy: environment-only,
// database-only, or hybrid with environment taking precedence.
package resolver

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tripstack/credstore/internal/cache"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/metrics"
	"github.com/tripstack/credstore/internal/registry"
	"github.com/tripstack/credstore/pkg/credential"
)

// FieldSource supplies decrypted fields for a provider's active stored
// credential. Satisfied by *store.Store.
type FieldSource interface {
	ActiveFields(ctx context.Context, p credential.Provider) (map[string]string, error)
}

// Resolver resolves provider credentials per policy. Environment-sourced
// resolutions are pinned in a process-local cache (the environment does
// not change underneath a running process); database-sourced fields are
// cached by the store itself with a TTL.
type Resolver struct {
	source   FieldSource
	envCache *cache.Cache
	logger   *logging.Logger
	getenv   func(string) string

	mu        sync.RWMutex
	available map[credential.Provider]bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEnvLookup injects the environment lookup, for tests.
func WithEnvLookup(fn func(string) string) Option {
	return func(r *Resolver) { r.getenv = fn }
}

// New creates a Resolver backed by the given stored-credential source.
func New(source FieldSource, logger *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		source:    source,
		envCache:  cache.New(cache.DefaultTTL),
		logger:    logger,
		getenv:    os.Getenv,
		available: make(map[credential.Provider]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credential fields for a provider according to its
// policy. Hybrid providers try the environment first and fall back to
// the store wholesale: a partially populated environment is discarded,
// never merged with stored fields.
func (r *Resolver) Resolve(ctx context.Context, p credential.Provider) (map[string]string, error) {
	cfg, err := registry.Get(p)
	if err != nil {
		return nil, err
	}

	switch cfg.Policy {
	case credential.PolicyEnvOnly:
		fields, err := r.fromEnvironment(cfg)
		metrics.RecordResolution(string(p), "env", err)
		return fields, err

	case credential.PolicyDBOnly:
		fields, err := r.source.ActiveFields(ctx, p)
		metrics.RecordResolution(string(p), "db", err)
		return fields, err

	default: // hybrid
		fields, envErr := r.fromEnvironment(cfg)
		if envErr == nil {
			metrics.RecordResolution(string(p), "env", nil)
			return fields, nil
		}
		r.logger.Warn("%s not fully configured in environment, falling back to store: %v", p, envErr)

		fields, dbErr := r.source.ActiveFields(ctx, p)
		metrics.RecordResolution(string(p), "db", dbErr)
		if dbErr != nil {
			// Report the environment gap, not the whole variable map:
			// variables that are set are not missing.
			var cfgErr *credential.ConfigurationError
			if errors.As(envErr, &cfgErr) {
				return nil, &credential.ConfigurationError{
					Provider:    p,
					MissingVars: cfgErr.MissingVars,
					Hint:        "store an active credential via admin",
				}
			}
			return nil, envErr
		}
		return fields, nil
	}
}

// fromEnvironment reads the provider's mapped environment variables.
// Successful reads are pinned so repeated resolutions skip the lookup.
func (r *Resolver) fromEnvironment(cfg registry.Config) (map[string]string, error) {
	key := string(cfg.Provider)
	if fields, ok := r.envCache.Get(key); ok {
		metrics.RecordCacheEvent("hit")
		return fields, nil
	}

	required := make(map[string]bool, len(cfg.Required))
	for _, f := range cfg.Required {
		required[f] = true
	}

	fields := make(map[string]string, len(cfg.EnvMap))
	var missing []string
	for field, envVar := range cfg.EnvMap {
		v := strings.TrimSpace(r.getenv(envVar))
		if v == "" {
			if required[field] {
				missing = append(missing, envVar)
			}
			continue
		}
		fields[field] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &credential.ConfigurationError{
			Provider:    cfg.Provider,
			MissingVars: missing,
		}
	}

	r.envCache.Pin(key, fields)
	return fields, nil
}

// RefreshFromEnvironment drops the provider's pinned environment
// resolution, re-resolves it per policy, and updates the availability
// set. It reports whether the provider resolves now, so a caller that
// just corrected a deployment learns immediately whether it worked.
func (r *Resolver) RefreshFromEnvironment(ctx context.Context, p credential.Provider) bool {
	r.envCache.Invalidate(string(p))
	metrics.RecordCacheEvent("invalidate")

	_, err := r.Resolve(ctx, p)
	r.setAvailable(p, err == nil)
	if err != nil {
		r.logger.Warn("%s still unavailable after environment refresh: %v", p, err)
		return false
	}
	r.logger.Info("%s resolved after environment refresh", p)
	return true
}

// StartupSweep resolves every env-only provider once, records
// availability, and logs a summary. Database-backed providers are
// resolved on demand; probing them at boot would drag the database and
// encryption service into startup. Failures are logged, never fatal: a
// missing provider credential disables that provider, not the process.
func (r *Resolver) StartupSweep(ctx context.Context) map[credential.Provider]error {
	results := make(map[credential.Provider]error)
	ok, total := 0, 0
	for _, cfg := range registry.All() {
		if cfg.Policy != credential.PolicyEnvOnly {
			continue
		}
		total++
		_, err := r.Resolve(ctx, cfg.Provider)
		results[cfg.Provider] = err
		r.setAvailable(cfg.Provider, err == nil)

		if err != nil {
			r.logger.Warn("provider %s unavailable: %v", cfg.Provider, err)
			continue
		}
		ok++
		r.logger.Info("provider %s resolved from environment", cfg.Provider)
	}
	r.logger.Info("environment sweep complete: %d/%d env-only providers available", ok, total)
	return results
}

func (r *Resolver) setAvailable(p credential.Provider, ok bool) {
	r.mu.Lock()
	r.available[p] = ok
	r.mu.Unlock()
	metrics.SetProviderAvailable(string(p), ok)
}

// IsAvailable reports whether the last sweep or resolution marked the
// provider available. Providers never swept report false.
func (r *Resolver) IsAvailable(p credential.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[p]
}

// AvailableProviders returns the providers marked available, sorted.
func (r *Resolver) AvailableProviders() []credential.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []credential.Provider
	for p, ok := range r.available {
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policy returns the provider's source policy.
func (r *Resolver) Policy(p credential.Provider) (credential.SourcePolicy, error) {
	cfg, err := registry.Get(p)
	if err != nil {
		return "", err
	}
	return cfg.Policy, nil
}

// ProviderConfig returns the provider's registry configuration.
func (r *Resolver) ProviderConfig(p credential.Provider) (registry.Config, error) {
	return registry.Get(p)
}
