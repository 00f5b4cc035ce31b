package resolver_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/resolver"
	"github.com/tripstack/credstore/pkg/credential"
)

// fieldSourceFunc adapts a function to the FieldSource interface.
type fieldSourceFunc func(ctx context.Context, p credential.Provider) (map[string]string, error)

func (f fieldSourceFunc) ActiveFields(ctx context.Context, p credential.Provider) (map[string]string, error) {
	return f(ctx, p)
}

func noStore(t *testing.T) fieldSourceFunc {
	return func(_ context.Context, p credential.Provider) (map[string]string, error) {
		t.Errorf("unexpected store lookup for %s", p)
		return nil, errors.New("unexpected")
	}
}

func emptyStore() fieldSourceFunc {
	return func(_ context.Context, p credential.Provider) (map[string]string, error) {
		return nil, &credential.ConfigurationError{Provider: p, Hint: "no active credential in the store; configure via admin"}
	}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, false, true)
}

func envFrom(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestResolveEnvOnly(t *testing.T) {
	t.Parallel()

	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"PEXELS_API_KEY": "px-key",
	})))

	fields, err := r.Resolve(context.Background(), credential.ProviderPexels)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_key": "px-key"}, fields)
}

func TestResolveEnvOnlyMissingNamesVariables(t *testing.T) {
	t.Parallel()

	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"S3_REGION": "us-east-1",
	})))

	_, err := r.Resolve(context.Background(), credential.ProviderS3)
	require.Error(t, err)
	assert.True(t, credential.IsConfiguration(err))
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY_ID")
	assert.Contains(t, err.Error(), "S3_BUCKET")
	assert.Contains(t, err.Error(), "S3_SECRET_ACCESS_KEY")
	assert.NotContains(t, err.Error(), "S3_ENDPOINT", "optional variables are not reported missing")
}

func TestResolveEnvOnlyNeverConsultsStore(t *testing.T) {
	t.Parallel()

	// Env-only providers fail fast even when a stored credential exists.
	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(nil)))

	_, err := r.Resolve(context.Background(), credential.ProviderPexels)
	require.Error(t, err)
	assert.True(t, credential.IsConfiguration(err))
}

func TestResolveEnvResultIsPinned(t *testing.T) {
	t.Parallel()

	vars := map[string]string{"PEXELS_API_KEY": "first"}
	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(vars)))

	fields, err := r.Resolve(context.Background(), credential.ProviderPexels)
	require.NoError(t, err)
	assert.Equal(t, "first", fields["api_key"])

	vars["PEXELS_API_KEY"] = "second"
	fields, err = r.Resolve(context.Background(), credential.ProviderPexels)
	require.NoError(t, err)
	assert.Equal(t, "first", fields["api_key"], "pinned resolution must not re-read the environment")

	assert.True(t, r.RefreshFromEnvironment(context.Background(), credential.ProviderPexels))
	fields, err = r.Resolve(context.Background(), credential.ProviderPexels)
	require.NoError(t, err)
	assert.Equal(t, "second", fields["api_key"])
}

func TestRefreshFromEnvironmentUpdatesAvailability(t *testing.T) {
	t.Parallel()

	vars := map[string]string{}
	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(vars)))

	r.StartupSweep(context.Background())
	assert.False(t, r.IsAvailable(credential.ProviderPexels))

	// The variable is still unset: refresh reports failure and the
	// provider stays unavailable.
	assert.False(t, r.RefreshFromEnvironment(context.Background(), credential.ProviderPexels))
	assert.False(t, r.IsAvailable(credential.ProviderPexels))

	// Operator fixes the deployment; a refresh flips availability.
	vars["PEXELS_API_KEY"] = "px-key"
	assert.True(t, r.RefreshFromEnvironment(context.Background(), credential.ProviderPexels))
	assert.True(t, r.IsAvailable(credential.ProviderPexels))

	fields, err := r.Resolve(context.Background(), credential.ProviderPexels)
	require.NoError(t, err)
	assert.Equal(t, "px-key", fields["api_key"])
	assert.Contains(t, r.AvailableProviders(), credential.ProviderPexels)
}

func TestResolveDBOnly(t *testing.T) {
	t.Parallel()

	src := fieldSourceFunc(func(_ context.Context, p credential.Provider) (map[string]string, error) {
		assert.Equal(t, credential.ProviderDuffel, p)
		return map[string]string{"api_key": "duffel_live_abc"}, nil
	})
	// Environment is irrelevant for db-only providers.
	r := resolver.New(src, testLogger(), resolver.WithEnvLookup(envFrom(nil)))

	fields, err := r.Resolve(context.Background(), credential.ProviderDuffel)
	require.NoError(t, err)
	assert.Equal(t, "duffel_live_abc", fields["api_key"])
}

func TestResolveHybridPrefersEnvironment(t *testing.T) {
	t.Parallel()

	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"AMADEUS_CLIENT_ID":     "cid",
		"AMADEUS_CLIENT_SECRET": "csec",
	})))

	fields, err := r.Resolve(context.Background(), credential.ProviderAmadeus)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client_id": "cid", "client_secret": "csec"}, fields)
}

func TestResolveHybridFallsBackWholesale(t *testing.T) {
	t.Parallel()

	stored := map[string]string{"client_id": "db-cid", "client_secret": "db-csec"}
	src := fieldSourceFunc(func(_ context.Context, p credential.Provider) (map[string]string, error) {
		return stored, nil
	})
	// client_id set, client_secret missing: the partial environment read
	// is discarded entirely, never merged with stored fields.
	r := resolver.New(src, testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"AMADEUS_CLIENT_ID": "env-cid",
	})))

	fields, err := r.Resolve(context.Background(), credential.ProviderAmadeus)
	require.NoError(t, err)
	assert.Equal(t, stored, fields)
	assert.NotEqual(t, "env-cid", fields["client_id"])
}

func TestResolveHybridBothMissing(t *testing.T) {
	t.Parallel()

	r := resolver.New(emptyStore(), testLogger(), resolver.WithEnvLookup(envFrom(nil)))

	_, err := r.Resolve(context.Background(), credential.ProviderAmadeus)
	require.Error(t, err)
	assert.True(t, credential.IsConfiguration(err))
	assert.Contains(t, err.Error(), "AMADEUS_CLIENT_ID")
	assert.Contains(t, err.Error(), "AMADEUS_CLIENT_SECRET")
	assert.Contains(t, err.Error(), "admin")
}

func TestResolveHybridFailureNamesOnlyUnsetVariables(t *testing.T) {
	t.Parallel()

	// client_id is set: a dual failure must not report it missing.
	r := resolver.New(emptyStore(), testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"AMADEUS_CLIENT_ID": "cid",
	})))

	_, err := r.Resolve(context.Background(), credential.ProviderAmadeus)
	require.Error(t, err)
	assert.True(t, credential.IsConfiguration(err))
	assert.Contains(t, err.Error(), "AMADEUS_CLIENT_SECRET")
	assert.NotContains(t, err.Error(), "AMADEUS_CLIENT_ID,")
	assert.NotContains(t, err.Error(), "variables AMADEUS_CLIENT_ID")
	assert.Contains(t, err.Error(), "admin")
}

func TestStartupSweep(t *testing.T) {
	t.Parallel()

	// The boot sweep covers env-only providers and must never reach for
	// the store: db-only and hybrid providers resolve on demand.
	r := resolver.New(noStore(t), testLogger(), resolver.WithEnvLookup(envFrom(map[string]string{
		"PEXELS_API_KEY": "px",
	})))

	results := r.StartupSweep(context.Background())
	require.Len(t, results, 2)

	assert.NoError(t, results[credential.ProviderPexels])
	assert.Error(t, results[credential.ProviderS3])
	assert.NotContains(t, results, credential.ProviderDuffel)
	assert.NotContains(t, results, credential.ProviderAmadeus)
	assert.NotContains(t, results, credential.ProviderGCS)
	assert.NotContains(t, results, credential.ProviderAzureBlob)

	assert.True(t, r.IsAvailable(credential.ProviderPexels))
	assert.False(t, r.IsAvailable(credential.ProviderS3))
	assert.False(t, r.IsAvailable(credential.ProviderDuffel))

	assert.Equal(t, []credential.Provider{credential.ProviderPexels}, r.AvailableProviders())
}

func TestPolicy(t *testing.T) {
	t.Parallel()

	r := resolver.New(emptyStore(), testLogger())

	policy, err := r.Policy(credential.ProviderGCS)
	require.NoError(t, err)
	assert.Equal(t, credential.PolicyHybrid, policy)

	_, err = r.Policy(credential.Provider("mystery"))
	require.Error(t, err)
	assert.True(t, credential.IsNotFound(err))
}
