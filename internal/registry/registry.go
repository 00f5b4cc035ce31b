// Package registry holds the static per-provider credential
// configuration: where each provider's secrets come from, which fields
// they require, and how logical field names map onto environment
// variables. The registry is fixed at compile time; there is no dynamic
// provider registration.
package registry

import (
	"fmt"

	"github.com/tripstack/credstore/pkg/credential"
)

// Kind classifies what a provider is used for. Storage providers get a
// canary write probe during connection tests; API providers get a cheap
// HTTP request.
type Kind string

const (
	KindStorage Kind = "storage"
	KindAPI     Kind = "api"
)

// Config is one static registry entry.
type Config struct {
	Provider credential.Provider

	// Kind selects the connection-test strategy for the provider.
	Kind Kind

	// Policy governs where credentials are read from.
	Policy credential.SourcePolicy

	// EnvMap maps logical field names to environment variable names.
	EnvMap map[string]string

	// Required lists the field names that must be present for the
	// provider to be usable. Optional fields may appear in EnvMap
	// without appearing here.
	Required []string

	// Shared marks credentials reused across environments, as opposed
	// to per-environment secrets.
	Shared bool
}

var configs = map[credential.Provider]Config{
	credential.ProviderS3: {
		Provider: credential.ProviderS3,
		Kind:     KindStorage,
		Policy:   credential.PolicyEnvOnly,
		EnvMap: map[string]string{
			"access_key_id":     "S3_ACCESS_KEY_ID",
			"secret_access_key": "S3_SECRET_ACCESS_KEY",
			"region":            "S3_REGION",
			"bucket":            "S3_BUCKET",
			"endpoint":          "S3_ENDPOINT",
		},
		Required: []string{"access_key_id", "secret_access_key", "region", "bucket"},
		Shared:   true,
	},
	credential.ProviderGCS: {
		Provider: credential.ProviderGCS,
		Kind:     KindStorage,
		Policy:   credential.PolicyHybrid,
		EnvMap: map[string]string{
			"project_id":       "GCS_PROJECT_ID",
			"credentials_json": "GCS_CREDENTIALS_JSON",
			"bucket":           "GCS_BUCKET",
		},
		Required: []string{"project_id", "credentials_json", "bucket"},
	},
	credential.ProviderAzureBlob: {
		Provider: credential.ProviderAzureBlob,
		Kind:     KindStorage,
		Policy:   credential.PolicyHybrid,
		EnvMap: map[string]string{
			"account_name": "AZURE_STORAGE_ACCOUNT",
			"account_key":  "AZURE_STORAGE_KEY",
			"container":    "AZURE_STORAGE_CONTAINER",
		},
		Required: []string{"account_name", "account_key", "container"},
	},
	credential.ProviderDuffel: {
		Provider: credential.ProviderDuffel,
		Kind:     KindAPI,
		Policy:   credential.PolicyDBOnly,
		EnvMap:   map[string]string{},
		Required: []string{"api_key"},
	},
	credential.ProviderAmadeus: {
		Provider: credential.ProviderAmadeus,
		Kind:     KindAPI,
		Policy:   credential.PolicyHybrid,
		EnvMap: map[string]string{
			"client_id":     "AMADEUS_CLIENT_ID",
			"client_secret": "AMADEUS_CLIENT_SECRET",
		},
		Required: []string{"client_id", "client_secret"},
	},
	credential.ProviderPexels: {
		Provider: credential.ProviderPexels,
		Kind:     KindAPI,
		Policy:   credential.PolicyEnvOnly,
		EnvMap: map[string]string{
			"api_key": "PEXELS_API_KEY",
		},
		Required: []string{"api_key"},
		Shared:   true,
	},
}

// Get returns the registry entry for p.
func Get(p credential.Provider) (Config, error) {
	cfg, ok := configs[p]
	if !ok {
		return Config{}, &credential.NotFoundError{Kind: "provider", Key: string(p)}
	}
	return cfg, nil
}

// All returns every registry entry, ordered like credential.Providers.
func All() []Config {
	out := make([]Config, 0, len(configs))
	for _, p := range credential.Providers() {
		out = append(out, configs[p])
	}
	return out
}

// SelfCheck verifies the registry invariant: every required field of an
// env-only or hybrid provider has an environment variable mapping.
// Called once at startup; a failure here is a programming error, not an
// operator mistake.
func SelfCheck() error {
	for _, cfg := range All() {
		if cfg.Policy == credential.PolicyDBOnly {
			continue
		}
		for _, field := range cfg.Required {
			if cfg.EnvMap[field] == "" {
				return fmt.Errorf("registry: provider %s requires field %q but has no environment mapping for it",
					cfg.Provider, field)
			}
		}
	}
	return nil
}
