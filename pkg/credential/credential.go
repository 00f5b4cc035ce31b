// Package credential defines the core types for the credential lifecycle
// subsystem: the fixed provider set, source policies, credential metadata,
// and the error taxonomy shared by the store, resolver, and storage layers.
//
// A credential is a single encrypted secret bundle for one provider. Rows
// form a version chain via parent references: rotation deactivates the
// current row and inserts a new one with version = parent.version + 1.
// At most one row per provider is active at any time.
//
// Secrets never appear in Metadata. The only plaintext read path is the
// store's Reveal operation, which callers must treat as privileged.
package credential

import "time"

// Provider identifies one external integration. The set is fixed; unknown
// keys are rejected at every entry point.
type Provider string

// Supported providers.
const (
	// ProviderS3 is the primary object-storage backend (S3 or any
	// S3-compatible endpoint such as R2).
	ProviderS3 Provider = "s3"

	// ProviderGCS is the Google Cloud Storage backend.
	ProviderGCS Provider = "gcs"

	// ProviderAzureBlob is the Azure Blob Storage backend.
	ProviderAzureBlob Provider = "azure-blob"

	// ProviderDuffel is the flight-data API.
	ProviderDuffel Provider = "duffel"

	// ProviderAmadeus is the travel-data API (OAuth client credentials).
	ProviderAmadeus Provider = "amadeus"

	// ProviderPexels is the stock-imagery API.
	ProviderPexels Provider = "pexels"
)

// Providers returns the fixed provider set in a stable order.
func Providers() []Provider {
	return []Provider{
		ProviderS3,
		ProviderGCS,
		ProviderAzureBlob,
		ProviderDuffel,
		ProviderAmadeus,
		ProviderPexels,
	}
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderS3, ProviderGCS, ProviderAzureBlob,
		ProviderDuffel, ProviderAmadeus, ProviderPexels:
		return true
	}
	return false
}

// String returns the provider key.
func (p Provider) String() string { return string(p) }

// SourcePolicy governs where a provider's credentials are read from.
type SourcePolicy string

const (
	// PolicyEnvOnly resolves exclusively from mapped environment
	// variables. Resolution fails fast when any required variable is
	// missing; the database is never consulted.
	PolicyEnvOnly SourcePolicy = "env-only"

	// PolicyDBOnly resolves exclusively from the credential store's
	// active row for the provider.
	PolicyDBOnly SourcePolicy = "db-only"

	// PolicyHybrid tries the environment first and falls back to the
	// credential store wholesale when the environment read fails.
	PolicyHybrid SourcePolicy = "hybrid"
)

// Status is the lifecycle state of a credential row.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Metadata describes a credential row without its secret payload.
// This is the shape every store read path returns except Reveal.
type Metadata struct {
	ID            string     `json:"id"`
	ParentID      *string    `json:"parent_id,omitempty"`
	Provider      Provider   `json:"provider"`
	Name          string     `json:"name"`
	Version       int        `json:"version"`
	Active        bool       `json:"active"`
	Status        Status     `json:"status"`
	LastRotatedAt *time.Time `json:"last_rotated_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CreatedBy     *string    `json:"created_by,omitempty"`
	UpdatedBy     *string    `json:"updated_by,omitempty"`
}

// MetadataUpdate carries the mutable non-secret attributes of a row.
// Nil fields are left untouched. The encrypted payload can never be
// changed through a metadata update; that path is rotation only.
type MetadataUpdate struct {
	Name      *string    `json:"name,omitempty"`
	Status    *Status    `json:"status,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
