package credential

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed or incomplete credential fields.
// It always enumerates every offending field, not just the first, so an
// operator can fix the whole submission in one pass.
type ValidationError struct {
	// Provider is the provider whose field schema was violated.
	Provider Provider

	// Fields maps each offending field name to a human-readable reason.
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("invalid credential fields for %s: %s", e.Provider, strings.Join(parts, "; "))
}

// FieldNames returns the offending field names in sorted order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConflictError reports an operation that contradicts the current
// lifecycle state: creating when an active row exists, rotating a
// non-active row, or rolling back an already-active one.
type ConflictError struct {
	// Op is the operation that was attempted ("create", "rotate", "rollback").
	Op string

	// Reason explains the conflict and, where applicable, the correct
	// operation to use instead.
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Op, e.Reason)
}

// NotFoundError reports an unknown credential id, provider key, or
// stored object.
type NotFoundError struct {
	// Kind names what was missing: "credential", "provider", or "object".
	Kind string

	// Key is the identifier that could not be found.
	Key string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ConfigurationError reports a resolution failure: missing environment
// variables or an absent database row. It always names the actionable
// signal so an operator can correct the deployment immediately.
type ConfigurationError struct {
	// Provider is the provider that could not be resolved.
	Provider Provider

	// MissingVars lists every unset environment variable, when the
	// failure came from an environment read.
	MissingVars []string

	// Hint is an operator-facing remediation, e.g. "configure via admin".
	Hint string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if len(e.MissingVars) > 0 {
		msg := fmt.Sprintf("provider %s is not configured: missing environment variables %s",
			e.Provider, strings.Join(e.MissingVars, ", "))
		if e.Hint != "" {
			msg += "; " + e.Hint
		}
		return msg
	}
	if e.Hint != "" {
		return fmt.Sprintf("provider %s is not configured: %s", e.Provider, e.Hint)
	}
	return fmt.Sprintf("provider %s is not configured", e.Provider)
}

// TransportError reports a network or backend failure during a storage
// or external-API call. It always carries the backend name and wraps the
// original error.
type TransportError struct {
	// Backend names the backend that failed ("s3", "gcs", "azure-blob",
	// "postgres", "encryption-service", ...).
	Backend string

	// Op is the operation in flight ("upload", "download", "query", ...).
	Op string

	// NotFound marks the backend's native not-found signal, normalized
	// so callers can branch without knowing backend error vocabularies.
	NotFound bool

	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Backend, e.Op)
}

// Unwrap returns the wrapped backend error.
func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError or a TransportError
// carrying a normalized not-found signal.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te) && te.NotFound
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
