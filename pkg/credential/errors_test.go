package credential_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripstack/credstore/pkg/credential"
)

func TestValidationError_EnumeratesAllFields(t *testing.T) {
	t.Parallel()

	err := &credential.ValidationError{
		Provider: credential.ProviderS3,
		Fields: map[string]string{
			"secret_access_key": "required field is missing",
			"access_key_id":     "required field is missing",
			"region":            "must not be empty",
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "access_key_id")
	assert.Contains(t, msg, "secret_access_key")
	assert.Contains(t, msg, "region")
	assert.Equal(t, []string{"access_key_id", "region", "secret_access_key"}, err.FieldNames())
}

func TestConfigurationError_NamesMissingVariables(t *testing.T) {
	t.Parallel()

	err := &credential.ConfigurationError{
		Provider:    credential.ProviderS3,
		MissingVars: []string{"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY"},
	}
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY_ID")
	assert.Contains(t, err.Error(), "S3_SECRET_ACCESS_KEY")

	hinted := &credential.ConfigurationError{
		Provider: credential.ProviderDuffel,
		Hint:     "configure via admin",
	}
	assert.Contains(t, hinted.Error(), "configure via admin")
}

func TestTransportError_WrapsAndClassifies(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: connection refused")
	err := &credential.TransportError{Backend: "s3", Op: "upload", Err: inner}

	assert.Contains(t, err.Error(), "s3")
	assert.Contains(t, err.Error(), "upload")
	assert.ErrorIs(t, err, inner)
	assert.False(t, credential.IsNotFound(err))

	nf := &credential.TransportError{Backend: "gcs", Op: "download", NotFound: true, Err: inner}
	assert.True(t, credential.IsNotFound(nf))
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"validation", &credential.ValidationError{Provider: credential.ProviderPexels}, credential.IsValidation, true},
		{"conflict", &credential.ConflictError{Op: "create", Reason: "active credential exists"}, credential.IsConflict, true},
		{"not found", &credential.NotFoundError{Kind: "credential", Key: "abc"}, credential.IsNotFound, true},
		{"configuration", &credential.ConfigurationError{Provider: credential.ProviderGCS}, credential.IsConfiguration, true},
		{"transport", &credential.TransportError{Backend: "azure-blob", Op: "list"}, credential.IsTransport, true},
		{"wrapped conflict", fmt.Errorf("outer: %w", &credential.ConflictError{Op: "rotate", Reason: "not active"}), credential.IsConflict, true},
		{"plain error is none", errors.New("boom"), credential.IsConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.pred(tt.err))
		})
	}
}

func TestProviderValid(t *testing.T) {
	t.Parallel()

	for _, p := range credential.Providers() {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, credential.Provider("dropbox").Valid())

	require.Len(t, credential.Providers(), 6)
}
