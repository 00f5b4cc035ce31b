package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstack/credstore/internal/httpapi"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// fakeStore implements CredentialStore with injectable behavior.
type fakeStore struct {
	create         func(ctx context.Context, p credential.Provider, name string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error)
	get            func(ctx context.Context, id string) (credential.Metadata, error)
	list           func(ctx context.Context) ([]credential.Metadata, error)
	history        func(ctx context.Context, id string) ([]credential.Metadata, error)
	reveal         func(ctx context.Context, id string) (credential.Metadata, map[string]string, error)
	rotate         func(ctx context.Context, id string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error)
	rollback       func(ctx context.Context, id string, actor string) (credential.Metadata, error)
	remove         func(ctx context.Context, id string, actor string) (credential.Metadata, error)
	updateMetadata func(ctx context.Context, id string, upd credential.MetadataUpdate, actor string) (credential.Metadata, error)
}

func (f *fakeStore) Create(ctx context.Context, p credential.Provider, name string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	return f.create(ctx, p, name, fields, expiresAt, actor)
}

func (f *fakeStore) Get(ctx context.Context, id string) (credential.Metadata, error) {
	return f.get(ctx, id)
}

func (f *fakeStore) List(ctx context.Context) ([]credential.Metadata, error) { return f.list(ctx) }

func (f *fakeStore) History(ctx context.Context, id string) ([]credential.Metadata, error) {
	return f.history(ctx, id)
}

func (f *fakeStore) Reveal(ctx context.Context, id string) (credential.Metadata, map[string]string, error) {
	return f.reveal(ctx, id)
}

func (f *fakeStore) Rotate(ctx context.Context, id string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	return f.rotate(ctx, id, fields, expiresAt, actor)
}

func (f *fakeStore) Rollback(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	return f.rollback(ctx, id, actor)
}

func (f *fakeStore) Remove(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	return f.remove(ctx, id, actor)
}

func (f *fakeStore) UpdateMetadata(ctx context.Context, id string, upd credential.MetadataUpdate, actor string) (credential.Metadata, error) {
	return f.updateMetadata(ctx, id, upd, actor)
}

type fakeReporter struct {
	available map[credential.Provider]bool
	refreshed []credential.Provider
	refreshOK bool
}

func (f *fakeReporter) IsAvailable(p credential.Provider) bool { return f.available[p] }

func (f *fakeReporter) RefreshFromEnvironment(_ context.Context, p credential.Provider) bool {
	f.refreshed = append(f.refreshed, p)
	return f.refreshOK
}

type fakeTester struct {
	meta   credential.Metadata
	result storage.ConnectionTestResult
	err    error
}

func (f *fakeTester) Test(_ context.Context, _ string) (credential.Metadata, storage.ConnectionTestResult, error) {
	return f.meta, f.result, f.err
}

func newServer(store *fakeStore, reporter *fakeReporter, tester *fakeTester) *httpapi.Server {
	if reporter == nil {
		reporter = &fakeReporter{}
	}
	if tester == nil {
		tester = &fakeTester{}
	}
	return httpapi.NewServer(store, reporter, tester, logging.NewWithWriter(io.Discard, false, true))
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestCreateCredential(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		create: func(_ context.Context, p credential.Provider, name string, fields map[string]string, _ *time.Time, actor string) (credential.Metadata, error) {
			assert.Equal(t, credential.ProviderDuffel, p)
			assert.Equal(t, "Duffel production key", name)
			assert.Equal(t, "ops@tripstack", actor)
			return credential.Metadata{ID: "id-1", Provider: p, Name: name, Version: 1, Active: true, Status: credential.StatusActive}, nil
		},
	}
	srv := newServer(store, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials",
		`{"provider":"duffel","name":"Duffel production key","fields":{"api_key":"duffel_live_abc"}}`,
		map[string]string{"X-Actor": "ops@tripstack"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "id-1", body["id"])
	assert.Equal(t, float64(1), body["version"])
}

func TestCreateRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	srv := newServer(&fakeStore{}, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials",
		`{"provider":"dropbox","name":"x","fields":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown provider")
}

func TestCreateValidationErrorListsFields(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		create: func(_ context.Context, p credential.Provider, _ string, _ map[string]string, _ *time.Time, _ string) (credential.Metadata, error) {
			return credential.Metadata{}, &credential.ValidationError{
				Provider: p,
				Fields:   map[string]string{"access_key_id": "is required", "bucket": "is required"},
			}
		},
	}
	srv := newServer(store, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials",
		`{"provider":"s3","name":"x","fields":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok, "validation responses must enumerate failing fields")
	assert.Contains(t, fields, "access_key_id")
	assert.Contains(t, fields, "bucket")
}

func TestCreateConflictIs409(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		create: func(_ context.Context, _ credential.Provider, _ string, _ map[string]string, _ *time.Time, _ string) (credential.Metadata, error) {
			return credential.Metadata{}, &credential.ConflictError{Op: "create", Reason: "an active credential already exists for duffel; rotate instead"}
		},
	}
	srv := newServer(store, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials",
		`{"provider":"duffel","name":"x","fields":{"api_key":"k"}}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "rotate instead")
}

func TestGetNotFoundIs404(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		get: func(_ context.Context, id string) (credential.Metadata, error) {
			return credential.Metadata{}, &credential.NotFoundError{Kind: "credential", Key: id}
		},
	}
	srv := newServer(store, nil, nil)

	rec, _ := doJSON(t, srv, http.MethodGet, "/v1/credentials/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevealReturnsFields(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		reveal: func(_ context.Context, id string) (credential.Metadata, map[string]string, error) {
			return credential.Metadata{ID: id, Provider: credential.ProviderDuffel},
				map[string]string{"api_key": "duffel_live_abc"}, nil
		},
	}
	srv := newServer(store, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials/id-1/reveal", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	fields := body["fields"].(map[string]interface{})
	assert.Equal(t, "duffel_live_abc", fields["api_key"])
}

func TestListIsNeverNull(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		list: func(_ context.Context) ([]credential.Metadata, error) { return nil, nil },
	}
	srv := newServer(store, nil, nil)

	rec, _ := doJSON(t, srv, http.MethodGet, "/v1/credentials", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credentials":[]`)
}

func TestRotate(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		rotate: func(_ context.Context, id string, fields map[string]string, _ *time.Time, _ string) (credential.Metadata, error) {
			assert.Equal(t, "id-1", id)
			assert.Equal(t, "new-key", fields["api_key"])
			parent := id
			return credential.Metadata{ID: "id-2", ParentID: &parent, Version: 2, Active: true}, nil
		},
	}
	srv := newServer(store, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials/id-1/rotate",
		`{"fields":{"api_key":"new-key"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["version"])
	assert.Equal(t, "id-1", body["parent_id"])
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	srv := newServer(&fakeStore{}, nil, nil)

	rec, body := doJSON(t, srv, http.MethodPut, "/v1/credentials/id-1",
		`{"status":"paused"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown status")
}

func TestTestConnectionEndpoint(t *testing.T) {
	t.Parallel()

	tester := &fakeTester{
		meta: credential.Metadata{ID: "id-1", Provider: credential.ProviderS3},
		result: storage.ConnectionTestResult{
			Success: false,
			Message: "bucket not found",
			Detail:  "NoSuchBucket",
			Elapsed: 120 * time.Millisecond,
		},
	}
	srv := newServer(&fakeStore{}, nil, tester)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials/id-1/test-connection", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a failed probe is still a 200 with success:false")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "bucket not found", body["message"])
	assert.Equal(t, "s3", body["provider"])
}

func TestProvidersEndpoint(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{available: map[credential.Provider]bool{
		credential.ProviderS3:     true,
		credential.ProviderDuffel: true,
	}}
	srv := newServer(&fakeStore{}, reporter, nil)

	rec, body := doJSON(t, srv, http.MethodGet, "/v1/providers", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	providers := body["providers"].([]interface{})
	require.Len(t, providers, 6)

	byName := map[string]map[string]interface{}{}
	for _, p := range providers {
		view := p.(map[string]interface{})
		byName[view["provider"].(string)] = view
	}
	assert.Equal(t, true, byName["s3"]["available"])
	assert.Equal(t, "env-only", byName["s3"]["policy"])
	assert.Equal(t, "storage", byName["s3"]["kind"])
	assert.Equal(t, false, byName["gcs"]["available"])
	assert.Equal(t, "db-only", byName["duffel"]["policy"])
	assert.Equal(t, "api", byName["duffel"]["kind"])
}

func TestCacheRefresh(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{refreshOK: true}
	srv := newServer(&fakeStore{}, reporter, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/cache/refresh",
		`{"provider":"pexels"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pexels", body["provider"])
	assert.Equal(t, true, body["available"])
	assert.Equal(t, []credential.Provider{credential.ProviderPexels}, reporter.refreshed)
}

func TestCacheRefreshReportsStillUnavailable(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{refreshOK: false}
	srv := newServer(&fakeStore{}, reporter, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/cache/refresh",
		`{"provider":"s3"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["available"])
}

func TestCacheRefreshRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{}
	srv := newServer(&fakeStore{}, reporter, nil)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/cache/refresh",
		`{"provider":"dropbox"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown provider")
	assert.Empty(t, reporter.refreshed)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newServer(&fakeStore{}, nil, nil)

	rec, body := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestConfigurationErrorIs503(t *testing.T) {
	t.Parallel()

	tester := &fakeTester{err: &credential.ConfigurationError{
		Provider: credential.ProviderGCS,
		Hint:     "no active credential in the store; configure via admin",
	}}
	srv := newServer(&fakeStore{}, nil, tester)

	rec, body := doJSON(t, srv, http.MethodPost, "/v1/credentials/id-9/test-connection", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "configure via admin")
}
