// Package httpapi exposes the admin HTTP surface: credential lifecycle
// operations, provider inventory, connection tests, health, and
// Prometheus metrics. Plaintext fields leave the process only through
// the explicit reveal endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/registry"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// CredentialStore is the store surface the API uses.
type CredentialStore interface {
	Create(ctx context.Context, p credential.Provider, name string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error)
	Get(ctx context.Context, id string) (credential.Metadata, error)
	List(ctx context.Context) ([]credential.Metadata, error)
	History(ctx context.Context, id string) ([]credential.Metadata, error)
	Reveal(ctx context.Context, id string) (credential.Metadata, map[string]string, error)
	Rotate(ctx context.Context, id string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error)
	Rollback(ctx context.Context, id string, actor string) (credential.Metadata, error)
	Remove(ctx context.Context, id string, actor string) (credential.Metadata, error)
	UpdateMetadata(ctx context.Context, id string, upd credential.MetadataUpdate, actor string) (credential.Metadata, error)
}

// AvailabilityReporter reports provider availability and re-resolves a
// provider after its environment changed. Satisfied by
// *resolver.Resolver.
type AvailabilityReporter interface {
	IsAvailable(p credential.Provider) bool
	RefreshFromEnvironment(ctx context.Context, p credential.Provider) bool
}

// ConnectionTester runs a connection test for a stored credential.
// Satisfied by *conncheck.Runner.
type ConnectionTester interface {
	Test(ctx context.Context, id string) (credential.Metadata, storage.ConnectionTestResult, error)
}

// Server is the admin HTTP server.
type Server struct {
	store    CredentialStore
	reporter AvailabilityReporter
	tester   ConnectionTester
	logger   *logging.Logger
	mux      *http.ServeMux
}

// NewServer wires the admin routes.
func NewServer(store CredentialStore, reporter AvailabilityReporter, tester ConnectionTester, logger *logging.Logger) *Server {
	s := &Server{
		store:    store,
		reporter: reporter,
		tester:   tester,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /v1/providers", s.handleProviders)
	s.mux.HandleFunc("POST /v1/credentials", s.handleCreate)
	s.mux.HandleFunc("GET /v1/credentials", s.handleList)
	s.mux.HandleFunc("GET /v1/credentials/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /v1/credentials/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /v1/credentials/{id}", s.handleRemove)
	s.mux.HandleFunc("POST /v1/credentials/{id}/reveal", s.handleReveal)
	s.mux.HandleFunc("POST /v1/credentials/{id}/rotate", s.handleRotate)
	s.mux.HandleFunc("POST /v1/credentials/{id}/rollback", s.handleRollback)
	s.mux.HandleFunc("GET /v1/credentials/{id}/history", s.handleHistory)
	s.mux.HandleFunc("POST /v1/credentials/{id}/test-connection", s.handleTestConnection)
	s.mux.HandleFunc("POST /v1/cache/refresh", s.handleCacheRefresh)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	type providerView struct {
		Provider  string   `json:"provider"`
		Kind      string   `json:"kind"`
		Policy    string   `json:"policy"`
		Shared    bool     `json:"shared"`
		Available bool     `json:"available"`
		EnvVars   []string `json:"env_vars,omitempty"`
		Fields    []string `json:"required_fields"`
	}

	var views []providerView
	for _, cfg := range registry.All() {
		view := providerView{
			Provider:  string(cfg.Provider),
			Kind:      string(cfg.Kind),
			Policy:    string(cfg.Policy),
			Shared:    cfg.Shared,
			Available: s.reporter.IsAvailable(cfg.Provider),
			Fields:    cfg.Required,
		}
		for _, envVar := range cfg.EnvMap {
			view.EnvVars = append(view.EnvVars, envVar)
		}
		sortStrings(view.EnvVars)
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": views})
}

