package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/tripstack/credstore/pkg/credential"
)

// actorHeader names the header carrying the acting operator's identity
// for audit columns.
const actorHeader = "X-Actor"

type createRequest struct {
	Provider  string            `json:"provider"`
	Name      string            `json:"name"`
	Fields    map[string]string `json:"fields"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

type rotateRequest struct {
	Fields    map[string]string `json:"fields"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

type updateRequest struct {
	Name      *string    `json:"name,omitempty"`
	Status    *string    `json:"status,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}
	provider := credential.Provider(req.Provider)
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider: "+req.Provider, nil)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty", nil)
		return
	}

	meta, err := s.store.Create(r.Context(), provider, req.Name, req.Fields, req.ExpiresAt, r.Header.Get(actorHeader))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.List(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if metas == nil {
		metas = []credential.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": metas})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}

	upd := credential.MetadataUpdate{Name: req.Name, ExpiresAt: req.ExpiresAt}
	if req.Status != nil {
		status := credential.Status(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+*req.Status, nil)
			return
		}
		upd.Status = &status
	}

	meta, err := s.store.UpdateMetadata(r.Context(), r.PathValue("id"), upd, r.Header.Get(actorHeader))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Remove(r.Context(), r.PathValue("id"), r.Header.Get(actorHeader))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, fields, err := s.store.Reveal(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("credential %s revealed to %s", id, orUnknown(r.Header.Get(actorHeader)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata": meta,
		"fields":   fields,
	})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}

	meta, err := s.store.Rotate(r.Context(), r.PathValue("id"), req.Fields, req.ExpiresAt, r.Header.Get(actorHeader))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Rollback(r.Context(), r.PathValue("id"), r.Header.Get(actorHeader))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": metas})
}

type cacheRefreshRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	var req cacheRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}
	provider := credential.Provider(req.Provider)
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider: "+req.Provider, nil)
		return
	}

	available := s.reporter.RefreshFromEnvironment(r.Context(), provider)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":  req.Provider,
		"available": available,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	meta, result, err := s.tester.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": meta.Provider,
		"success":  result.Success,
		"message":  result.Message,
		"detail":   result.Detail,
		"elapsed":  result.Elapsed.String(),
	})
}

// writeStoreError maps domain errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var ve *credential.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error(), ve.Fields)
		return
	}

	switch {
	case credential.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case credential.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case credential.IsConfiguration(err):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	case credential.IsTransport(err):
		writeError(w, http.StatusBadGateway, err.Error(), nil)
	default:
		s.logger.Error("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, fields map[string]string) {
	body := map[string]interface{}{"error": message}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sortStrings(s []string) { sort.Strings(s) }
