package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ignite/sequence-engine/internal/domain"
)

// ListSuppressions returns active do-not-mail entries, newest first.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	out, err := h.suppressions.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if out == nil {
		out = []domain.Suppression{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"suppressions": out})
}

// AddSuppression suppresses an email address.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var s domain.Suppression
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil || s.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if s.Source == "" {
		s.Source = "manual"
	}
	if err := h.suppressions.Suppress(r.Context(), &s); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

// ImportSuppressions runs a bulk import from object storage. The file is
// streamed server-side, so the request only carries the object key.
func (h *Handlers) ImportSuppressions(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		respondError(w, http.StatusServiceUnavailable, "bulk import is not configured")
		return
	}

	var in struct {
		Key    string `json:"key"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	if in.Reason == "" {
		in.Reason = "bulk_import"
	}

	result, err := h.importer.Import(r.Context(), in.Key, in.Reason)
	if err != nil {
		respondError(w, http.StatusBadGateway, "import failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RemoveSuppression deactivates the suppression for an address.
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.suppressions.Remove(r.Context(), in.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
