// Package api exposes the campaign lifecycle over HTTP for the admin UI
// and internal tooling.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ignite/sequence-engine/internal/campaign"
	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/suppression"
)

// SuppressionStore is the slice of the suppression repository the API needs.
type SuppressionStore interface {
	Suppress(ctx context.Context, s *domain.Suppression) error
	Remove(ctx context.Context, email string) error
	List(ctx context.Context, limit, offset int) ([]domain.Suppression, error)
}

// BulkImporter runs an asynchronous suppression list import from object
// storage. Optional; the import endpoint 503s when none is configured.
type BulkImporter interface {
	Import(ctx context.Context, key, reason string) (*suppression.ImportResult, error)
}

// Handlers carries the dependencies for all HTTP handlers.
type Handlers struct {
	campaigns    *campaign.Service
	ledger       quota.Ledger
	suppressions SuppressionStore
	importer     BulkImporter
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns *campaign.Service, ledger quota.Ledger, suppressions SuppressionStore) *Handlers {
	return &Handlers{campaigns: campaigns, ledger: ledger, suppressions: suppressions}
}

// SetImporter enables the bulk suppression import endpoint.
func (h *Handlers) SetImporter(im BulkImporter) {
	h.importer = im
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
