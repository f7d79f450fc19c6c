package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sequence-engine/internal/campaign"
	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/quota"
)

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaign returns one campaign, including its quota snapshot.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ActivateCampaign starts a draft campaign.
func (h *Handlers) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Activate)
}

// PauseCampaign pauses an active campaign.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Pause)
}

// ResumeCampaign re-activates a paused campaign.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Resume)
}

// CancelCampaign terminally cancels a campaign.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Cancel)
}

// CompleteCampaign explicitly finishes a campaign.
func (h *Handlers) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Complete)
}

// DeleteCampaign soft-deletes a draft or completed campaign.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddStep appends a step; on an active campaign it is scheduled immediately.
func (h *Handlers) AddStep(w http.ResponseWriter, r *http.Request) {
	var step domain.CampaignStep
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.campaigns.AddStep(r.Context(), id, &step); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, step)
}

// DeleteStep removes a step that has not sent any mail.
func (h *Handlers) DeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.DeleteStep(r.Context(), chi.URLParam(r, "stepID")); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSnapshot returns the campaign's last computed quota distribution.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	if c.Snapshot == nil {
		respondError(w, http.StatusNotFound, "campaign has no quota snapshot")
		return
	}
	respondJSON(w, http.StatusOK, c.Snapshot)
}

// GetQuota returns an identity's remaining quota over the next days.
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 60 {
			days = n
		}
	}
	tz := r.URL.Query().Get("timezone")
	if tz == "" {
		tz = "UTC"
	}

	limit, err := h.ledger.DailyLimit(r.Context(), identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "quota lookup failed")
		return
	}
	remaining, err := h.ledger.RemainingForDays(r.Context(), identity, 0, days-1, tz)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "quota lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"identity":    identity,
		"daily_limit": limit,
		"remaining":   remaining,
	})
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		h.respondCampaignError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		h.respondCampaignError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// respondCampaignError maps service errors to HTTP statuses.
func (h *Handlers) respondCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNotDeletable),
		errors.Is(err, campaign.ErrStepHasSentMail):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrMissingList),
		errors.Is(err, campaign.ErrMissingTemplate),
		errors.Is(err, campaign.ErrNoContacts):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
