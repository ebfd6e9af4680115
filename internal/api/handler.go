// Package api exposes the small operator surface of the dispatcher: health,
// metrics and the campaign cancel/restart actions. The actions only mutate
// campaign status and let the pipeline's own scan and guards do the rest.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/campaign"
	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/jobs"
)

// CampaignStore is the database surface the handlers need.
type CampaignStore interface {
	Get(ctx context.Context, id int64) (*db.Campaign, error)
	SetStatus(ctx context.Context, id int64, status string) error
}

// CampaignResponse is returned by the campaign actions.
type CampaignResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the operator API.
type Handler struct {
	logger    *zap.Logger
	campaigns CampaignStore
	queue     campaign.Enqueuer
	events    campaign.EventSink
}

// NewHandler creates an API handler.
func NewHandler(logger *zap.Logger, campaigns CampaignStore, queue campaign.Enqueuer, sink campaign.EventSink) *Handler {
	return &Handler{
		logger:    logger,
		campaigns: campaigns,
		queue:     queue,
		events:    sink,
	}
}

// RegisterRoutes mounts the campaign actions on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/campaigns/{id}/cancel", h.CancelCampaign)
	r.Post("/v1/campaigns/{id}/restart", h.RestartCampaign)
}

// CancelCampaign flips a SCHEDULED or IN_PROGRESS campaign to CANCELED.
// Pending jobs for the campaign become no-ops through the dispatch guards.
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}

	if c.Status != db.CampaignScheduled && c.Status != db.CampaignInProgress {
		writeError(w, http.StatusConflict, "invalid transition",
			"only SCHEDULED or IN_PROGRESS campaigns can be canceled")
		return
	}

	if err := h.campaigns.SetStatus(r.Context(), c.ID, db.CampaignCanceled); err != nil {
		h.logger.Error("cancel campaign", zap.Int64("campaign_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	c.Status = db.CampaignCanceled

	h.events.Publish(r.Context(), c.TenantID, "campaign", events.Event{Action: "update", Record: c})
	h.logger.Info("campaign canceled", zap.Int64("campaign_id", c.ID))
	writeJSON(w, http.StatusOK, CampaignResponse{ID: c.ID, Status: c.Status})
}

// RestartCampaign moves a CANCELED campaign back to IN_PROGRESS and enqueues
// a fresh fan-out. Contacts already delivered are skipped through their
// shipping records; the rest are rescheduled.
func (h *Handler) RestartCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCampaign(w, r)
	if !ok {
		return
	}

	if c.Status != db.CampaignCanceled {
		writeError(w, http.StatusConflict, "invalid transition",
			"only CANCELED campaigns can be restarted")
		return
	}

	if err := h.campaigns.SetStatus(r.Context(), c.ID, db.CampaignInProgress); err != nil {
		h.logger.Error("restart campaign", zap.Int64("campaign_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	c.Status = db.CampaignInProgress

	if _, _, err := h.queue.EnqueueUnique(r.Context(), campaign.ProcessJobID(c.ID), campaign.JobProcessCampaign,
		campaign.StartProcessing{CampaignID: c.ID}, jobs.Options{Attempts: 3}); err != nil {
		h.logger.Error("enqueue restart fan-out", zap.Int64("campaign_id", c.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	h.events.Publish(r.Context(), c.TenantID, "campaign", events.Event{Action: "update", Record: c})
	h.logger.Info("campaign restarted", zap.Int64("campaign_id", c.ID))
	writeJSON(w, http.StatusOK, CampaignResponse{ID: c.ID, Status: c.Status})
}

func (h *Handler) loadCampaign(w http.ResponseWriter, r *http.Request) (*db.Campaign, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id", err.Error())
		return nil, false
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found", "")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load campaign", zap.Int64("campaign_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return nil, false
	}

	return c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
