package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/pkg/logger"
	"github.com/CesarNXT/topzap-engine/internal/schedule"
	"github.com/CesarNXT/topzap-engine/internal/service/campaign"
)

// Ticker runs one dispatch pass. Implemented by dispatch.Cycle.
type Ticker interface {
	RunTick(ctx context.Context) (int, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	svc        *campaign.Service
	ticker     Ticker
	tickSecret string
}

// NewHandlers creates the handler set. tickSecret may be empty to disable
// tick authentication (local development only).
func NewHandlers(svc *campaign.Service, ticker Ticker, tickSecret string) *Handlers {
	return &Handlers{svc: svc, ticker: ticker, tickSecret: tickSecret}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateCampaign plans, validates, and persists a new campaign with its
// materialized queue.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	in.TenantID = chi.URLParam(r, "tenantID")

	c, err := h.svc.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	logger.Info("campaign created",
		"tenant_id", c.TenantID,
		"campaign_id", c.ID,
		"recipients", fmt.Sprintf("%d", c.TotalRecipients))
	respondJSON(w, http.StatusCreated, c)
}

// ListCampaigns returns all of a tenant's campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetCampaign returns a single campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// PauseCampaign hides a campaign from future dispatch ticks.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Pause(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ResumeCampaign reschedules pending items from now and restarts sending.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Resume(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// DeleteCampaign removes a campaign and its queue.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PlanPreviewRequest is the input for the pure schedule preview.
type PlanPreviewRequest struct {
	TotalRecipients int                   `json:"total_recipients"`
	Speed           domain.SpeedConfig    `json:"speed"`
	Start           *time.Time            `json:"start,omitempty"`
	WorkingHours    domain.WorkingHours   `json:"working_hours"`
	Rules           []domain.ScheduleRule `json:"rules"`
}

// PlanPreviewResponse carries the computed plan.
type PlanPreviewResponse struct {
	NextValidTime time.Time               `json:"next_valid_time"`
	Batches       []schedule.PlannedBatch `json:"batches"`
}

// PlanPreview computes a batch plan without any writes, for UI rendering.
func (h *Handlers) PlanPreview(w http.ResponseWriter, r *http.Request) {
	var req PlanPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	start := time.Now()
	if req.Start != nil {
		start = *req.Start
	}

	batches, err := h.svc.Plan(req.TotalRecipients, req.Speed, start, req.WorkingHours, req.Rules)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, PlanPreviewResponse{
		NextValidTime: h.svc.NextValidTime(start, req.WorkingHours, req.Rules),
		Batches:       batches,
	})
}

// DispatchTick runs one dispatch pass. Invoked by the external scheduler,
// authenticated by a shared secret when configured.
func (h *Handlers) DispatchTick(w http.ResponseWriter, r *http.Request) {
	if h.tickSecret != "" {
		got := r.Header.Get("X-Tick-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.tickSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid tick secret")
			return
		}
	}

	sent, err := h.ticker.RunTick(r.Context())
	if err != nil {
		logger.Error("dispatch tick failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func respondServiceError(w http.ResponseWriter, err error) {
	var ve *campaign.ValidationError
	var ce *campaign.ConflictError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ce):
		respondError(w, http.StatusConflict, ce.Error())
	case errors.Is(err, campaign.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("campaign request failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
