package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/httputil"
	"github.com/soloras/hub-agent/internal/middleware"
	"github.com/soloras/hub-agent/internal/model"
)

type HubService interface {
	Heartbeat(ctx context.Context, device *model.Device, hubID string) (*model.LivenessResponse, error)
	Me(ctx context.Context, device *model.Device) (*model.HubMeResponse, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HubHandler struct {
	hubService HubService
	db         Pinger
}

func NewHubHandler(hubService HubService, db Pinger) *HubHandler {
	return &HubHandler{hubService: hubService, db: db}
}

// Routes mounts under /hub; every route requires device auth.
func (h *HubHandler) Routes(deviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(deviceAuth)

	r.Post("/{hubId}/heartbeat", h.Heartbeat)
	r.Get("/me", h.Me)

	return r
}

// GET /health
func (h *HubHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("health check: database ping failed")
			writeJSON(w, http.StatusServiceUnavailable, model.LivenessResponse{OK: false, Time: now})
			return
		}
	}
	writeJSON(w, http.StatusOK, model.LivenessResponse{OK: true, Time: now})
}

// POST /hub/{hubId}/heartbeat
func (h *HubHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Device authentication required"))
		return
	}

	resp, err := h.hubService.Heartbeat(r.Context(), device, chi.URLParam(r, "hubId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /hub/me
func (h *HubHandler) Me(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Device authentication required"))
		return
	}

	resp, err := h.hubService.Me(r.Context(), device)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
