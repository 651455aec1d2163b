package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soloras/hub-agent/internal/audit"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/httputil"
	"github.com/soloras/hub-agent/internal/middleware"
	"github.com/soloras/hub-agent/internal/model"
)

type PairingService interface {
	CreateSession(ctx context.Context, req model.CreateSessionRequest, clientIP string) (*model.CreateSessionResponse, error)
	Status(ctx context.Context, pairingID string) (*model.StatusResponse, error)
	Claim(ctx context.Context, req model.ClaimRequest, clientIP string) (*model.ClaimResponse, error)
	Confirm(ctx context.Context, pairingID string, device *model.Device) (*model.StatusResponse, error)
}

// PairingHandler serves the backend side of the pairing handshake.
type PairingHandler struct {
	pairingService PairingService
}

func NewPairingHandler(pairingService PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

// Routes mounts under /pairing. sessionLimit guards session creation and
// deviceAuth guards hub-side confirmation.
func (h *PairingHandler) Routes(sessionLimit, deviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(orPassthrough(sessionLimit)).Post("/session", h.CreateSession)
	r.Get("/status/{pairingId}", h.GetStatus)
	r.Post("/claim", h.Claim)
	r.With(orPassthrough(deviceAuth)).Post("/confirm/{pairingId}", h.Confirm)

	return r
}

// POST /pairing/session
func (h *PairingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.SessionCreateError("invalid request body").WithCause(err))
		return
	}

	resp, err := h.pairingService.CreateSession(r.Context(), req, audit.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GET /pairing/status/{pairingId}
func (h *PairingHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.pairingService.Status(r.Context(), chi.URLParam(r, "pairingId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// POST /pairing/claim
func (h *PairingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req model.ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.pairingService.Claim(r.Context(), req, audit.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /pairing/confirm/{pairingId}
func (h *PairingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Device authentication required"))
		return
	}

	resp, err := h.pairingService.Confirm(r.Context(), chi.URLParam(r, "pairingId"), device)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
