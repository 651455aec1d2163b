package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/config"
	"github.com/soloras/hub-agent/internal/httputil"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/pairing"
	"github.com/soloras/hub-agent/internal/shell"
)

// Controller is the agent runtime the local UI drives.
type Controller interface {
	View() shell.View
	Pairing() pairing.Snapshot
	PairingQR() ([]byte, error)
	StartPairing(ctx context.Context, kind model.PairingKind, hubID string) (pairing.Snapshot, error)
	CancelPairing()
	RetryConnection()
	Unpair(ctx context.Context) error
	FactoryReset(ctx context.Context) error
}

type ControlHandler struct {
	shell Controller
}

func NewControlHandler(ctrl Controller) *ControlHandler {
	return &ControlHandler{shell: ctrl}
}

// Routes mounts under /v1. events serves the SSE stream and runs without the
// request timeout; pairingLimit guards session creation.
func (h *ControlHandler) Routes(events http.Handler, pairingLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Get("/state", h.GetState)
		r.Route("/pairing", func(r chi.Router) {
			r.With(orPassthrough(pairingLimit)).Post("/", h.StartPairing)
			r.Get("/", h.GetPairing)
			r.Get("/qr.png", h.GetPairingQR)
			r.Delete("/", h.CancelPairing)
		})
		r.Post("/connectivity/retry", h.RetryConnection)
		r.Post("/device/unpair", h.Unpair)
		r.Post("/device/factory-reset", h.FactoryReset)
	})

	return r
}

// GET /health
func (h *ControlHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.LivenessResponse{OK: true, Time: time.Now().UTC().Format(time.RFC3339)})
}

// GET /v1/state
func (h *ControlHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.View())
}

type startPairingRequest struct {
	Kind  model.PairingKind `json:"kind"`
	HubID string            `json:"hubId,omitempty"`
}

// POST /v1/pairing
func (h *ControlHandler) StartPairing(w http.ResponseWriter, r *http.Request) {
	var req startPairingRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	snap, err := h.shell.StartPairing(r.Context(), req.Kind, req.HubID)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(req.Kind)).Msg("start pairing failed")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GET /v1/pairing
func (h *ControlHandler) GetPairing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.Pairing())
}

// GET /v1/pairing/qr.png
func (h *ControlHandler) GetPairingQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.shell.PairingQR()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// DELETE /v1/pairing
func (h *ControlHandler) CancelPairing(w http.ResponseWriter, r *http.Request) {
	h.shell.CancelPairing()
	writeJSON(w, http.StatusOK, h.shell.Pairing())
}

// POST /v1/connectivity/retry
func (h *ControlHandler) RetryConnection(w http.ResponseWriter, r *http.Request) {
	h.shell.RetryConnection()
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// POST /v1/device/unpair
func (h *ControlHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.Unpair(r.Context()); err != nil {
		log.Error().Err(err).Msg("unpair failed")
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.shell.View())
}

// POST /v1/device/factory-reset
func (h *ControlHandler) FactoryReset(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.FactoryReset(r.Context()); err != nil {
		log.Error().Err(err).Msg("factory reset failed")
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.shell.View())
}
