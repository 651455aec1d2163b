package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/audit"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/httputil"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/util"
)

type contextKey string

const DeviceContextKey contextKey = "device"

func GetDevice(ctx context.Context) *model.Device {
	if device, ok := ctx.Value(DeviceContextKey).(*model.Device); ok {
		return device
	}
	return nil
}

type DeviceFinder interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error)
}

// DeviceAuthMiddleware resolves the bearer credential to a device.
type DeviceAuthMiddleware struct {
	devices DeviceFinder
}

func NewDeviceAuthMiddleware(devices DeviceFinder) *DeviceAuthMiddleware {
	return &DeviceAuthMiddleware{devices: devices}
}

func (m *DeviceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		device, err := m.devices.FindByTokenHash(r.Context(), util.HashToken(token))
		if err != nil {
			log.Error().Err(err).Msg("device auth: database error")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if device == nil || device.RevokedAt != nil {
			log.Warn().Str("token", util.MaskToken(token)).Msg("device auth: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), DeviceContextKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
