package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/util"
)

type mockDeviceFinder struct {
	findByTokenHashFn func(ctx context.Context, tokenHash string) (*model.Device, error)
}

func (m *mockDeviceFinder) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Device, error) {
	return m.findByTokenHashFn(ctx, tokenHash)
}

func TestDeviceAuthMiddleware(t *testing.T) {
	const token = "device-token-123"
	device := &model.Device{ID: "dev-1", HubID: "hub-1", Kind: model.WireTypeHub}

	finder := &mockDeviceFinder{
		findByTokenHashFn: func(ctx context.Context, tokenHash string) (*model.Device, error) {
			if tokenHash == util.HashToken(token) {
				return device, nil
			}
			return nil, nil
		},
	}

	serve := func(f DeviceFinder, header string) (*httptest.ResponseRecorder, *model.Device) {
		var seen *model.Device
		mw := NewDeviceAuthMiddleware(f)
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetDevice(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/hub/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec, seen
	}

	t.Run("puts device in context for valid token", func(t *testing.T) {
		rec, seen := serve(finder, "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "hub-1", seen.HubID)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		rec, seen := serve(finder, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, seen)
	})

	t.Run("rejects non-bearer scheme", func(t *testing.T) {
		rec, _ := serve(finder, "Basic "+token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		rec, _ := serve(finder, "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects revoked device", func(t *testing.T) {
		revokedAt := time.Now()
		revoked := &mockDeviceFinder{
			findByTokenHashFn: func(ctx context.Context, tokenHash string) (*model.Device, error) {
				return &model.Device{ID: "dev-2", HubID: "hub-1", RevokedAt: &revokedAt}, nil
			},
		}
		rec, _ := serve(revoked, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns 500 on lookup error", func(t *testing.T) {
		broken := &mockDeviceFinder{
			findByTokenHashFn: func(ctx context.Context, tokenHash string) (*model.Device, error) {
				return nil, errors.New("db down")
			},
		}
		rec, _ := serve(broken, "Bearer "+token)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetDevice(t *testing.T) {
	t.Run("returns nil without device", func(t *testing.T) {
		assert.Nil(t, GetDevice(context.Background()))
	})
}
