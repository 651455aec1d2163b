package hubapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soloras/hub-agent/internal/config"
	apperrors "github.com/soloras/hub-agent/internal/errors"
)

func TestLivenessProbeHealth(t *testing.T) {
	t.Run("ok true passes", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.Write([]byte(`{"ok":true}`))
		}, "tok")

		assert.NoError(t, NewLivenessProbe(c, config.LivenessModeHealth).Check(context.Background()))
	})

	t.Run("ok false fails", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false}`))
		}, "tok")

		err := NewLivenessProbe(c, config.LivenessModeHealth).Check(context.Background())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExternal))
	})

	t.Run("non-2xx fails", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, "tok")

		assert.Error(t, NewLivenessProbe(c, "").Check(context.Background()))
	})
}

func TestLivenessProbeHeartbeat(t *testing.T) {
	t.Run("resolves hub id once then heartbeats", func(t *testing.T) {
		var meCalls, beats atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/hub/me":
				meCalls.Add(1)
				w.Write([]byte(`{"hubId":"hub-7"}`))
			case "/hub/hub-7/heartbeat":
				assert.Equal(t, http.MethodPost, r.Method)
				beats.Add(1)
				w.Write([]byte(`{"ok":true}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}, "tok")

		p := NewLivenessProbe(c, config.LivenessModeHeartbeat)
		require.NoError(t, p.Check(context.Background()))
		require.NoError(t, p.Check(context.Background()))

		assert.Equal(t, int32(1), meCalls.Load())
		assert.Equal(t, int32(2), beats.Load())
		assert.Equal(t, "hub-7", p.HubID())
	})

	t.Run("unpaired credential fails as not paired", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, "stale")

		err := NewLivenessProbe(c, config.LivenessModeHeartbeat).Check(context.Background())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotPaired))
	})

	t.Run("forgets hub id after heartbeat 401", func(t *testing.T) {
		var meCalls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/hub/me" {
				meCalls.Add(1)
				w.Write([]byte(`{"hubId":"hub-7"}`))
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}, "tok")

		p := NewLivenessProbe(c, config.LivenessModeHeartbeat)
		assert.Error(t, p.Check(context.Background()))
		assert.Empty(t, p.HubID())
		assert.Error(t, p.Check(context.Background()))
		assert.Equal(t, int32(2), meCalls.Load())
	})
}
