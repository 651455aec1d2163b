package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	t.Run("logs method path and status", func(t *testing.T) {
		var buf bytes.Buffer
		prev := log.Logger
		log.Logger = zerolog.New(&buf)
		t.Cleanup(func() { log.Logger = prev })

		handler := chimiddleware.RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state", nil))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "GET", entry["method"])
		assert.Equal(t, "/v1/state", entry["path"])
		assert.Equal(t, float64(http.StatusTeapot), entry["status"])
		assert.NotEmpty(t, entry["requestId"])
	})
}
