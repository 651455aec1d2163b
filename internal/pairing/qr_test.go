package pairing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
)

func TestQRContent(t *testing.T) {
	content, err := QRContent("p-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pairingId":"p-1"}`, content)
}

func TestQRCode(t *testing.T) {
	t.Run("not found without a session", func(t *testing.T) {
		c := New(&fakeTransport{}, time.Hour)
		_, err := c.QRCode()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("renders png for active session", func(t *testing.T) {
		c := New(&fakeTransport{statusFn: sequence(model.StatusResponse{Status: model.SessionStatusPending})}, time.Hour)
		_, err := c.Start(context.Background(), model.PairingKindHubClaim, "")
		require.NoError(t, err)
		defer c.Reset()

		png, err := c.QRCode()
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	})
}
