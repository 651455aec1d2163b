package pairing

import (
	"encoding/json"
	"fmt"

	"github.com/skip2/go-qrcode"

	apperrors "github.com/soloras/hub-agent/internal/errors"
)

const QRSize = 320

type qrPayload struct {
	PairingID string `json:"pairingId"`
}

// QRContent is the text encoded into the pairing QR code.
func QRContent(pairingID string) (string, error) {
	data, err := json.Marshal(qrPayload{PairingID: pairingID})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// QRCode renders the current session as a PNG.
func (c *Client) QRCode() ([]byte, error) {
	snap := c.Snapshot()
	if snap.PairingID == "" {
		return nil, apperrors.NotFound("Pairing session")
	}

	content, err := QRContent(snap.PairingID)
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}
	png, err := qrcode.Encode(content, qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
