package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp decodes either epoch milliseconds or an RFC3339 string.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

type CreateSessionRequest struct {
	Type  WireType `json:"type"`
	HubID string   `json:"hubId,omitempty"`
}

type CreateSessionResponse struct {
	PairingID   string    `json:"pairingId"`
	PairingCode string    `json:"pairingCode"`
	ExpiresAt   Timestamp `json:"expiresAt"`
}

type StatusResponse struct {
	Status      SessionStatus `json:"status"`
	HubID       string        `json:"hubId,omitempty"`
	UserID      string        `json:"userId,omitempty"`
	DeviceToken string        `json:"deviceToken,omitempty"`
}

// LivenessResponse is returned by both /health and the heartbeat endpoint.
type LivenessResponse struct {
	OK   bool   `json:"ok"`
	Time string `json:"time,omitempty"`
}

type HubMeResponse struct {
	HubID    string `json:"hubId"`
	DeviceID string `json:"deviceId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ClaimRequest is posted by the companion app with the code shown on the kiosk.
type ClaimRequest struct {
	PairingCode string `json:"pairingCode"`
	UserID      string `json:"userId,omitempty"`
	HubName     string `json:"hubName,omitempty"`
}

// ClaimResponse carries a DeviceToken only for device-pair sessions, where
// the claimer is the new device.
type ClaimResponse struct {
	PairingID   string        `json:"pairingId"`
	Status      SessionStatus `json:"status"`
	HubID       string        `json:"hubId,omitempty"`
	DeviceToken string        `json:"deviceToken,omitempty"`
}
