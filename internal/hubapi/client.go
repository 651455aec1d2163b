// Package hubapi is the HTTP transport to the hub backend.
package hubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
)

const (
	HeaderInstallationID = "X-Installation-Id"

	maxErrorBody = 4 << 10
)

// TokenSource yields the current device credential, or "" when unpaired.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL        string
	client         *http.Client
	installationID string
	tokens         TokenSource
}

func NewClient(baseURL string, timeout time.Duration, installationID string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		installationID: installationID,
		tokens:         tokens,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.installationID != "" {
		req.Header.Set(HeaderInstallationID, c.installationID)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Debug().Err(err).Str("method", method).Str("path", path).Dur("elapsed", elapsed).Msg("hub api request error")
		return apperrors.External("hub api", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("hub api request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Protocol(fmt.Sprintf("decode %s %s response", method, path)).WithCause(err)
	}
	return nil
}

func statusError(resp *http.Response) *apperrors.AppError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := http.StatusText(resp.StatusCode)
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		switch {
		case eb.Error != "":
			msg = eb.Error
		case eb.Message != "":
			msg = eb.Message
		}
	}

	details := map[string]any{"status": resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg).WithDetails(details)
	case http.StatusNotFound:
		return apperrors.New(apperrors.ErrCodeNotFound, msg).WithDetails(details)
	case http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrCodeRateLimitExceeded, msg).WithDetails(details)
	default:
		return apperrors.New(apperrors.ErrCodeExternal, fmt.Sprintf("hub api returned %d: %s", resp.StatusCode, msg)).WithDetails(details)
	}
}

// StatusCode returns the HTTP status carried by a hub api error, or 0.
func StatusCode(err error) int {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return 0
	}
	if d, ok := appErr.Details.(map[string]any); ok {
		if s, ok := d["status"].(int); ok {
			return s
		}
	}
	return 0
}

func (c *Client) CreatePairingSession(ctx context.Context, req model.CreateSessionRequest) (*model.CreateSessionResponse, error) {
	var resp model.CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/pairing/session", req, &resp); err != nil {
		reason := err.Error()
		if appErr, ok := apperrors.AsAppError(err); ok {
			reason = appErr.Message
		}
		return nil, apperrors.SessionCreateError(reason).WithCause(err)
	}
	if resp.PairingID == "" {
		return nil, apperrors.SessionCreateError("response missing pairingId")
	}
	return &resp, nil
}

func (c *Client) PairingStatus(ctx context.Context, pairingID string) (*model.StatusResponse, error) {
	var resp model.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/pairing/status/"+url.PathEscape(pairingID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*model.LivenessResponse, error) {
	var resp model.LivenessResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Heartbeat(ctx context.Context, hubID string) (*model.LivenessResponse, error) {
	var resp model.LivenessResponse
	if err := c.do(ctx, http.MethodPost, "/hub/"+url.PathEscape(hubID)+"/heartbeat", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HubMe returns the hub bound to the current credential. A 401 means the
// credential is not (or no longer) paired and yields nil without error.
func (c *Client) HubMe(ctx context.Context) (*model.HubMeResponse, error) {
	var resp model.HubMeResponse
	err := c.do(ctx, http.MethodGet, "/hub/me", nil, &resp)
	if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.HubID == "" {
		return nil, apperrors.Protocol("hub/me response missing hubId")
	}
	return &resp, nil
}
