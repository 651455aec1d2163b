package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventPairingStarted   EventType = "pairing_started"
	EventPairingResolved  EventType = "pairing_resolved"
	EventPairingFailed    EventType = "pairing_failed"
	EventPairingCancelled EventType = "pairing_cancelled"
	EventCredentialStored EventType = "credential_stored"
	EventCredentialClear  EventType = "credential_cleared"
	EventFactoryReset     EventType = "factory_reset"
	EventConnectivityLost EventType = "connectivity_lost"
	EventConnectivityBack EventType = "connectivity_restored"

	// Backend side
	EventSessionCreate   EventType = "session_create"
	EventSessionClaim    EventType = "session_claim"
	EventSessionConfirm  EventType = "session_confirm"
	EventDeviceIssued    EventType = "device_issued"
	EventAuthFailure     EventType = "auth_failure"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	HubID     string
	PairingID string
	IP        string
	UserAgent string
	Details   map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	l := logger.With().
		Str("audit", "device_trust").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.HubID != "" {
		l = l.With().Str("hub_id", event.HubID).Logger()
	}
	if event.PairingID != "" {
		l = l.With().Str("pairing_id", event.PairingID).Logger()
	}
	if event.IP != "" {
		l = l.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		l = l.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := l.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("device trust audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the caller address without a port.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
