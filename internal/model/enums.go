package model

// PairingKind is the identity a pairing session establishes.
type PairingKind string

const (
	PairingKindHubClaim   PairingKind = "hub-claim"
	PairingKindDevicePair PairingKind = "device-pair"
	PairingKindMemberLink PairingKind = "member-link"
)

// WireType is the session type understood by the backend.
type WireType string

const (
	WireTypeHub    WireType = "hub"
	WireTypeDevice WireType = "device"
	WireTypeMember WireType = "member"
)

func (k PairingKind) Valid() bool {
	switch k {
	case PairingKindHubClaim, PairingKindDevicePair, PairingKindMemberLink:
		return true
	}
	return false
}

func (k PairingKind) WireType() WireType {
	switch k {
	case PairingKindDevicePair:
		return WireTypeDevice
	case PairingKindMemberLink:
		return WireTypeMember
	default:
		return WireTypeHub
	}
}

// NeedsHubID reports whether the backend requires a hub context for this kind.
func (k PairingKind) NeedsHubID() bool {
	return k == PairingKindDevicePair || k == PairingKindMemberLink
}

func (w WireType) Valid() bool {
	switch w {
	case WireTypeHub, WireTypeDevice, WireTypeMember:
		return true
	}
	return false
}

// SessionStatus is the backend-side lifecycle of a pairing session.
type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusClaimed SessionStatus = "claimed"
	SessionStatusPaired  SessionStatus = "paired"
	SessionStatusExpired SessionStatus = "expired"
)

func (s SessionStatus) Known() bool {
	switch s {
	case SessionStatusPending, SessionStatusClaimed, SessionStatusPaired, SessionStatusExpired:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusPaired || s == SessionStatusExpired
}

// ConnectivityStatus is the health gate exposed to the shell.
type ConnectivityStatus string

const (
	ConnectivityUnknown      ConnectivityStatus = "unknown"
	ConnectivityConnected    ConnectivityStatus = "connected"
	ConnectivityDisconnected ConnectivityStatus = "disconnected"
)

// Route is the top-level view the shell should render.
type Route string

const (
	RouteOnboarding   Route = "onboarding"
	RouteChecking     Route = "checking"
	RouteReconnecting Route = "reconnecting"
	RouteMain         Route = "main"
)
