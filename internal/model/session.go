package model

import "time"

// PairingSession is the hubsim row backing a pairing handshake.
type PairingSession struct {
	ID          string        `db:"id" json:"pairingId"`
	Code        string        `db:"code" json:"pairingCode"`
	Kind        WireType      `db:"kind" json:"type"`
	HubID       *string       `db:"hub_id" json:"hubId,omitempty"`
	UserID      *string       `db:"user_id" json:"userId,omitempty"`
	Status      SessionStatus `db:"status" json:"status"`
	IssuedToken *string       `db:"issued_token" json:"-"`
	ClientIP    string        `db:"client_ip" json:"-"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expiresAt"`
	ClaimedAt   *time.Time    `db:"claimed_at" json:"claimedAt,omitempty"`
	PairedAt    *time.Time    `db:"paired_at" json:"pairedAt,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
}

func (s *PairingSession) Expired(now time.Time) bool {
	return !s.Status.Terminal() && now.After(s.ExpiresAt)
}

type CreatePairingSessionParams struct {
	ID        string
	Code      string
	Kind      WireType
	HubID     *string
	ClientIP  string
	ExpiresAt time.Time
}

type Hub struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Device is a credential holder bound to a hub. Only the token hash is stored.
type Device struct {
	ID        string     `db:"id" json:"id"`
	HubID     string     `db:"hub_id" json:"hubId"`
	TokenHash string     `db:"token_hash" json:"-"`
	Kind      WireType   `db:"kind" json:"kind"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}
