package database

const schema = `
CREATE TABLE IF NOT EXISTS hubs (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	last_seen_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS devices (
	id         UUID PRIMARY KEY,
	hub_id     UUID NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_devices_hub_id ON devices(hub_id);

CREATE TABLE IF NOT EXISTS pairing_sessions (
	id           UUID PRIMARY KEY,
	code         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	hub_id       UUID REFERENCES hubs(id) ON DELETE CASCADE,
	user_id      TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	issued_token TEXT,
	client_ip    TEXT NOT NULL DEFAULT '',
	expires_at   TIMESTAMPTZ NOT NULL,
	claimed_at   TIMESTAMPTZ,
	paired_at    TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pairing_sessions_open_code
	ON pairing_sessions(code) WHERE status IN ('pending', 'claimed');
CREATE INDEX IF NOT EXISTS idx_pairing_sessions_expires_at ON pairing_sessions(expires_at);
`
