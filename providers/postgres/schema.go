package postgres

// Schema creates the tables the provider needs. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS neosign_users (
	id                    TEXT PRIMARY KEY,
	email                 TEXT NOT NULL DEFAULT '',
	account_status        TEXT NOT NULL DEFAULT 'active',
	deletion_requested_at TIMESTAMPTZ,
	deletion_scheduled_at TIMESTAMPTZ,
	deletion_reason       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS neosign_two_factor (
	user_id                      TEXT PRIMARY KEY REFERENCES neosign_users(id) ON DELETE CASCADE,
	enabled_methods              TEXT[] NOT NULL DEFAULT '{}',
	email_verified_at            TIMESTAMPTZ,
	phone_number                 TEXT NOT NULL DEFAULT '',
	phone_verified               BOOLEAN NOT NULL DEFAULT FALSE,
	authenticator_secret         BYTEA,
	pending_authenticator_secret BYTEA,
	authenticator_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
	last_used_counter            BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS neosign_users_pending_deletion_idx
	ON neosign_users (deletion_scheduled_at)
	WHERE account_status = 'pending_deletion';
`
