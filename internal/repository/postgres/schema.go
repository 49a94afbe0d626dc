package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the DDL for every table the server owns. All statements are
// idempotent so Migrate can run on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS care_receivers (
	id                UUID PRIMARY KEY,
	code              TEXT NOT NULL UNIQUE,
	service_id        TEXT NOT NULL,
	name              TEXT NOT NULL,
	display_name      TEXT,
	full_name         TEXT,
	birthday          TEXT,
	address           TEXT,
	phone             TEXT,
	emergency_contact TEXT,
	age               INTEGER CHECK (age >= 0),
	gender            TEXT,
	care_level        INTEGER,
	condition         TEXT,
	medical_care      TEXT,
	notes             TEXT,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS case_records (
	id           UUID PRIMARY KEY,
	service_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	service_type TEXT NOT NULL,
	record_date  DATE NOT NULL,
	section      TEXT NOT NULL,
	item_key     TEXT NOT NULL,
	content      JSONB NOT NULL DEFAULT '{}'::jsonb,
	source       TEXT NOT NULL DEFAULT 'manual',
	version      BIGINT NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, service_type, record_date, section, item_key)
);

CREATE TABLE IF NOT EXISTS sync_idempotency_keys (
	key             TEXT PRIMARY KEY,
	request_hash    TEXT NOT NULL,
	response_status INTEGER,
	response_body   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sync_op_receipts (
	op_id        TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL,
	status       TEXT NOT NULL CHECK (status IN ('processing', 'applied', 'failed')),
	result       JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id            UUID PRIMARY KEY,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	retry_at      TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_events_due ON outbox_events (status, retry_at, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_op_receipts_updated ON sync_op_receipts (updated_at);
CREATE INDEX IF NOT EXISTS idx_case_records_user_date ON case_records (user_id, record_date);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
