package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	username   TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS receipts (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL,
	original_file TEXT NOT NULL,
	merchant      TEXT NOT NULL,
	amount        NUMERIC(10,2) NOT NULL,
	date          TIMESTAMPTZ NOT NULL,
	category      TEXT NOT NULL,
	items         JSONB,
	is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_date ON receipts (user_id, date DESC);
`

// Migrate creates the schema when missing. Statements are idempotent,
// so running it on every start is safe.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
