package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by the dispute service
const Schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id UUID NOT NULL,
    slot VARCHAR(16) NOT NULL CHECK (slot IN ('personal', 'contact')),
    filename TEXT NOT NULL,
    mime_type VARCHAR(100) NOT NULL,
    size BIGINT NOT NULL,
    checksum VARCHAR(64) NOT NULL,
    storage_path TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads (session_id, slot, created_at DESC);

CREATE TABLE IF NOT EXISTS dispute_runs (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
    current_step VARCHAR(32),
    steps JSONB NOT NULL DEFAULT '[]'::jsonb,
    error_message TEXT,
    suggested_template VARCHAR(64),
    record JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_dispute_runs_created ON dispute_runs (created_at DESC);
`

// EnsureSchema applies Schema; every statement is idempotent
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
