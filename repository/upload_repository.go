package repository

import (
	"context"
	"fmt"

	"dispute-assistant/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UploadRepository handles database operations for uploaded images
type UploadRepository struct {
	db *pgxpool.Pool
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create creates a new upload record
func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	query := `
		INSERT INTO uploads (
			id, session_id, slot, filename, mime_type, size, checksum, storage_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(
		ctx, query,
		upload.ID,
		upload.SessionID,
		upload.Slot,
		upload.Filename,
		upload.MimeType,
		upload.Size,
		upload.Checksum,
		upload.StoragePath,
	).Scan(&upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("upload: create: %w", err)
	}
	return nil
}

// ListBySessionID retrieves all uploads for a session, newest first
func (r *UploadRepository) ListBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*models.Upload, error) {
	query := `
		SELECT id, session_id, slot, filename, mime_type, size, checksum, storage_path, created_at
		FROM uploads
		WHERE session_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("upload: list: %w", err)
	}
	defer rows.Close()

	var uploads []*models.Upload
	for rows.Next() {
		upload := &models.Upload{}
		err := rows.Scan(
			&upload.ID,
			&upload.SessionID,
			&upload.Slot,
			&upload.Filename,
			&upload.MimeType,
			&upload.Size,
			&upload.Checksum,
			&upload.StoragePath,
			&upload.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("upload: scan: %w", err)
		}
		uploads = append(uploads, upload)
	}

	return uploads, rows.Err()
}
