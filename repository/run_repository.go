package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispute-assistant/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("run not found")

// RunRepository handles database operations for pipeline runs
type RunRepository struct {
	db *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, session_id, status, current_step, steps, error_message,
	suggested_template, record, created_at, updated_at, completed_at`

// Create creates a new run
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO dispute_runs (
			id, session_id, status, current_step, steps, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		run.ID,
		run.SessionID,
		run.Status,
		run.CurrentStep,
		run.Steps,
		run.ErrorMessage,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("run: create: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM dispute_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("run: get: %w", err)
	}
	return run, nil
}

// ListRecent returns the newest runs first
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + runColumns + ` FROM dispute_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("run: list: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("run: scan: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run: iterate: %w", err)
	}
	return runs, nil
}

// UpdateProgress updates the progress of a run
func (r *RunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.RunSteps) error {
	query := `
		UPDATE dispute_runs SET
			status = $2,
			current_step = $3,
			steps = $4,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusInProgress, currentStep, steps)
	return err
}

// Complete marks a run as completed and stores its record
func (r *RunRepository) Complete(ctx context.Context, id uuid.UUID, record models.DisputeRecord) error {
	now := time.Now()
	query := `
		UPDATE dispute_runs SET
			status = $2,
			record = $3,
			suggested_template = $4,
			completed_at = $5,
			updated_at = $5
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusCompleted, record, record.Verdict.SuggestedTemplate, now)
	return err
}

// Fail marks a run as failed
func (r *RunRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE dispute_runs SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusFailed, errorMessage)
	return err
}

func scanRun(row pgx.Row) (*models.Run, error) {
	run := &models.Run{}
	var record models.DisputeRecord
	var rawRecord []byte
	err := row.Scan(
		&run.ID,
		&run.SessionID,
		&run.Status,
		&run.CurrentStep,
		&run.Steps,
		&run.ErrorMessage,
		&run.SuggestedTemplate,
		&rawRecord,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if run.Steps == nil {
		run.Steps = make(models.RunSteps, 0)
	}
	if len(rawRecord) > 0 {
		if err := record.Scan(rawRecord); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if run.SuggestedTemplate != nil {
			record.Verdict.SuggestedTemplate = *run.SuggestedTemplate
		}
		run.Record = &record
	}
	return run, nil
}
