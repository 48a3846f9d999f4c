package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispute-assistant/models"

	"github.com/google/uuid"
)

// MemoryRunRepository keeps runs in process memory. It is used when no
// database is configured and by tests.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*models.Run
	now  func() time.Time
}

// NewMemoryRunRepository creates an empty in-memory run store
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[uuid.UUID]*models.Run), now: time.Now}
}

func (r *MemoryRunRepository) Create(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	run.CreatedAt, run.UpdatedAt = now, now
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRunRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (r *MemoryRunRepository) ListRecent(_ context.Context, limit int) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRunRepository) UpdateProgress(_ context.Context, id uuid.UUID, currentStep string, steps models.RunSteps) error {
	return r.update(id, func(run *models.Run) {
		run.Status = models.RunStatusInProgress
		run.CurrentStep = &currentStep
		run.Steps = append(models.RunSteps(nil), steps...)
	})
}

func (r *MemoryRunRepository) Complete(_ context.Context, id uuid.UUID, record models.DisputeRecord) error {
	return r.update(id, func(run *models.Run) {
		now := r.now()
		tmpl := record.Verdict.SuggestedTemplate
		run.Status = models.RunStatusCompleted
		run.Record = &record
		run.SuggestedTemplate = &tmpl
		run.CompletedAt = &now
	})
}

func (r *MemoryRunRepository) Fail(_ context.Context, id uuid.UUID, errorMessage string) error {
	return r.update(id, func(run *models.Run) {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = &errorMessage
	})
}

func (r *MemoryRunRepository) update(id uuid.UUID, fn func(*models.Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	fn(run)
	run.UpdatedAt = r.now()
	return nil
}

func cloneRun(run *models.Run) *models.Run {
	c := *run
	c.Steps = append(models.RunSteps(nil), run.Steps...)
	return &c
}
