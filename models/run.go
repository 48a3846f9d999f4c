package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Pipeline step names, in execution order
const (
	StepOCRPersonal = "ocr_personal"
	StepOCRContact  = "ocr_contact"
	StepClassify    = "classify"
	StepTemplate    = "template"
	StepCall        = "call"
	StepPersist     = "persist"
)

// Step statuses
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepSkipped    = "skipped"
	StepFailed     = "failed"
)

// RunStep represents a step in a pipeline run
type RunStep struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// RunSteps represents a list of run steps
type RunSteps []RunStep

// NewRunSteps returns every pipeline step in pending state
func NewRunSteps() RunSteps {
	names := []string{StepOCRPersonal, StepOCRContact, StepClassify, StepTemplate, StepCall, StepPersist}
	steps := make(RunSteps, 0, len(names))
	for _, name := range names {
		steps = append(steps, RunStep{Name: name, Status: StepPending})
	}
	return steps
}

// Set updates the named step and reports whether it exists
func (s RunSteps) Set(name, status, description string) bool {
	for i := range s {
		if s[i].Name == name {
			s[i].Status = status
			s[i].Description = description
			return true
		}
	}
	return false
}

// Value implements driver.Valuer for JSONB
func (s RunSteps) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *RunSteps) Scan(value interface{}) error {
	if value == nil {
		*s = make(RunSteps, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = make(RunSteps, 0)
		return nil
	}

	if len(bytes) == 0 {
		*s = make(RunSteps, 0)
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// Run represents one execution of the dispute pipeline
type Run struct {
	ID                uuid.UUID      `json:"id"`
	SessionID         uuid.UUID      `json:"session_id"`
	Status            RunStatus      `json:"status"`
	CurrentStep       *string        `json:"current_step,omitempty"`
	Steps             RunSteps       `json:"steps"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	SuggestedTemplate *string        `json:"suggested_template,omitempty"`
	Record            *DisputeRecord `json:"record,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}
