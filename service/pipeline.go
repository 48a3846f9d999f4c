package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispute-assistant/models"
	"dispute-assistant/ocr"
	"dispute-assistant/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Artifact file names written per run
const (
	ArtifactDisputeInfo      = "dispute_info.json"
	ArtifactCompleteAnalysis = "complete_analysis.json"
	ArtifactLetter           = "ets_dispute_template.txt"
)

// MissingFilesMessage is reported when a run starts without both images
const MissingFilesMessage = "Missing required files"

var (
	ErrMissingImages  = errors.New("missing required files")
	ErrNoPersonalText = errors.New("no text extracted from personal image")
	ErrNoContactPhone = errors.New("no contact phone number found in the image")
)

// RunStore persists run progress
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.RunSteps) error
	Complete(ctx context.Context, id uuid.UUID, record models.DisputeRecord) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// Confirmer asks whether a call to the detected phone should be placed
type Confirmer func(ctx context.Context, phone string) bool

// Pipeline runs OCR, extraction, classification, templating, the optional
// call and persistence for one pair of images
type Pipeline struct {
	engine         ocr.Engine
	storage        storage.Storage
	runs           RunStore
	caller         Caller
	confirm        Confirmer
	identity       models.Identity
	requirePhone   bool
	useCallFlow    bool
	extractContact ContactExtractor
	logger         *zap.Logger
	now            func() time.Time
}

// PipelineOption is a functional option for Pipeline
type PipelineOption func(*Pipeline)

// WithOCREngine sets the OCR engine
func WithOCREngine(engine ocr.Engine) PipelineOption {
	return func(p *Pipeline) {
		p.engine = engine
	}
}

// WithPipelineStorage sets where images are read from and artifacts written to
func WithPipelineStorage(s storage.Storage) PipelineOption {
	return func(p *Pipeline) {
		p.storage = s
	}
}

// WithRunStore sets the run store
func WithRunStore(store RunStore) PipelineOption {
	return func(p *Pipeline) {
		p.runs = store
	}
}

// WithCaller sets the outbound call client
func WithCaller(caller Caller) PipelineOption {
	return func(p *Pipeline) {
		p.caller = caller
	}
}

// WithConfirmer sets the interactive call confirmation
func WithConfirmer(confirm Confirmer) PipelineOption {
	return func(p *Pipeline) {
		p.confirm = confirm
	}
}

// WithIdentity sets the claimant identity used to fill gaps in letters and scripts
func WithIdentity(id models.Identity) PipelineOption {
	return func(p *Pipeline) {
		p.identity = id
	}
}

// WithRequirePhone fails runs whose contact image yielded no phone number
func WithRequirePhone(require bool) PipelineOption {
	return func(p *Pipeline) {
		p.requirePhone = require
	}
}

// WithCallFlowDocument sends the full TwiML document instead of a bare script
func WithCallFlowDocument(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.useCallFlow = enabled
	}
}

// WithContactExtractor replaces ExtractContact
func WithContactExtractor(fn ContactExtractor) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.extractContact = fn
		}
	}
}

// WithPipelineLogger sets the logger
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a new pipeline
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		extractContact: ExtractContact,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunInput identifies the images and credentials for one run
type RunInput struct {
	SessionID    uuid.UUID
	PersonalPath string
	ContactPath  string
	Credentials  models.CallCredentials

	// PlaceCall confirms the call up front; otherwise the Confirmer decides
	PlaceCall bool
}

// RunInputFromSession builds the input for a locked session
func RunInputFromSession(sess Session, placeCall bool) RunInput {
	return RunInput{
		SessionID:    sess.ID,
		PersonalPath: sess.SlotPaths[models.SlotPersonal],
		ContactPath:  sess.SlotPaths[models.SlotContact],
		Credentials:  sess.Credentials,
		PlaceCall:    placeCall,
	}
}

// RunResult summarizes a finished run
type RunResult struct {
	RunID         uuid.UUID
	Status        models.RunStatus
	Record        *models.DisputeRecord
	Letter        Rendering
	CallScript    Rendering
	VoiceScript   Rendering
	CallAttempted bool
	Artifacts     []string
	Error         string
}

// Run executes the pipeline. A failed run returns both the result, carrying
// a user-facing message, and the underlying error.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if p.engine == nil {
		return nil, errors.New("ocr engine not set")
	}
	if p.storage == nil {
		return nil, errors.New("storage not set")
	}

	run := &models.Run{
		ID:        uuid.New(),
		SessionID: in.SessionID,
		Status:    models.RunStatusPending,
		Steps:     models.NewRunSteps(),
	}
	if p.runs != nil {
		if err := p.runs.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	}
	res := &RunResult{RunID: run.ID, Status: models.RunStatusInProgress}
	log := p.logger.With(zap.String("run_id", run.ID.String()))

	// 1. Both images must exist before any OCR
	missing, err := p.missingSlots(ctx, in)
	if err != nil {
		return p.fail(ctx, run, res, err, "Failed to check uploaded files")
	}
	if len(missing) > 0 {
		return p.fail(ctx, run, res, fmt.Errorf("%w: %s", ErrMissingImages, strings.Join(missing, ", ")), MissingFilesMessage)
	}

	// 2. Personal image
	p.step(ctx, run, models.StepOCRPersonal, models.StepInProgress, "")
	personalText, err := p.recognize(ctx, in.PersonalPath)
	if err != nil {
		p.step(ctx, run, models.StepOCRPersonal, models.StepFailed, err.Error())
		return p.fail(ctx, run, res, fmt.Errorf("%w: %w", ErrNoPersonalText, err), "No text could be read from the personal image")
	}
	p.step(ctx, run, models.StepOCRPersonal, models.StepCompleted, "")

	// 3. Contact image; an unreadable contact image leaves the contact fields empty
	p.step(ctx, run, models.StepOCRContact, models.StepInProgress, "")
	var contact models.ContactRecord
	contactText, err := p.recognize(ctx, in.ContactPath)
	switch {
	case ctx.Err() != nil:
		p.step(ctx, run, models.StepOCRContact, models.StepFailed, ctx.Err().Error())
		return p.fail(ctx, run, res, ctx.Err(), "Run cancelled")
	case err != nil:
		log.Warn("contact image unreadable", zap.Error(err))
		p.step(ctx, run, models.StepOCRContact, models.StepSkipped, err.Error())
	default:
		contact = p.extractContact(contactText)
		p.step(ctx, run, models.StepOCRContact, models.StepCompleted, "")
	}

	// 4. Extract and classify
	p.step(ctx, run, models.StepClassify, models.StepInProgress, "")
	personal := ExtractPersonal(personalText)
	verdict := Classify(personalText)
	record := models.NewDisputeRecord(personal, verdict, &contact)
	p.step(ctx, run, models.StepClassify, models.StepCompleted,
		fmt.Sprintf("%s (%.2f%%)", verdict.PrimaryCategory, verdict.Confidence))
	log.Info("dispute classified",
		zap.String("category", string(verdict.PrimaryCategory)),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("template", verdict.SuggestedTemplate),
	)

	if p.requirePhone && contact.ContactPhone == nil {
		return p.fail(ctx, run, res, ErrNoContactPhone, "No contact phone number found in the image")
	}

	// 5. Letter, ETS refunds only
	filled := personal.WithFallback(p.identity)
	if verdict.PrimaryCategory == models.CategoryETSRefund {
		p.step(ctx, run, models.StepTemplate, models.StepInProgress, "")
		res.Letter = RenderLetter(verdict.SuggestedTemplate, filled)
		res.CallScript = RenderScript(verdict.SuggestedTemplate, filled, ScriptShort)
		if err := p.writeText(ctx, run.ID, ArtifactLetter, res.Letter.Text); err != nil {
			p.step(ctx, run, models.StepTemplate, models.StepFailed, err.Error())
			return p.fail(ctx, run, res, err, "Failed to save dispute letter")
		}
		res.Artifacts = append(res.Artifacts, storage.ArtifactPath(run.ID, ArtifactLetter))
		p.step(ctx, run, models.StepTemplate, models.StepCompleted, verdict.SuggestedTemplate)
	} else {
		res.Letter = Rendering{TemplateKey: verdict.SuggestedTemplate, Unsupported: true}
		p.step(ctx, run, models.StepTemplate, models.StepSkipped, res.Letter.Err().Error())
	}

	// 6. Optional call
	if reason := p.callSkipReason(ctx, in, verdict, contact); reason != "" {
		p.step(ctx, run, models.StepCall, models.StepSkipped, reason)
	} else {
		p.step(ctx, run, models.StepCall, models.StepInProgress, "")
		record = p.placeCall(ctx, run, res, in.Credentials, filled, record)
		if err := p.writeJSON(ctx, run.ID, ArtifactCompleteAnalysis, record); err != nil {
			log.Error("failed to save call history", zap.Error(err))
		}
	}

	// 7. Persist
	p.step(ctx, run, models.StepPersist, models.StepInProgress, "")
	if err := p.writeJSON(ctx, run.ID, ArtifactDisputeInfo, record.Dispute); err != nil {
		p.step(ctx, run, models.StepPersist, models.StepFailed, err.Error())
		return p.fail(ctx, run, res, err, "Failed to save dispute information")
	}
	if err := p.writeJSON(ctx, run.ID, ArtifactCompleteAnalysis, record); err != nil {
		p.step(ctx, run, models.StepPersist, models.StepFailed, err.Error())
		return p.fail(ctx, run, res, err, "Failed to save dispute information")
	}
	res.Artifacts = append(res.Artifacts,
		storage.ArtifactPath(run.ID, ArtifactDisputeInfo),
		storage.ArtifactPath(run.ID, ArtifactCompleteAnalysis),
	)
	p.step(ctx, run, models.StepPersist, models.StepCompleted, "")

	if p.runs != nil {
		if err := p.runs.Complete(ctx, run.ID, record); err != nil {
			return nil, fmt.Errorf("failed to complete run: %w", err)
		}
	}
	res.Status = models.RunStatusCompleted
	res.Record = &record
	log.Info("run completed", zap.Bool("call_attempted", res.CallAttempted))
	return res, nil
}

func (p *Pipeline) callSkipReason(ctx context.Context, in RunInput, verdict models.CategoryVerdict, contact models.ContactRecord) string {
	switch {
	case verdict.PrimaryCategory != models.CategoryETSRefund:
		return "calls are only placed for ets_refund disputes"
	case contact.ContactPhone == nil:
		return "no contact phone number"
	case p.caller == nil:
		return "no caller configured"
	case !in.Credentials.Complete():
		return ErrIncompleteCredentials.Error()
	case in.PlaceCall:
		return ""
	case p.confirm != nil && p.confirm(ctx, *contact.ContactPhone):
		return ""
	default:
		return "call not confirmed"
	}
}

// placeCall attempts the call and returns the record with its call history.
// A failed call is recorded, not fatal.
func (p *Pipeline) placeCall(ctx context.Context, run *models.Run, res *RunResult, creds models.CallCredentials, filled models.PersonalRecord, record models.DisputeRecord) models.DisputeRecord {
	res.VoiceScript = RenderScript(TemplateETSRefund, filled, ScriptLong)
	req := CallRequest{
		To:     creds.ToNumber,
		From:   creds.FromNumber,
		Script: res.VoiceScript.Text,
	}
	if p.useCallFlow {
		req.Document = CallFlowDocument(res.VoiceScript.Text)
	}

	status := models.CallStatusCompleted
	if _, err := p.caller.PlaceCall(ctx, creds, req); err != nil {
		p.logger.Error("call failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		status = models.CallStatusFailed
		p.step(ctx, run, models.StepCall, models.StepFailed, err.Error())
	} else {
		p.step(ctx, run, models.StepCall, models.StepCompleted, "")
	}
	res.CallAttempted = true

	return record.WithCallHistory(models.CallHistory{
		Timestamp: p.now(),
		Status:    status,
		Type:      models.CallTypeAutomatedVoice,
	})
}

func (p *Pipeline) missingSlots(ctx context.Context, in RunInput) ([]string, error) {
	var missing []string
	for _, slot := range []struct {
		name models.Slot
		path string
	}{
		{models.SlotPersonal, in.PersonalPath},
		{models.SlotContact, in.ContactPath},
	} {
		if slot.path == "" {
			missing = append(missing, string(slot.name))
			continue
		}
		ok, err := p.storage.Exists(ctx, slot.path)
		if err != nil {
			return nil, fmt.Errorf("check %s image: %w", slot.name, err)
		}
		if !ok {
			missing = append(missing, string(slot.name))
		}
	}
	return missing, nil
}

func (p *Pipeline) recognize(ctx context.Context, storagePath string) (string, error) {
	image, err := storage.ReadAll(ctx, p.storage, storagePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", storagePath, err)
	}
	return ocr.ExtractText(ctx, p.engine, image)
}

// step updates a step and saves progress. Progress writes are best effort.
func (p *Pipeline) step(ctx context.Context, run *models.Run, name, status, description string) {
	if !run.Steps.Set(name, status, description) {
		return
	}
	if status == models.StepInProgress {
		run.CurrentStep = &name
	}
	run.Status = models.RunStatusInProgress
	if p.runs == nil {
		return
	}
	current := ""
	if run.CurrentStep != nil {
		current = *run.CurrentStep
	}
	if err := p.runs.UpdateProgress(ctx, run.ID, current, run.Steps); err != nil {
		p.logger.Warn("failed to update run progress", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// fail marks the run failed with a user-facing message
func (p *Pipeline) fail(ctx context.Context, run *models.Run, res *RunResult, cause error, message string) (*RunResult, error) {
	run.Status = models.RunStatusFailed
	res.Status = models.RunStatusFailed
	res.Error = message
	p.logger.Warn("run failed", zap.String("run_id", run.ID.String()), zap.String("reason", message), zap.Error(cause))
	if p.runs != nil {
		// The run context may be cancelled already; the failure must still be recorded.
		if err := p.runs.Fail(context.WithoutCancel(ctx), run.ID, message); err != nil {
			p.logger.Error("failed to mark run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}
	return res, cause
}

func (p *Pipeline) writeJSON(ctx context.Context, runID uuid.UUID, name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := p.storage.Upload(ctx, storage.ArtifactPath(runID, name), &buf); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) writeText(ctx context.Context, runID uuid.UUID, name, text string) error {
	if err := p.storage.Upload(ctx, storage.ArtifactPath(runID, name), strings.NewReader(text)); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
