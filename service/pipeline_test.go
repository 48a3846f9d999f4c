package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"dispute-assistant/models"
	"dispute-assistant/ocr"
	"dispute-assistant/repository"
	"dispute-assistant/storage"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

const (
	personalImage = "personal-image"
	contactImage  = "contact-image"

	etsPersonalText = "TOEFL registration\nFirst / Given Name John\nLast / Family Name Smith\n" +
		"ETS ID: XY987654\nEmail john.smith@example.com\nI am requesting a refund for my TOEFL test fee"
	contactText = "ETS Customer Support\nEmail: toefl@ets.org"
)

// fakeEngine returns canned text keyed by image content
type fakeEngine struct {
	mu    sync.Mutex
	texts map[string]string
	calls int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(_ context.Context, image []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.texts[string(image)], nil
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeCaller struct {
	mu   sync.Mutex
	reqs []CallRequest
	err  error
}

func (c *fakeCaller) PlaceCall(_ context.Context, _ models.CallCredentials, req CallRequest) (*CallReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &CallReceipt{SID: "CA1", Status: "queued"}, nil
}

func withPhone(text string) models.ContactRecord {
	rec := ExtractContact(text)
	phone := "+18005551234"
	rec.ContactPhone = &phone
	return rec
}

type pipelineFixture struct {
	store   *storage.LocalStorage
	engine  *fakeEngine
	runs    *repository.MemoryRunRepository
	session uuid.UUID
}

func newPipelineFixture(t *testing.T, personalText, contactTxt string) *pipelineFixture {
	t.Helper()
	return &pipelineFixture{
		store: newTestStorage(t),
		engine: &fakeEngine{texts: map[string]string{
			personalImage: personalText,
			contactImage:  contactTxt,
		}},
		runs:    repository.NewMemoryRunRepository(),
		session: uuid.New(),
	}
}

func (f *pipelineFixture) upload(t *testing.T, slot models.Slot, content string) {
	t.Helper()
	if err := f.store.Upload(context.Background(), storage.SlotPath(f.session, slot), strings.NewReader(content)); err != nil {
		t.Fatalf("upload %s: %v", slot, err)
	}
}

func (f *pipelineFixture) pipeline(t *testing.T, opts ...PipelineOption) *Pipeline {
	base := []PipelineOption{
		WithOCREngine(f.engine),
		WithPipelineStorage(f.store),
		WithRunStore(f.runs),
		WithPipelineLogger(zaptest.NewLogger(t)),
	}
	return NewPipeline(append(base, opts...)...)
}

func (f *pipelineFixture) input(placeCall bool) RunInput {
	return RunInput{
		SessionID:    f.session,
		PersonalPath: storage.SlotPath(f.session, models.SlotPersonal),
		ContactPath:  storage.SlotPath(f.session, models.SlotContact),
		Credentials:  testCreds,
		PlaceCall:    placeCall,
	}
}

func (f *pipelineFixture) readJSON(t *testing.T, runID uuid.UUID, name string, v any) {
	t.Helper()
	data, err := storage.ReadAll(context.Background(), f.store, storage.ArtifactPath(runID, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
}

func stepStatus(run *models.Run, name string) string {
	for _, s := range run.Steps {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}

func TestPipelineMissingImage(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)

	res, err := f.pipeline(t).Run(context.Background(), f.input(false))
	if !errors.Is(err, ErrMissingImages) {
		t.Fatalf("expected ErrMissingImages, got %v", err)
	}
	if res.Status != models.RunStatusFailed || res.Error != MissingFilesMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.engine.Calls() != 0 {
		t.Fatalf("OCR must not run when an image is missing, got %d calls", f.engine.Calls())
	}
	run, _ := f.runs.GetByID(context.Background(), res.RunID)
	if run.Status != models.RunStatusFailed || run.ErrorMessage == nil || *run.ErrorMessage != MissingFilesMessage {
		t.Fatalf("run not marked failed: %+v", run)
	}
}

func TestPipelineETSRefund(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)
	caller := &fakeCaller{}

	res, err := f.pipeline(t, WithCaller(caller)).Run(context.Background(), f.input(true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != models.RunStatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}

	rec := res.Record
	if rec.Dispute.DisputeCategory != models.CategoryETSRefund {
		t.Fatalf("category = %s", rec.Dispute.DisputeCategory)
	}
	if strOrNil(rec.Personal.FirstName) != "John" || strOrNil(rec.Personal.ETSID) != "XY987654" {
		t.Errorf("personal = %+v", rec.Personal)
	}
	if rec.Contact == nil || strOrNil(rec.Contact.ContactEmail) != "toefl@ets.org" || rec.Contact.ContactPhone != nil {
		t.Errorf("contact = %+v", rec.Contact)
	}
	if !strings.Contains(res.Letter.Text, "ETS ID: XY987654") || res.Letter.Unsupported {
		t.Errorf("letter not rendered: %+v", res.Letter)
	}
	if !strings.Contains(res.CallScript.Text, "Hello, my name is John Smith.") {
		t.Errorf("call script = %q", res.CallScript.Text)
	}

	// No phone was extracted, so no call even though one was requested
	if res.CallAttempted || len(caller.reqs) != 0 || rec.CallHistory != nil {
		t.Errorf("call should be skipped without a contact phone")
	}

	var info struct {
		PersonalInfo    map[string]*string `json:"personal_info"`
		DisputeCategory string             `json:"dispute_category"`
		Confidence      float64            `json:"confidence"`
		CategoryDetails map[string]int     `json:"category_details"`
	}
	f.readJSON(t, res.RunID, ArtifactDisputeInfo, &info)
	if info.DisputeCategory != "ets_refund" || info.Confidence <= 0 || len(info.CategoryDetails) != 7 {
		t.Errorf("dispute_info = %+v", info)
	}

	var complete map[string]json.RawMessage
	f.readJSON(t, res.RunID, ArtifactCompleteAnalysis, &complete)
	for _, key := range []string{"personal", "dispute", "contact"} {
		if _, ok := complete[key]; !ok {
			t.Errorf("complete_analysis missing %q", key)
		}
	}
	if _, ok := complete["call_history"]; ok {
		t.Errorf("complete_analysis should not carry call_history")
	}

	letter, err := storage.ReadAll(context.Background(), f.store, storage.ArtifactPath(res.RunID, ArtifactLetter))
	if err != nil || string(letter) != res.Letter.Text {
		t.Errorf("letter artifact mismatch: %v", err)
	}

	run, _ := f.runs.GetByID(context.Background(), res.RunID)
	if run.Status != models.RunStatusCompleted || stepStatus(run, models.StepCall) != models.StepSkipped {
		t.Errorf("run = %+v", run)
	}
}

func TestPipelineNonETSCategory(t *testing.T) {
	f := newPipelineFixture(t, "My Amazon order never arrived, please return my product", contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)

	res, err := f.pipeline(t).Run(context.Background(), f.input(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Record.Dispute.DisputeCategory != models.CategoryEcommerceRefund {
		t.Fatalf("category = %s", res.Record.Dispute.DisputeCategory)
	}
	if !res.Letter.Unsupported || !errors.Is(res.Letter.Err(), ErrTemplateNotImplemented) {
		t.Fatalf("expected unsupported letter, got %+v", res.Letter)
	}
	ok, _ := f.store.Exists(context.Background(), storage.ArtifactPath(res.RunID, ArtifactLetter))
	if ok {
		t.Fatal("no letter should be written for non-ETS disputes")
	}
	run, _ := f.runs.GetByID(context.Background(), res.RunID)
	if stepStatus(run, models.StepTemplate) != models.StepSkipped {
		t.Errorf("template step = %s", stepStatus(run, models.StepTemplate))
	}
	if run.SuggestedTemplate == nil || *run.SuggestedTemplate != TemplateEcommerceRefund {
		t.Errorf("suggested template = %v", run.SuggestedTemplate)
	}
}

func TestPipelinePersonalOCREmpty(t *testing.T) {
	f := newPipelineFixture(t, "   \n", contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)

	res, err := f.pipeline(t).Run(context.Background(), f.input(false))
	if !errors.Is(err, ErrNoPersonalText) || !errors.Is(err, ocr.ErrNoText) {
		t.Fatalf("expected ErrNoPersonalText wrapping ErrNoText, got %v", err)
	}
	if res.Status != models.RunStatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if f.engine.Calls() != 1 {
		t.Fatalf("contact OCR should not run, got %d calls", f.engine.Calls())
	}
}

func TestPipelineContactOCREmpty(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, "")
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)

	res, err := f.pipeline(t).Run(context.Background(), f.input(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := res.Record.Contact; c == nil || c.ContactEmail != nil || c.ContactPhone != nil {
		t.Fatalf("contact = %+v", c)
	}
	run, _ := f.runs.GetByID(context.Background(), res.RunID)
	if stepStatus(run, models.StepOCRContact) != models.StepSkipped {
		t.Errorf("ocr_contact step = %s", stepStatus(run, models.StepOCRContact))
	}
}

func TestPipelineRequirePhone(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)

	res, err := f.pipeline(t, WithRequirePhone(true)).Run(context.Background(), f.input(false))
	if !errors.Is(err, ErrNoContactPhone) {
		t.Fatalf("expected ErrNoContactPhone, got %v", err)
	}
	if res.Status != models.RunStatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	ok, _ := f.store.Exists(context.Background(), storage.ArtifactPath(res.RunID, ArtifactCompleteAnalysis))
	if ok {
		t.Fatal("nothing should be persisted for a failed run")
	}
}

func TestPipelineCallConfirmed(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)
	caller := &fakeCaller{}

	var asked string
	p := f.pipeline(t,
		WithRequirePhone(true),
		WithCaller(caller),
		WithContactExtractor(withPhone),
		WithCallFlowDocument(true),
		WithConfirmer(func(_ context.Context, phone string) bool {
			asked = phone
			return true
		}),
	)
	res, err := p.Run(context.Background(), f.input(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if asked != "+18005551234" {
		t.Errorf("confirmer asked about %q", asked)
	}
	if len(caller.reqs) != 1 {
		t.Fatalf("expected one call, got %d", len(caller.reqs))
	}
	req := caller.reqs[0]
	if req.To != testCreds.ToNumber || req.From != testCreds.FromNumber {
		t.Errorf("call numbers = %s -> %s", req.From, req.To)
	}
	if !strings.Contains(req.Script, "This is John Smith with ETS ID XY987654.") {
		t.Errorf("voice script = %q", req.Script)
	}
	if req.Document != CallFlowDocument(req.Script) {
		t.Errorf("call flow document not used")
	}
	h := res.Record.CallHistory
	if h == nil || h.Status != models.CallStatusCompleted || h.Type != models.CallTypeAutomatedVoice {
		t.Fatalf("call history = %+v", h)
	}

	var complete struct {
		CallHistory *models.CallHistory `json:"call_history"`
	}
	f.readJSON(t, res.RunID, ArtifactCompleteAnalysis, &complete)
	if complete.CallHistory == nil || complete.CallHistory.Status != models.CallStatusCompleted {
		t.Fatalf("persisted call history = %+v", complete.CallHistory)
	}
}

func TestPipelineCallDeclined(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)
	caller := &fakeCaller{}

	p := f.pipeline(t,
		WithCaller(caller),
		WithContactExtractor(withPhone),
		WithConfirmer(func(context.Context, string) bool { return false }),
	)
	res, err := p.Run(context.Background(), f.input(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CallAttempted || len(caller.reqs) != 0 || res.Record.CallHistory != nil {
		t.Fatal("declined call must not be placed")
	}
}

func TestPipelineCallFailureRecorded(t *testing.T) {
	f := newPipelineFixture(t, etsPersonalText, contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)
	caller := &fakeCaller{err: errors.New("call API error: 401 - unauthorized")}

	p := f.pipeline(t, WithCaller(caller), WithContactExtractor(withPhone))
	res, err := p.Run(context.Background(), f.input(true))
	if err != nil {
		t.Fatalf("a failed call must not fail the run: %v", err)
	}
	if res.Status != models.RunStatusCompleted || !res.CallAttempted {
		t.Fatalf("result = %+v", res)
	}
	if h := res.Record.CallHistory; h == nil || h.Status != models.CallStatusFailed {
		t.Fatalf("call history = %+v", h)
	}
	run, _ := f.runs.GetByID(context.Background(), res.RunID)
	if stepStatus(run, models.StepCall) != models.StepFailed {
		t.Errorf("call step = %s", stepStatus(run, models.StepCall))
	}
	if run.Record == nil || run.Record.CallHistory == nil || run.Record.CallHistory.Status != models.CallStatusFailed {
		t.Errorf("stored record missing failed history")
	}
}

func TestPipelineIdentityFallback(t *testing.T) {
	f := newPipelineFixture(t, "Please refund my TOEFL test fee", contactText)
	f.upload(t, models.SlotPersonal, personalImage)
	f.upload(t, models.SlotContact, contactImage)

	p := f.pipeline(t, WithIdentity(models.Identity{FirstName: "Mei", LastName: "Chen", ETSID: "ZZ1", Email: "mei@example.com"}))
	res, err := p.Run(context.Background(), f.input(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Letter.Text, "- Full Name: Mei Chen\n") || !strings.Contains(res.Letter.Text, "ETS ID: ZZ1") {
		t.Errorf("letter did not use identity fallback: %q", res.Letter.Text)
	}
	if res.Record.Personal.FirstName != nil {
		t.Errorf("record should keep extracted values only")
	}
}
