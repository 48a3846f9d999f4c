package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dispute-assistant/repository"
	"dispute-assistant/service"
	"dispute-assistant/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"
)

type countingEngine struct {
	mu    sync.Mutex
	calls int
	texts map[string]string
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Recognize(_ context.Context, image []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.texts[string(image)], nil
}

type testServer struct {
	router *gin.Engine
	engine *countingEngine
	runs   *repository.MemoryRunRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	engine := &countingEngine{texts: map[string]string{
		"personal-png": "First / Given Name John\nLast / Family Name Smith\nETS ID: XY987654\nrefund for my TOEFL test fee",
		"contact-png":  "Support: toefl@ets.org",
	}}
	runs := repository.NewMemoryRunRepository()

	sessions := service.NewSessionService(service.WithSessionStorage(store), service.WithSessionLogger(logger))
	pipeline := service.NewPipeline(
		service.WithOCREngine(engine),
		service.WithPipelineStorage(store),
		service.WithRunStore(runs),
		service.WithPipelineLogger(logger),
	)
	h := NewDisputeHandler(sessions, pipeline, runs, service.NewExportService(runs, logger), logger, 1024)

	r := gin.New()
	h.RegisterRoutes(r)
	return &testServer{router: r, engine: engine, runs: runs}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type uploadForm struct {
	slot      string
	sessionID string
	content   string
	filename  string
	noCreds   bool
}

func uploadRequest(t *testing.T, f uploadForm) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{"type": f.slot}
	if f.sessionID != "" {
		fields["session_id"] = f.sessionID
	}
	if !f.noCreds {
		fields["twilio_sid"] = "AC123"
		fields["twilio_token"] = "secret"
		fields["twilio_from_number"] = "+15550001111"
		fields["twilio_to_number"] = "+15550002222"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if f.filename == "" {
		f.filename = f.slot + ".png"
	}
	fw, err := mw.CreateFormFile("file", f.filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(f.content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func runRequest(sessionID string, placeCall bool) *http.Request {
	body, _ := json.Marshal(map[string]any{"session_id": sessionID, "place_call": placeCall})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name string
		form uploadForm
		code string
	}{
		{"missing credentials", uploadForm{slot: "personal", content: "x", noCreds: true}, "MISSING_CREDENTIALS"},
		{"bad type", uploadForm{slot: "passport", content: "x"}, "INVALID_TYPE"},
		{"bad session", uploadForm{slot: "personal", content: "x", sessionID: "nope"}, "INVALID_SESSION_ID"},
		{"not an image", uploadForm{slot: "personal", content: "x", filename: "notes.txt"}, "INVALID_FILE_TYPE"},
		{"too large", uploadForm{slot: "personal", content: string(make([]byte, 2048))}, "FILE_TOO_LARGE"},
		{"empty file", uploadForm{slot: "personal", content: ""}, "EMPTY_FILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(uploadRequest(t, tt.form))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			env := decode(t, w)
			if env.Success || env.Error.Code != tt.code {
				t.Fatalf("expected %s, got %+v", tt.code, env)
			}
		})
	}
}

func TestRunWithOneImageReportsMissingFiles(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(uploadRequest(t, uploadForm{slot: "personal", content: "personal-png"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var data struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(decode(t, w).Data, &data)

	w = srv.do(runRequest(data.SessionID, false))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("run status = %d, body %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if env.Success || env.Error.Code != "MISSING_FILES" || env.Error.Message != service.MissingFilesMessage {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if srv.engine.calls != 0 {
		t.Fatalf("OCR ran %d times", srv.engine.calls)
	}
}

func TestUploadAndRun(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(uploadRequest(t, uploadForm{slot: "personal", content: "personal-png"}))
	var up struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(decode(t, w).Data, &up)
	if _, err := uuid.Parse(up.SessionID); err != nil {
		t.Fatalf("session id %q: %v", up.SessionID, err)
	}
	w = srv.do(uploadRequest(t, uploadForm{slot: "contact", content: "contact-png", sessionID: up.SessionID}))
	if w.Code != http.StatusCreated {
		t.Fatalf("contact upload status = %d, body %s", w.Code, w.Body.String())
	}

	w = srv.do(runRequest(up.SessionID, true))
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", w.Code, w.Body.String())
	}
	var run struct {
		RunID             string  `json:"run_id"`
		DisputeCategory   string  `json:"dispute_category"`
		Confidence        float64 `json:"confidence"`
		SuggestedTemplate string  `json:"suggested_template"`
		Letter            string  `json:"letter"`
		CallAttempted     bool    `json:"call_attempted"`
	}
	env := decode(t, w)
	if !env.Success {
		t.Fatalf("run failed: %s", w.Body.String())
	}
	_ = json.Unmarshal(env.Data, &run)
	if run.DisputeCategory != "ets_refund" || run.SuggestedTemplate != "ets_refund_template" || run.Letter == "" {
		t.Fatalf("unexpected run data: %+v", run)
	}
	if run.CallAttempted {
		t.Fatal("no call without a contact phone")
	}

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+run.RunID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get run status = %d", w.Code)
	}
	var stored struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(decode(t, w).Data, &stored)
	if stored.Status != "completed" {
		t.Fatalf("stored status = %s", stored.Status)
	}

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/runs/export", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d, body %s", w.Code, w.Body.String())
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(service.ExportSheet)
	if len(rows) != 2 || rows[1][0] != run.RunID {
		t.Fatalf("export rows = %v", rows)
	}
}

func TestGetRunErrors(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound || decode(t, w).Error.Code != "NOT_FOUND" {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	w = srv.do(runRequest("", false))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty session status = %d", w.Code)
	}
	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/runs/export?limit=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("/api/uploads")) {
		t.Fatalf("index status = %d", w.Code)
	}
	w = srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestEmptyUploadKeepsSessionRunnable(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(uploadRequest(t, uploadForm{slot: "personal", content: "personal-png"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var data struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(decode(t, w).Data, &data)

	w = srv.do(uploadRequest(t, uploadForm{slot: "personal", sessionID: data.SessionID, content: ""}))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "EMPTY_FILE" {
		t.Fatalf("empty upload: status = %d, body %s", w.Code, w.Body.String())
	}
	w = srv.do(uploadRequest(t, uploadForm{slot: "contact", sessionID: data.SessionID, content: "contact-png"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("contact upload status = %d, body %s", w.Code, w.Body.String())
	}

	w = srv.do(runRequest(data.SessionID, false))
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestListSessionUploads(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(uploadRequest(t, uploadForm{slot: "personal", content: "personal-png"}))
	var data struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(decode(t, w).Data, &data)
	srv.do(uploadRequest(t, uploadForm{slot: "contact", sessionID: data.SessionID, content: "contact-png"}))

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+data.SessionID+"/uploads", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var uploads []struct {
		Slot     string `json:"slot"`
		Checksum string `json:"checksum"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &uploads); err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %+v", uploads)
	}
	for _, u := range uploads {
		if u.Checksum == "" {
			t.Errorf("upload %s has no checksum", u.Slot)
		}
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown session", "/api/sessions/" + uuid.NewString() + "/uploads", http.StatusNotFound},
		{"bad id", "/api/sessions/nope/uploads", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.status {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
		})
	}
}
