package service

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"dispute-assistant/models"
	"dispute-assistant/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// DefaultSessionTTL is how long an idle session is kept after its last upload
const DefaultSessionTTL = 2 * time.Hour

var (
	ErrMissingCredentials = errors.New("all call credentials are required")
	ErrInvalidSlot        = errors.New("invalid upload type")
	ErrEmptyUpload        = errors.New("uploaded file is empty")
	ErrSessionNotFound    = errors.New("session not found")
)

// UploadStore records upload metadata
type UploadStore interface {
	Create(ctx context.Context, upload *models.Upload) error
	ListBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*models.Upload, error)
}

// Session is a snapshot of one upload session, valid while its lock is held
type Session struct {
	ID          uuid.UUID
	Credentials models.CallCredentials
	SlotPaths   map[models.Slot]string
}

type sessionState struct {
	mu         sync.Mutex
	creds      models.CallCredentials
	uploads    map[models.Slot]*models.Upload
	lastUpload time.Time

	// guarded by SessionService.mu
	refs int
}

// SessionService owns upload sessions. Each session keeps the latest image
// per slot and the call credentials given with its uploads.
type SessionService struct {
	storage storage.Storage
	uploads UploadStore
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

// SessionServiceOption is a functional option for SessionService
type SessionServiceOption func(*SessionService)

// WithSessionStorage sets the blob storage for images
func WithSessionStorage(s storage.Storage) SessionServiceOption {
	return func(svc *SessionService) {
		svc.storage = s
	}
}

// WithUploadStore records upload metadata, typically in Postgres
func WithUploadStore(store UploadStore) SessionServiceOption {
	return func(svc *SessionService) {
		svc.uploads = store
	}
}

// WithSessionTTL sets the idle time after which a session is evicted.
// Zero or less keeps sessions forever.
func WithSessionTTL(ttl time.Duration) SessionServiceOption {
	return func(svc *SessionService) {
		svc.ttl = ttl
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger *zap.Logger) SessionServiceOption {
	return func(svc *SessionService) {
		svc.logger = logger
	}
}

// NewSessionService creates a new session service
func NewSessionService(opts ...SessionServiceOption) *SessionService {
	svc := &SessionService{
		logger:   zap.NewNop(),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*sessionState),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SaveUploadRequest is one image upload. A nil SessionID starts a new session.
type SaveUploadRequest struct {
	SessionID   uuid.UUID
	Slot        string
	Filename    string
	MimeType    string
	Data        io.Reader
	Credentials models.CallCredentials
}

// SaveUpload validates the request, replaces the slot's image and keeps
// the credentials for later calls. An empty body leaves the slot untouched.
func (s *SessionService) SaveUpload(ctx context.Context, req SaveUploadRequest) (*models.Upload, error) {
	if s.storage == nil {
		return nil, errors.New("storage not set")
	}
	if !req.Credentials.Complete() {
		return nil, ErrMissingCredentials
	}
	slot, err := models.ParseSlot(req.Slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	if req.Data == nil {
		return nil, ErrEmptyUpload
	}
	body := bufio.NewReader(req.Data)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyUpload
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}

	sessionID := req.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	state := s.hold(sessionID, true)
	defer s.drop(state)
	state.mu.Lock()
	defer state.mu.Unlock()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init checksum: %w", err)
	}
	counter := &countingReader{r: io.TeeReader(body, hasher)}

	storagePath := storage.SlotPath(sessionID, slot)
	if err := s.storage.Upload(ctx, storagePath, counter); err != nil {
		return nil, fmt.Errorf("store %s image: %w", slot, err)
	}

	upload := &models.Upload{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Slot:        slot,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		Size:        counter.n,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		StoragePath: storagePath,
		CreatedAt:   s.now(),
	}
	state.creds = req.Credentials
	state.uploads[slot] = upload
	state.lastUpload = upload.CreatedAt

	if s.uploads != nil {
		if err := s.uploads.Create(ctx, upload); err != nil {
			// The image itself is stored; only the metadata row is missing.
			s.logger.Warn("failed to record upload", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}

	s.logger.Info("upload stored",
		zap.String("session_id", sessionID.String()),
		zap.String("slot", string(slot)),
		zap.Int64("size", upload.Size),
		zap.String("checksum", upload.Checksum),
	)
	return upload, nil
}

// Acquire locks the session and returns its snapshot with a release func.
// Unknown sessions are not created: they yield an unlocked snapshot without
// credentials, and whether their images exist is up to storage.
func (s *SessionService) Acquire(sessionID uuid.UUID) (Session, func()) {
	snapshot := Session{
		ID:        sessionID,
		SlotPaths: make(map[models.Slot]string, len(models.Slots)),
	}
	for _, slot := range models.Slots {
		snapshot.SlotPaths[slot] = storage.SlotPath(sessionID, slot)
	}

	state := s.hold(sessionID, false)
	if state == nil {
		return snapshot, func() {}
	}
	state.mu.Lock()
	snapshot.Credentials = state.creds

	var once sync.Once
	return snapshot, func() {
		once.Do(func() {
			state.mu.Unlock()
			s.drop(state)
		})
	}
}

// ListUploads returns the session's uploads, newest first. With an upload
// store the full upload history is returned, otherwise the latest per slot.
func (s *SessionService) ListUploads(ctx context.Context, sessionID uuid.UUID) ([]*models.Upload, error) {
	if s.uploads != nil {
		uploads, err := s.uploads.ListBySessionID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("list uploads: %w", err)
		}
		if len(uploads) == 0 {
			return nil, ErrSessionNotFound
		}
		return uploads, nil
	}

	state := s.hold(sessionID, false)
	if state == nil {
		return nil, ErrSessionNotFound
	}
	defer s.drop(state)
	state.mu.Lock()
	defer state.mu.Unlock()

	uploads := make([]*models.Upload, 0, len(state.uploads))
	for _, u := range state.uploads {
		cp := *u
		uploads = append(uploads, &cp)
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.After(uploads[j].CreatedAt)
	})
	return uploads, nil
}

// EvictExpired removes sessions idle for longer than the TTL and not in use.
// Stored images are left to storage.
func (s *SessionService) EvictExpired(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, st := range s.sessions {
		if st.refs > 0 || now.Sub(st.lastUpload) < s.ttl {
			continue
		}
		delete(s.sessions, id)
		evicted++
	}
	return evicted
}

// RunJanitor evicts expired sessions every interval until ctx is done
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) error {
	if s.ttl <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.EvictExpired(s.now()); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// hold returns the session state with a reference taken, creating it when
// create is set. It returns nil for unknown sessions otherwise.
func (s *SessionService) hold(id uuid.UUID, create bool) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		if !create {
			return nil
		}
		st = &sessionState{
			uploads:    make(map[models.Slot]*models.Upload, len(models.Slots)),
			lastUpload: s.now(),
		}
		s.sessions[id] = st
	}
	st.refs++
	return st
}

func (s *SessionService) drop(st *sessionState) {
	s.mu.Lock()
	st.refs--
	s.mu.Unlock()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
