package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"dispute-assistant/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a storage path does not exist
var ErrNotFound = errors.New("storage: file not found")

// Storage interface for file storage operations
type Storage interface {
	// Upload stores data at the storage path, replacing any previous content
	Upload(ctx context.Context, storagePath string, data io.Reader) error

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path
	Delete(ctx context.Context, storagePath string) error

	// Exists reports whether a file is present at the storage path
	Exists(ctx context.Context, storagePath string) (bool, error)
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type         StorageType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg StorageConfig) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// SlotPath returns the storage path of a session's image slot
func SlotPath(sessionID uuid.UUID, slot models.Slot) string {
	return path.Join("sessions", sessionID.String(), string(slot)+".png")
}

// ArtifactPath returns the storage path of a file produced by a run
func ArtifactPath(runID uuid.UUID, name string) string {
	return path.Join("runs", runID.String(), sanitizeName(name))
}

// ReadAll downloads a file fully into memory
func ReadAll(ctx context.Context, s Storage, storagePath string) ([]byte, error) {
	rc, err := s.Download(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}
