package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Slot names one of the two images a session needs
type Slot string

const (
	SlotPersonal Slot = "personal"
	SlotContact  Slot = "contact"
)

// Slots lists every required slot
var Slots = []Slot{SlotPersonal, SlotContact}

// ParseSlot validates an upload type discriminator
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotPersonal, SlotContact:
		return Slot(s), nil
	default:
		return "", fmt.Errorf("invalid upload type %q: want personal or contact", s)
	}
}

// Upload represents an uploaded image bound to a session slot
type Upload struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	Slot        Slot      `json:"slot"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
