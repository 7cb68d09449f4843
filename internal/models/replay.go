package models

import (
	"time"

	"github.com/google/uuid"
)

// Replay is the durable, viewable artifact of a recorded session.
type Replay struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	ClassID    uuid.UUID  `json:"class_id"`
	TutorID    uuid.UUID  `json:"tutor_id"`
	Title      string     `json:"title"`
	StorageURL string     `json:"storage_url"`
	FileName   string     `json:"file_name"`
	FileSize   int64      `json:"file_size"`
	ViewCount  int64      `json:"view_count"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the replay is past its visibility window.
func (r *Replay) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
