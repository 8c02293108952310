package models

import (
	"time"

	"github.com/google/uuid"
)

// Video processing states.
const (
	VideoStatusUploaded   = "uploaded"
	VideoStatusProcessing = "processing"
	VideoStatusProcessed  = "processed"
	VideoStatusFailed     = "failed"
)

// VideoRow is a row in the videos catalog.
type VideoRow struct {
	ID            uuid.UUID  `json:"id"`
	Filename      string     `json:"filename"`
	OriginalName  string     `json:"original_name"`
	SizeBytes     int64      `json:"size_bytes"`
	SHA256        string     `json:"sha256"`
	Status        string     `json:"status"`
	ProcessedFile *string    `json:"processed_file,omitempty"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}
