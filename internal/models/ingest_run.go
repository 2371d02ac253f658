package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunAborted    = "aborted"
)

type IngestRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Source      string     `gorm:"index;size:16" json:"source"`
	Received    int        `json:"received"`
	Duplicates  int        `json:"duplicates"`
	Untrusted   int        `json:"untrusted"`
	Unparsable  int        `json:"unparsable"`
	Matched     int        `json:"matched"`
	Unmatched   int        `json:"unmatched"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
