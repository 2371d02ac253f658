package models

import (
	"time"

	"github.com/google/uuid"
)

// WhitelistedEmail is a trusted sender rule: an exact address, a domain
// written as "@bank.com", or any other substring of the address.
type WhitelistedEmail struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Pattern   string    `gorm:"uniqueIndex" json:"pattern"`
	Active    bool      `gorm:"index" json:"active"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
