package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountNumber is a receiving bank account. Accounts without a business
// belong to the shared pool.
type AccountNumber struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BusinessID     *uuid.UUID `gorm:"type:uuid;index" json:"business_id,omitempty"`
	Number         string     `gorm:"uniqueIndex;size:32" json:"number"`
	AccountName    string     `json:"account_name"`
	BankName       string     `json:"bank_name"`
	Active         bool       `gorm:"index" json:"active"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Business struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `json:"name"`
	WebhookURL    string    `json:"webhook_url"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
