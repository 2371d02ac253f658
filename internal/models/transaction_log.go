package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventPaymentRequested = "payment_requested"
	EventAccountAssigned  = "account_assigned"
	EventEmailReceived    = "email_received"
	EventPaymentMatched   = "payment_matched"
	EventPaymentApproved  = "payment_approved"
	EventPaymentRejected  = "payment_rejected"
	EventPaymentExpired   = "payment_expired"
	EventWebhookSent      = "webhook_sent"
	EventWebhookFailed    = "webhook_failed"
)

// TransactionLog is an append-only audit entry. Rows are never updated.
type TransactionLog struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID string         `gorm:"index;size:64" json:"transaction_id"`
	PaymentID     *uuid.UUID     `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	EventType     string         `gorm:"index;size:32" json:"event_type"`
	Data          datatypes.JSON `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
