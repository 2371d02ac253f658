package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentMatched  PaymentStatus = "matched"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentExpired  PaymentStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentApproved || s == PaymentRejected || s == PaymentExpired
}

const (
	WebhookPending = "pending"
	WebhookSent    = "sent"
	WebhookFailed  = "failed"
)

// Purposes decide which fulfillment runs once a payment is approved.
const (
	PurposeWallet      = "wallet"
	PurposeInvoice     = "invoice"
	PurposeTicketOrder = "ticket_order"
	PurposeMembership  = "membership"
	PurposeRental      = "rental"
)

type Payment struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID   string          `gorm:"uniqueIndex;size:64" json:"transaction_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);index" json:"amount"`
	PayerName       string          `json:"payer_name"`
	BusinessID      *uuid.UUID      `gorm:"type:uuid;index" json:"business_id,omitempty"`
	AccountNumber   string          `gorm:"index;size:32" json:"account_number"`
	AccountName     string          `json:"account_name"`
	BankName        string          `json:"bank_name"`
	Status          PaymentStatus   `gorm:"index;size:16" json:"status"`
	Purpose         string          `gorm:"size:32" json:"purpose"`
	PurposeRef      string          `json:"purpose_ref,omitempty"`
	WebhookURL      string          `json:"-"`
	EmailData       datatypes.JSON  `json:"email_data,omitempty"`
	MatchConfidence string          `gorm:"size:16" json:"match_confidence,omitempty"`
	InboundEmailID  *uuid.UUID      `gorm:"type:uuid" json:"-"`
	RejectionReason string          `json:"rejection_reason,omitempty"`

	MatchedAt  *time.Time `json:"matched_at,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`

	WebhookStatus    *string    `gorm:"size:16;index" json:"webhook_status,omitempty"`
	WebhookAttempts  int        `json:"webhook_attempts"`
	WebhookSentAt    *time.Time `json:"webhook_sent_at,omitempty"`
	WebhookLastError string     `json:"webhook_last_error,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
