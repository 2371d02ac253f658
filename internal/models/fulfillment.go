package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	FulfillInvoicePaid      = "invoice_paid"
	FulfillTicketConfirmed  = "ticket_order_confirmed"
	FulfillMembershipCreate = "membership_created"
	FulfillRentalActivated  = "rental_activated"
	FulfillWalletCredited   = "wallet_credited"
)

// Fulfillment records a side effect owed to another part of the platform
// once a payment is approved. One row per payment and kind.
type Fulfillment struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID     uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_fulfillment_payment_kind" json:"payment_id"`
	Kind          string          `gorm:"size:32;uniqueIndex:idx_fulfillment_payment_kind" json:"kind"`
	TransactionID string          `gorm:"size:64" json:"transaction_id"`
	BusinessID    *uuid.UUID      `gorm:"type:uuid" json:"business_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
