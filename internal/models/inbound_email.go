package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EmailStatus string

const (
	EmailReceived   EmailStatus = "received"
	EmailUntrusted  EmailStatus = "untrusted"
	EmailUnparsable EmailStatus = "unparsable"
	EmailUnmatched  EmailStatus = "unmatched"
	EmailMatched    EmailStatus = "matched"
	EmailDiscarded  EmailStatus = "discarded"
)

// InboundEmail is a bank notification as received from one of the sources,
// together with the fields extracted from it.
type InboundEmail struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID   string    `gorm:"uniqueIndex;size:255" json:"message_id"`
	Source      string    `gorm:"size:16" json:"source"`
	FromAddress string    `gorm:"index" json:"from"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `gorm:"index" json:"received_at"`
	TextBody    string    `json:"-"`
	HTMLBody    string    `json:"-"`

	Bank          string           `gorm:"size:32" json:"bank,omitempty"`
	Amount        *decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount,omitempty"`
	AccountNumber string           `gorm:"size:32" json:"account_number,omitempty"`
	PayerName     string           `json:"payer_name,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	Extracted     datatypes.JSON   `json:"extracted,omitempty"`

	Status           EmailStatus `gorm:"index;size:16" json:"status"`
	ParseError       string      `json:"parse_error,omitempty"`
	MatchedPaymentID *uuid.UUID  `gorm:"type:uuid;index" json:"matched_payment_id,omitempty"`
	MatchAttempts    int         `json:"match_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
