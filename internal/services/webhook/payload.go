package webhook

import (
	"encoding/json"
	"time"

	"email-payment-gateway/internal/models"
)

type EmailSummary struct {
	Bank          string `json:"bank,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	PayerName     string `json:"payer_name,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// Payload is the JSON body posted to the business.
type Payload struct {
	Success       bool          `json:"success"`
	Status        string        `json:"status"`
	TransactionID string        `json:"transaction_id"`
	Amount        string        `json:"amount"`
	PayerName     string        `json:"payer_name"`
	Bank          string        `json:"bank,omitempty"`
	AccountNumber string        `json:"account_number"`
	MatchedAt     *time.Time    `json:"matched_at,omitempty"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty"`
	RejectedAt    *time.Time    `json:"rejected_at,omitempty"`
	ExpiredAt     *time.Time    `json:"expired_at,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Message       string        `json:"message"`
	Email         *EmailSummary `json:"email,omitempty"`
}

func BuildPayload(p *models.Payment, now time.Time) Payload {
	out := Payload{
		Success:       p.Status == models.PaymentApproved,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		Amount:        p.Amount.StringFixed(2),
		PayerName:     p.PayerName,
		Bank:          p.BankName,
		AccountNumber: p.AccountNumber,
		MatchedAt:     p.MatchedAt,
		ApprovedAt:    p.ApprovedAt,
		RejectedAt:    p.RejectedAt,
		ExpiredAt:     p.ExpiredAt,
		Reason:        p.RejectionReason,
		Timestamp:     now,
	}

	switch p.Status {
	case models.PaymentApproved:
		out.Message = "Payment has been verified and approved"
	case models.PaymentRejected:
		out.Message = "Payment has been rejected"
	case models.PaymentExpired:
		out.Message = "Payment request expired before funds were received"
	default:
		out.Message = "Payment status updated"
	}

	if len(p.EmailData) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(p.EmailData, &data); err == nil {
			str := func(k string) string {
				s, _ := data[k].(string)
				return s
			}
			out.Email = &EmailSummary{
				Bank:          str("bank"),
				AccountNumber: str("account_number"),
				PayerName:     str("payer_name"),
				Reference:     str("reference"),
			}
		}
	}
	return out
}
