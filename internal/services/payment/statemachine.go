package payment

import (
	"errors"

	"email-payment-gateway/internal/models"
)

var (
	ErrConcurrentMatchConflict = errors.New("payment already matched by another worker")
	ErrInvalidTransition       = errors.New("invalid payment status transition")
	ErrNotYetExpired           = errors.New("payment has not reached its expiry time")
)

type Confidence string

const (
	ConfidenceExact      Confidence = "exact"
	ConfidenceAmountOnly Confidence = "amount_only"
)

var transitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending: {models.PaymentMatched, models.PaymentExpired},
	models.PaymentMatched: {models.PaymentApproved, models.PaymentRejected},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
