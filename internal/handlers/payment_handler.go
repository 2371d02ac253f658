package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"
	"email-payment-gateway/internal/services/payment"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/inconshreveable/log15.v2"
)

type PaymentService interface {
	Create(ctx context.Context, req payment.CreateRequest) (*models.Payment, error)
	Get(ctx context.Context, txID string) (*models.Payment, error)
}

type PaymentHandler struct {
	service PaymentService
	log     log15.Logger
}

func NewPaymentHandler(s PaymentService, log log15.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, log: log}
}

type paymentView struct {
	TransactionID   string     `json:"transaction_id"`
	Amount          string     `json:"amount"`
	PayerName       string     `json:"payer_name"`
	AccountNumber   string     `json:"account_number"`
	AccountName     string     `json:"account_name"`
	BankName        string     `json:"bank_name"`
	Status          string     `json:"status"`
	Purpose         string     `json:"purpose"`
	PurposeRef      string     `json:"purpose_ref,omitempty"`
	MatchConfidence string     `json:"match_confidence,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	MatchedAt       *time.Time `json:"matched_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	WebhookStatus   *string    `json:"webhook_status,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func viewOf(p *models.Payment) paymentView {
	return paymentView{
		TransactionID:   p.TransactionID,
		Amount:          p.Amount.StringFixed(2),
		PayerName:       p.PayerName,
		AccountNumber:   p.AccountNumber,
		AccountName:     p.AccountName,
		BankName:        p.BankName,
		Status:          string(p.Status),
		Purpose:         p.Purpose,
		PurposeRef:      p.PurposeRef,
		MatchConfidence: p.MatchConfidence,
		RejectionReason: p.RejectionReason,
		ExpiresAt:       p.ExpiresAt,
		MatchedAt:       p.MatchedAt,
		ApprovedAt:      p.ApprovedAt,
		RejectedAt:      p.RejectedAt,
		ExpiredAt:       p.ExpiredAt,
		WebhookStatus:   p.WebhookStatus,
		CreatedAt:       p.CreatedAt,
	}
}

type createPaymentRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PayerName        string          `json:"payer_name"`
	BusinessID       *uuid.UUID      `json:"business_id"`
	WebhookURL       string          `json:"webhook_url" binding:"omitempty,url"`
	ExpiresInMinutes int             `json:"expires_in_minutes"`
	Purpose          string          `json:"purpose"`
	PurposeRef       string          `json:"purpose_ref"`
}

// Create handles POST /api/v1/payments.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}

	p, err := h.service.Create(c.Request.Context(), payment.CreateRequest{
		Amount:           req.Amount,
		PayerName:        req.PayerName,
		BusinessID:       req.BusinessID,
		WebhookURL:       req.WebhookURL,
		ExpiresInMinutes: req.ExpiresInMinutes,
		Purpose:          req.Purpose,
		PurposeRef:       req.PurposeRef,
	})
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidExpiry),
		errors.Is(err, payment.ErrInvalidPurpose),
		errors.Is(err, payment.ErrMissingPayerName),
		errors.Is(err, payment.ErrUnknownBusiness):
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, repository.ErrNoAccountAvailable):
		fail(c, http.StatusServiceUnavailable, "no account number available, try again later")
		return
	default:
		h.log.Error("create payment", "err", err)
		fail(c, http.StatusInternalServerError, "could not create payment")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "payment request created",
		"data":    viewOf(p),
	})
}

// Get handles GET /api/v1/payments/:transactionId.
func (h *PaymentHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("transactionId"))
	if errors.Is(err, payment.ErrNotFound) {
		fail(c, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.log.Error("get payment", "transaction_id", c.Param("transactionId"), "err", err)
		fail(c, http.StatusInternalServerError, "could not load payment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": viewOf(p)})
}
