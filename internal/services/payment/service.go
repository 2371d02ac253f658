package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/events"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/inconshreveable/log15.v2"
	"gorm.io/datatypes"
)

var (
	ErrNotFound         = repository.ErrNotFound
	ErrInvalidAmount    = errors.New("amount must be a positive value with at most two decimals")
	ErrInvalidExpiry    = errors.New("expires_in_minutes must be between 1 and 1440")
	ErrInvalidPurpose   = errors.New("unknown payment purpose")
	ErrMissingPayerName = errors.New("payer_name is required")
	ErrUnknownBusiness  = errors.New("unknown business")
)

var purposes = map[string]bool{
	models.PurposeWallet:      true,
	models.PurposeInvoice:     true,
	models.PurposeTicketOrder: true,
	models.PurposeMembership:  true,
	models.PurposeRental:      true,
}

type Settings interface {
	AutoApproveExact(ctx context.Context) bool
	MinNameScore(ctx context.Context) float64
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

type CreateRequest struct {
	Amount           decimal.Decimal
	PayerName        string
	BusinessID       *uuid.UUID
	WebhookURL       string
	ExpiresInMinutes int
	Purpose          string
	PurposeRef       string
}

type Service struct {
	payments      *repository.PaymentRepository
	accounts      *repository.AccountNumberRepository
	businesses    *repository.BusinessRepository
	logs          *repository.TransactionLogRepository
	settings      Settings
	bus           Publisher
	clock         clock.Clock
	defaultExpiry time.Duration
	log           log15.Logger
}

func NewService(
	payments *repository.PaymentRepository,
	accounts *repository.AccountNumberRepository,
	businesses *repository.BusinessRepository,
	logs *repository.TransactionLogRepository,
	settings Settings,
	bus Publisher,
	clk clock.Clock,
	defaultExpiry time.Duration,
	log log15.Logger,
) *Service {
	return &Service{
		payments:      payments,
		accounts:      accounts,
		businesses:    businesses,
		logs:          logs,
		settings:      settings,
		bus:           bus,
		clock:         clk,
		defaultExpiry: defaultExpiry,
		log:           log,
	}
}

func (s *Service) Get(ctx context.Context, txID string) (*models.Payment, error) {
	return s.payments.GetByTransactionID(ctx, txID)
}

// Create registers a payment request and assigns the account the payer
// should transfer to.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Payment, error) {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, ErrInvalidAmount
	}
	payer := strings.TrimSpace(req.PayerName)
	if payer == "" {
		return nil, ErrMissingPayerName
	}
	ttl := s.defaultExpiry
	if req.ExpiresInMinutes != 0 {
		if req.ExpiresInMinutes < 1 || req.ExpiresInMinutes > 1440 {
			return nil, ErrInvalidExpiry
		}
		ttl = time.Duration(req.ExpiresInMinutes) * time.Minute
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = models.PurposeWallet
	}
	if !purposes[purpose] {
		return nil, ErrInvalidPurpose
	}

	webhookURL := req.WebhookURL
	if req.BusinessID != nil {
		biz, err := s.businesses.GetByID(ctx, *req.BusinessID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownBusiness
		}
		if err != nil {
			return nil, fmt.Errorf("load business: %w", err)
		}
		if webhookURL == "" {
			webhookURL = biz.WebhookURL
		}
	}

	now := s.clock.Now()
	acct, err := s.accounts.Assign(ctx, req.BusinessID, now)
	if err != nil {
		return nil, fmt.Errorf("assign account: %w", err)
	}

	txID, err := newTransactionID(now)
	if err != nil {
		return nil, err
	}
	expires := now.Add(ttl)
	p := &models.Payment{
		ID:            uuid.New(),
		TransactionID: txID,
		Amount:        req.Amount,
		PayerName:     payer,
		BusinessID:    req.BusinessID,
		AccountNumber: acct.Number,
		AccountName:   acct.AccountName,
		BankName:      acct.BankName,
		Status:        models.PaymentPending,
		Purpose:       purpose,
		PurposeRef:    req.PurposeRef,
		WebhookURL:    webhookURL,
		ExpiresAt:     &expires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.audit(ctx, p, models.EventPaymentRequested, map[string]interface{}{
		"amount":     p.Amount.StringFixed(2),
		"payer_name": p.PayerName,
		"purpose":    p.Purpose,
		"expires_at": expires,
	})
	s.audit(ctx, p, models.EventAccountAssigned, map[string]interface{}{
		"account_number": acct.Number,
		"bank_name":      acct.BankName,
	})

	s.log.Info("payment requested", "transaction_id", p.TransactionID, "amount", p.Amount.StringFixed(2), "account_number", p.AccountNumber)
	return p, nil
}

// Match moves a pending payment to matched and links the notification. A
// caller that loses the race gets ErrConcurrentMatchConflict. Exact matches
// are approved straight away when auto approval is enabled and the payer
// name scores at least the configured minimum.
func (s *Service) Match(ctx context.Context, p *models.Payment, email *models.InboundEmail, confidence Confidence, emailData map[string]interface{}) (*models.Payment, error) {
	raw, err := json.Marshal(emailData)
	if err != nil {
		return nil, fmt.Errorf("encode email data: %w", err)
	}

	now := s.clock.Now()
	won, err := s.payments.MatchWithEmail(ctx, p.ID, email.ID, map[string]interface{}{
		"email_data":       datatypes.JSON(raw),
		"matched_at":       now,
		"match_confidence": string(confidence),
		"inbound_email_id": email.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("match payment: %w", err)
	}
	if !won {
		return nil, ErrConcurrentMatchConflict
	}

	matched, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reload payment: %w", err)
	}

	s.audit(ctx, matched, models.EventPaymentMatched, map[string]interface{}{
		"email_id":   email.ID,
		"confidence": confidence,
	})
	s.log.Info("payment matched", "transaction_id", matched.TransactionID, "confidence", confidence, "email_id", email.ID)
	s.bus.Publish(ctx, events.Event{Kind: events.PaymentMatched, Payment: *matched, OccurredAt: now})

	if confidence == ConfidenceExact && s.settings.AutoApproveExact(ctx) {
		if minScore := s.settings.MinNameScore(ctx); minScore > 0 {
			score, ok := emailData["name_similarity"].(float64)
			if !ok || score < minScore {
				s.log.Info("exact match held for review", "transaction_id", matched.TransactionID, "name_similarity", score, "min_name_similarity", minScore)
				return matched, nil
			}
		}
		approved, _, err := s.approve(ctx, matched, "auto")
		if err != nil {
			return matched, err
		}
		return approved, nil
	}
	return matched, nil
}

// Approve confirms a matched payment. Calling it on a payment that already
// reached a final status changes nothing and reports false.
func (s *Service) Approve(ctx context.Context, txID, actor string) (*models.Payment, bool, error) {
	p, err := s.payments.GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, false, err
	}
	return s.approve(ctx, p, actor)
}

func (s *Service) approve(ctx context.Context, p *models.Payment, actor string) (*models.Payment, bool, error) {
	if p.Status.Terminal() {
		return p, false, nil
	}
	if !CanTransition(p.Status, models.PaymentApproved) {
		return p, false, ErrInvalidTransition
	}

	now := s.clock.Now()
	ok, err := s.payments.TransitionStatus(ctx, p.ID, models.PaymentMatched, models.PaymentApproved, map[string]interface{}{
		"approved_at":    now,
		"webhook_status": models.WebhookPending,
	})
	if err != nil {
		return nil, false, fmt.Errorf("approve payment: %w", err)
	}

	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload payment: %w", err)
	}
	if !ok {
		return current, false, nil
	}

	s.audit(ctx, current, models.EventPaymentApproved, map[string]interface{}{"actor": actor})
	s.log.Info("payment approved", "transaction_id", current.TransactionID, "actor", actor)
	s.bus.Publish(ctx, events.Event{Kind: events.PaymentApproved, Payment: *current, OccurredAt: now})
	return current, true, nil
}

// Reject declines a matched payment.
func (s *Service) Reject(ctx context.Context, txID, reason string) (*models.Payment, bool, error) {
	p, err := s.payments.GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, false, err
	}
	if p.Status.Terminal() {
		return p, false, nil
	}
	if !CanTransition(p.Status, models.PaymentRejected) {
		return p, false, ErrInvalidTransition
	}

	now := s.clock.Now()
	ok, err := s.payments.TransitionStatus(ctx, p.ID, models.PaymentMatched, models.PaymentRejected, map[string]interface{}{
		"rejected_at":      now,
		"rejection_reason": reason,
	})
	if err != nil {
		return nil, false, fmt.Errorf("reject payment: %w", err)
	}

	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload payment: %w", err)
	}
	if !ok {
		return current, false, nil
	}

	s.audit(ctx, current, models.EventPaymentRejected, map[string]interface{}{"reason": reason})
	s.log.Info("payment rejected", "transaction_id", current.TransactionID, "reason", reason)
	s.bus.Publish(ctx, events.Event{Kind: events.PaymentRejected, Payment: *current, OccurredAt: now})
	return current, true, nil
}

// Expire closes a pending payment whose deadline has passed. Losing to a
// concurrent match or expiry is not an error.
func (s *Service) Expire(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	if p.Status.Terminal() {
		return p, false, nil
	}
	if !CanTransition(p.Status, models.PaymentExpired) {
		return p, false, ErrInvalidTransition
	}

	now := s.clock.Now()
	if p.ExpiresAt == nil || p.ExpiresAt.After(now) {
		return p, false, ErrNotYetExpired
	}

	ok, err := s.payments.TransitionStatus(ctx, p.ID, models.PaymentPending, models.PaymentExpired, map[string]interface{}{
		"expired_at": now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("expire payment: %w", err)
	}

	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload payment: %w", err)
	}
	if !ok {
		return current, false, nil
	}

	s.audit(ctx, current, models.EventPaymentExpired, map[string]interface{}{"expires_at": p.ExpiresAt})
	s.log.Info("payment expired", "transaction_id", current.TransactionID)
	s.bus.Publish(ctx, events.Event{Kind: events.PaymentExpired, Payment: *current, OccurredAt: now})
	return current, true, nil
}

func (s *Service) audit(ctx context.Context, p *models.Payment, event string, data map[string]interface{}) {
	id := p.ID
	if err := s.logs.Append(ctx, p.TransactionID, &id, event, data, s.clock.Now()); err != nil {
		s.log.Error("transaction log write failed", "transaction_id", p.TransactionID, "event", event, "err", err)
	}
}

func newTransactionID(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("transaction id: %w", err)
	}
	return fmt.Sprintf("TXN%d%s", now.Unix(), strings.ToUpper(hex.EncodeToString(b))), nil
}
