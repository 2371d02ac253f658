package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"
	"email-payment-gateway/internal/services/payment"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"gopkg.in/inconshreveable/log15.v2"
)

var ErrNoMatchFound = errors.New("no pending payment matches the notification")

type Window interface {
	TimeWindow(ctx context.Context) time.Duration
}

type Matcher interface {
	Match(ctx context.Context, p *models.Payment, email *models.InboundEmail, confidence payment.Confidence, emailData map[string]interface{}) (*models.Payment, error)
}

type Engine struct {
	payments *repository.PaymentRepository
	matcher  Matcher
	window   Window
	log      log15.Logger
}

func NewEngine(payments *repository.PaymentRepository, matcher Matcher, window Window, log log15.Logger) *Engine {
	return &Engine{payments: payments, matcher: matcher, window: window, log: log}
}

// FindCandidate picks the pending payment a parsed notification pays for.
// The oldest payment wins when several qualify.
func (e *Engine) FindCandidate(ctx context.Context, email *models.InboundEmail) (*models.Payment, payment.Confidence, error) {
	if email.Amount == nil {
		return nil, "", ErrNoMatchFound
	}

	// 1. Pending payments on the same account inside the window
	window := e.window.TimeWindow(ctx)
	pending, err := e.payments.FindMatchCandidates(ctx, email.AccountNumber, email.ReceivedAt.Add(-window), email.ReceivedAt)
	if err != nil {
		return nil, "", fmt.Errorf("load candidates: %w", err)
	}

	// 2. Exact amount, still open when the money arrived
	for i := range pending {
		p := &pending[i]
		if p.ExpiresAt != nil && !p.ExpiresAt.After(email.ReceivedAt) {
			continue
		}
		if !p.Amount.Equal(*email.Amount) {
			continue
		}

		// 3. Rows are ordered by created_at, id so the first hit is the FIFO choice
		confidence := payment.ConfidenceAmountOnly
		if email.AccountNumber != "" && email.AccountNumber == p.AccountNumber {
			confidence = payment.ConfidenceExact
		}
		return p, confidence, nil
	}
	return nil, "", ErrNoMatchFound
}

// Match finds the candidate for email and hands it to the state machine.
func (e *Engine) Match(ctx context.Context, email *models.InboundEmail) (*models.Payment, error) {
	p, confidence, err := e.FindCandidate(ctx, email)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{}
	if len(email.Extracted) > 0 {
		if err := json.Unmarshal(email.Extracted, &data); err != nil {
			e.log.Warn("stored extraction unreadable", "email_id", email.ID, "err", err)
		}
	}
	if _, ok := data["amount"]; !ok {
		data["amount"] = json.Number(email.Amount.StringFixed(2))
	}
	data["email_id"] = email.ID
	data["from"] = email.FromAddress
	data["subject"] = email.Subject
	data["received_at"] = email.ReceivedAt
	if email.PayerName != "" {
		data["name_similarity"] = NameSimilarity(email.PayerName, p.PayerName)
	}

	matched, err := e.matcher.Match(ctx, p, email, confidence, data)
	if err != nil {
		return nil, err
	}
	e.log.Debug("notification matched", "email_id", email.ID, "transaction_id", matched.TransactionID, "confidence", confidence)
	return matched, nil
}

// NameSimilarity scores how well the payer name in a notification fits the
// name given at request time, from 0 to 100. Each expected token takes its
// best score against the notification tokens.
func NameSimilarity(fromEmail, expected string) float64 {
	eTokens := strings.Fields(normalizeName(fromEmail))
	pTokens := strings.Fields(normalizeName(expected))

	if len(pTokens) == 0 || len(eTokens) == 0 {
		return 0
	}

	total := 0.0
	for _, want := range pTokens {
		best := 0.0
		for _, got := range eTokens {
			a, b := []rune(want), []rune(got)
			dist := levenshtein.DistanceForStrings(a, b, levenshtein.DefaultOptions)
			sim := 1 - float64(dist)/float64(len(a)+len(b))
			if sim > best {
				best = sim
			}
		}
		total += best
	}

	return math.Round(total/float64(len(pTokens))*10000) / 100
}

func normalizeName(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.TrimSpace(s)
}
