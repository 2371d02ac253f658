// Package webhook delivers signed payment notifications to businesses.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"email-payment-gateway/internal/clock"
	"email-payment-gateway/internal/models"
	"email-payment-gateway/internal/repository"

	"gopkg.in/inconshreveable/log15.v2"
)

const (
	userAgent    = "EmailPaymentGateway/1.0"
	maxSweepSize = 100
)

// DeliveryError is a failed attempt: a non-2xx response or a transport error.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Secrets interface {
	WebhookSecret(ctx context.Context) string
}

type Options struct {
	MaxAttempts int
	Cooldown    time.Duration
	Timeout     time.Duration
}

type SweepResult struct {
	Queued     int      `json:"queued"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors"`
	TotalFound int      `json:"total_found"`
}

type Dispatcher struct {
	payments   *repository.PaymentRepository
	businesses *repository.BusinessRepository
	logs       *repository.TransactionLogRepository
	secrets    Secrets
	client     *http.Client
	clock      clock.Clock
	opts       Options
	log        log15.Logger
}

func NewDispatcher(
	payments *repository.PaymentRepository,
	businesses *repository.BusinessRepository,
	logs *repository.TransactionLogRepository,
	secrets Secrets,
	client *http.Client,
	clk clock.Clock,
	opts Options,
	log log15.Logger,
) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Dispatcher{
		payments:   payments,
		businesses: businesses,
		logs:       logs,
		secrets:    secrets,
		client:     client,
		clock:      clk,
		opts:       opts,
		log:        log,
	}
}

// Deliver makes one delivery attempt for p and reports whether the
// notification was sent. Payments without a URL, already delivered, or out
// of attempts are skipped. An attempt another worker has already claimed is
// skipped as well.
func (d *Dispatcher) Deliver(ctx context.Context, p *models.Payment) (bool, error) {
	if p.WebhookURL == "" {
		return false, nil
	}
	if p.WebhookStatus != nil && *p.WebhookStatus == models.WebhookSent {
		return false, nil
	}
	if p.WebhookAttempts >= d.opts.MaxAttempts {
		return false, nil
	}

	now := d.clock.Now()
	claimed, err := d.payments.ClaimWebhookAttempt(ctx, p.ID, p.WebhookAttempts, now)
	if err != nil {
		return false, fmt.Errorf("claim webhook attempt: %w", err)
	}
	if !claimed {
		d.log.Debug("webhook attempt claimed elsewhere", "transaction_id", p.TransactionID, "attempt", p.WebhookAttempts+1)
		return false, nil
	}
	attempt := p.WebhookAttempts + 1

	body, err := json.Marshal(BuildPayload(p, now))
	if err != nil {
		return false, fmt.Errorf("encode webhook payload: %w", err)
	}

	status, sendErr := d.post(ctx, p, body, now)
	if sendErr == nil {
		if err := d.payments.MarkWebhookResult(ctx, p.ID, models.WebhookSent, ""); err != nil {
			return true, fmt.Errorf("mark webhook sent: %w", err)
		}
		d.audit(ctx, p, models.EventWebhookSent, map[string]interface{}{
			"attempt":     attempt,
			"status_code": status,
		})
		d.log.Info("webhook delivered", "transaction_id", p.TransactionID, "attempt", attempt, "status_code", status)
		return true, nil
	}

	permanent := attempt >= d.opts.MaxAttempts
	if err := d.payments.MarkWebhookResult(ctx, p.ID, models.WebhookFailed, sendErr.Error()); err != nil {
		return false, fmt.Errorf("mark webhook failed: %w", err)
	}
	d.audit(ctx, p, models.EventWebhookFailed, map[string]interface{}{
		"attempt":     attempt,
		"status_code": status,
		"error":       sendErr.Error(),
		"permanent":   permanent,
	})
	d.log.Warn("webhook delivery failed", "transaction_id", p.TransactionID, "attempt", attempt, "permanent", permanent, "err", sendErr)
	return false, sendErr
}

func (d *Dispatcher) post(ctx context.Context, p *models.Payment, body []byte, now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Transaction-Id", p.TransactionID)
	req.Header.Set("X-Webhook-Timestamp", ts)
	if secret := d.secretFor(ctx, p); secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(secret, ts, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &DeliveryError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) secretFor(ctx context.Context, p *models.Payment) string {
	if p.BusinessID != nil {
		biz, err := d.businesses.GetByID(ctx, *p.BusinessID)
		if err == nil && biz.WebhookSecret != "" {
			return biz.WebhookSecret
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			d.log.Warn("business lookup failed, using global secret", "business_id", *p.BusinessID, "err", err)
		}
	}
	return d.secrets.WebhookSecret(ctx)
}

// Sweep retries deliveries for approved payments that are due. limit is
// clamped to 1..100.
func (d *Dispatcher) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	if limit <= 0 || limit > maxSweepSize {
		limit = maxSweepSize
	}
	res := SweepResult{Errors: []string{}}

	due, err := d.payments.ListWebhookDue(ctx, d.clock.Now(), d.opts.Cooldown, d.opts.MaxAttempts, limit)
	if err != nil {
		return res, fmt.Errorf("list webhook due: %w", err)
	}
	res.TotalFound = len(due)

	for i := range due {
		p := &due[i]
		sent, err := d.Deliver(ctx, p)
		var delivery *DeliveryError
		switch {
		case err == nil && sent:
			res.Queued++
		case err == nil:
			res.Skipped++
		case errors.As(err, &delivery):
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.TransactionID, err))
		default:
			return res, err
		}
	}
	return res, nil
}

func (d *Dispatcher) audit(ctx context.Context, p *models.Payment, event string, data map[string]interface{}) {
	id := p.ID
	if err := d.logs.Append(ctx, p.TransactionID, &id, event, data, d.clock.Now()); err != nil {
		d.log.Error("transaction log write failed", "transaction_id", p.TransactionID, "event", event, "err", err)
	}
}
