package repository

import (
	"context"
	"errors"
	"time"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Expose DB if needed
func (r *PaymentRepository) DB() *gorm.DB {
	return r.db
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).First(&p, "transaction_id = ?", txID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindMatchCandidates returns pending payments created within [from, to],
// oldest first. An empty account matches every receiving account.
func (r *PaymentRepository) FindMatchCandidates(ctx context.Context, account string, from, to time.Time) ([]models.Payment, error) {
	var payments []models.Payment

	q := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentPending).
		Where("created_at >= ? AND created_at <= ?", from, to)
	if account != "" {
		q = q.Where("account_number = ?", account)
	}

	err := q.Order("created_at ASC").Order("id ASC").Find(&payments).Error
	return payments, err
}

// TransitionStatus moves a payment from one status to another only if it is
// still in the expected status. It reports whether this call won.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentStatus, fields map[string]interface{}) (bool, error) {
	return transition(r.db.WithContext(ctx), id, from, to, fields)
}

func transition(db *gorm.DB, id uuid.UUID, from, to models.PaymentStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

// MatchWithEmail moves the payment to matched and links the notification to
// it in one transaction. Neither side is written unless both guards hold.
func (r *PaymentRepository) MatchWithEmail(ctx context.Context, paymentID, emailID uuid.UUID, fields map[string]interface{}) (bool, error) {
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := transition(tx, paymentID, models.PaymentPending, models.PaymentMatched, fields)
		if err != nil || !ok {
			return err
		}

		res := tx.Model(&models.InboundEmail{}).
			Where("id = ? AND matched_payment_id IS NULL", emailID).
			Updates(map[string]interface{}{
				"status":             models.EmailMatched,
				"matched_payment_id": paymentID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errEmailAlreadyLinked
		}
		won = true
		return nil
	})
	if errors.Is(err, errEmailAlreadyLinked) {
		return false, nil
	}
	return won, err
}

var errEmailAlreadyLinked = errors.New("email already linked to a payment")

// ExpiryCursor marks the last payment a sweep has seen, ordered by
// (expires_at, id).
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        uuid.UUID
}

// ListExpirable returns pending payments whose deadline is at or before now,
// in (expires_at, id) order and strictly after the cursor when one is given.
func (r *PaymentRepository) ListExpirable(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]models.Payment, error) {
	var payments []models.Payment

	q := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentPending).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now)
	if after != nil {
		q = q.Where("(expires_at > ? OR (expires_at = ? AND id > ?))", after.ExpiresAt, after.ExpiresAt, after.ID)
	}

	err := q.Order("expires_at ASC").Order("id ASC").Limit(limit).Find(&payments).Error
	return payments, err
}

// ListWebhookDue selects approved payments with a webhook URL whose
// notification is still owed: never sent or failed, outside the cooldown and
// below the attempt cap.
func (r *PaymentRepository) ListWebhookDue(ctx context.Context, now time.Time, cooldown time.Duration, maxAttempts, limit int) ([]models.Payment, error) {
	var payments []models.Payment

	err := r.db.WithContext(ctx).
		Where("status = ? AND webhook_url <> ''", models.PaymentApproved).
		Where("webhook_status IS NULL OR webhook_status IN ?", []string{models.WebhookPending, models.WebhookFailed}).
		Where("webhook_sent_at IS NULL OR webhook_sent_at < ?", now.Add(-cooldown)).
		Where("webhook_attempts < ?", maxAttempts).
		Order("matched_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// ClaimWebhookAttempt records the start of delivery attempt number
// attempts+1. Only one caller can claim a given attempt.
func (r *PaymentRepository) ClaimWebhookAttempt(ctx context.Context, id uuid.UUID, attempts int, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND webhook_attempts = ?", id, attempts).
		Where("webhook_status IS NULL OR webhook_status <> ?", models.WebhookSent).
		Updates(map[string]interface{}{
			"webhook_attempts": attempts + 1,
			"webhook_sent_at":  now,
			"webhook_status":   models.WebhookPending,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *PaymentRepository) MarkWebhookResult(ctx context.Context, id uuid.UUID, status, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"webhook_status":     status,
			"webhook_last_error": lastError,
		}).Error
}
