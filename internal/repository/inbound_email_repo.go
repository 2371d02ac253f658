package repository

import (
	"context"
	"errors"
	"time"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InboundEmailRepository struct {
	db *gorm.DB
}

func NewInboundEmailRepository(db *gorm.DB) *InboundEmailRepository {
	return &InboundEmailRepository{db: db}
}

// Create stores the email unless one with the same message id exists.
// It reports false for a duplicate.
func (r *InboundEmailRepository) Create(ctx context.Context, e *models.InboundEmail) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(e)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *InboundEmailRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.InboundEmail, error) {
	var e models.InboundEmail
	err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveExtraction persists the parsed fields and the resulting status.
func (r *InboundEmailRepository) SaveExtraction(ctx context.Context, e *models.InboundEmail) error {
	return r.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Where("id = ?", e.ID).
		Updates(map[string]interface{}{
			"bank":           e.Bank,
			"amount":         e.Amount,
			"account_number": e.AccountNumber,
			"payer_name":     e.PayerName,
			"reference":      e.Reference,
			"extracted":      e.Extracted,
			"status":         e.Status,
			"parse_error":    e.ParseError,
		}).Error
}

// MarkUnmatched records a failed match attempt. Emails already linked are
// left alone.
func (r *InboundEmailRepository) MarkUnmatched(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Where("id = ? AND matched_payment_id IS NULL", id).
		Updates(map[string]interface{}{
			"status":         models.EmailUnmatched,
			"match_attempts": gorm.Expr("match_attempts + 1"),
		}).Error
}

// ListUnmatched returns unmatched emails received at or after since, oldest first.
func (r *InboundEmailRepository) ListUnmatched(ctx context.Context, since time.Time, limit int) ([]models.InboundEmail, error) {
	var emails []models.InboundEmail
	err := r.db.WithContext(ctx).
		Where("status = ? AND received_at >= ?", models.EmailUnmatched, since).
		Order("received_at ASC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

// DiscardUnmatchedBefore retires unmatched emails that can no longer match.
func (r *InboundEmailRepository) DiscardUnmatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Where("status = ? AND received_at < ?", models.EmailUnmatched, before).
		Update("status", models.EmailDiscarded)
	return result.RowsAffected, result.Error
}

func (r *InboundEmailRepository) CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error) {
	var rows []struct {
		Status models.EmailStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.InboundEmail{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.EmailStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
