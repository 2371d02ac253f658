package repository

import (
	"context"
	"encoding/json"
	"time"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionLogRepository only ever inserts. The audit trail is never
// rewritten.
type TransactionLogRepository struct {
	db *gorm.DB
}

func NewTransactionLogRepository(db *gorm.DB) *TransactionLogRepository {
	return &TransactionLogRepository{db: db}
}

func (r *TransactionLogRepository) Append(ctx context.Context, txID string, paymentID *uuid.UUID, event string, data interface{}, at time.Time) error {
	var raw datatypes.JSON
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}

	entry := &models.TransactionLog{
		ID:            uuid.New(),
		TransactionID: txID,
		PaymentID:     paymentID,
		EventType:     event,
		Data:          raw,
		CreatedAt:     at,
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *TransactionLogRepository) ListByTransaction(ctx context.Context, txID string) ([]models.TransactionLog, error) {
	var entries []models.TransactionLog
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *TransactionLogRepository) CountEvents(ctx context.Context, paymentID uuid.UUID, event string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.TransactionLog{}).
		Where("payment_id = ? AND event_type = ?", paymentID, event).
		Count(&n).Error
	return n, err
}
