package repository

import (
	"context"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FulfillmentRepository struct {
	db *gorm.DB
}

func NewFulfillmentRepository(db *gorm.DB) *FulfillmentRepository {
	return &FulfillmentRepository{db: db}
}

// Record inserts a fulfillment once per payment and kind. It reports false
// when the row already existed.
func (r *FulfillmentRepository) Record(ctx context.Context, f *models.Fulfillment) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(f)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *FulfillmentRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Find(&rows).Error
	return rows, err
}
