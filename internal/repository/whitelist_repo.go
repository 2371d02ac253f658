package repository

import (
	"context"

	"email-payment-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WhitelistRepository struct {
	db *gorm.DB
}

func NewWhitelistRepository(db *gorm.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

func (r *WhitelistRepository) ListActive(ctx context.Context) ([]models.WhitelistedEmail, error) {
	var entries []models.WhitelistedEmail
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC").Find(&entries).Error
	return entries, err
}

// Add inserts a pattern. Existing patterns are left untouched.
func (r *WhitelistRepository) Add(ctx context.Context, e *models.WhitelistedEmail) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pattern"}}, DoNothing: true}).
		Create(e).Error
}
