package repository

import (
	"context"
	"errors"
	"time"

	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNoAccountAvailable = errors.New("no active receiving account")

type AccountNumberRepository struct {
	db *gorm.DB
}

func NewAccountNumberRepository(db *gorm.DB) *AccountNumberRepository {
	return &AccountNumberRepository{db: db}
}

// Assign picks the least recently used active account, preferring the
// business's own accounts over the shared pool, and stamps it as used.
func (r *AccountNumberRepository) Assign(ctx context.Context, businessID *uuid.UUID, now time.Time) (*models.AccountNumber, error) {
	var picked *models.AccountNumber

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if businessID != nil {
			acct, err := leastRecent(tx.Where("business_id = ?", *businessID))
			if err != nil {
				return err
			}
			picked = acct
		}
		if picked == nil {
			acct, err := leastRecent(tx.Where("business_id IS NULL"))
			if err != nil {
				return err
			}
			picked = acct
		}
		if picked == nil {
			return ErrNoAccountAvailable
		}

		picked.LastAssignedAt = &now
		return tx.Model(&models.AccountNumber{}).
			Where("id = ?", picked.ID).
			Update("last_assigned_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

func leastRecent(q *gorm.DB) (*models.AccountNumber, error) {
	var accounts []models.AccountNumber
	err := q.Where("active = ?", true).
		Order("CASE WHEN last_assigned_at IS NULL THEN 0 ELSE 1 END").
		Order("last_assigned_at ASC").
		Order("created_at ASC").
		Limit(1).
		Find(&accounts).Error
	if err != nil || len(accounts) == 0 {
		return nil, err
	}
	return &accounts[0], nil
}

func (r *AccountNumberRepository) Create(ctx context.Context, a *models.AccountNumber) error {
	return r.db.WithContext(ctx).Create(a).Error
}

type BusinessRepository struct {
	db *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

func (r *BusinessRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	var b models.Business
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BusinessRepository) Create(ctx context.Context, b *models.Business) error {
	return r.db.WithContext(ctx).Create(b).Error
}
