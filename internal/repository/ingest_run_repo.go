package repository

import (
	"context"
	"time"

	"email-payment-gateway/internal/models"

	"gorm.io/gorm"
)

type IngestRunRepository struct {
	db *gorm.DB
}

func NewIngestRunRepository(db *gorm.DB) *IngestRunRepository {
	return &IngestRunRepository{db: db}
}

func (r *IngestRunRepository) Create(ctx context.Context, run *models.IngestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Finish stores the final counters and status of a run.
func (r *IngestRunRepository) Finish(ctx context.Context, run *models.IngestRun, status, errMsg string, at time.Time) error {
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = &at

	return r.db.WithContext(ctx).Model(&models.IngestRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"received":     run.Received,
			"duplicates":   run.Duplicates,
			"untrusted":    run.Untrusted,
			"unparsable":   run.Unparsable,
			"matched":      run.Matched,
			"unmatched":    run.Unmatched,
			"status":       status,
			"error":        errMsg,
			"completed_at": at,
		}).Error
}

func (r *IngestRunRepository) Latest(ctx context.Context, source string, limit int) ([]models.IngestRun, error) {
	var runs []models.IngestRun
	err := r.db.WithContext(ctx).
		Where("source = ?", source).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
