package repository

import (
	"context"
	"time"

	"issuance-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectionRepository maintains read models derived from committed events
type ProjectionRepository interface {
	UpsertRedemption(ctx context.Context, record *models.RedemptionRecord) error
	FindRedemptionsByUser(ctx context.Context, user string) ([]*models.RedemptionRecord, error)
	UpsertQueueEntry(ctx context.Context, entry *models.GatewayQueueEntry) error
	SettleQueueEntry(ctx context.Context, entryID string, status models.GatewayQueueStatus, underlying, fee string, at time.Time) error
	FindQueueEntries(ctx context.Context, status models.GatewayQueueStatus, page, pageSize int) ([]*models.GatewayQueueEntry, int64, error)
}

type projectionRepository struct {
	db *gorm.DB
}

// NewProjectionRepository creates a new ProjectionRepository instance
func NewProjectionRepository(db *gorm.DB) ProjectionRepository {
	return &projectionRepository{db: db}
}

func (r *projectionRepository) UpsertRedemption(ctx context.Context, record *models.RedemptionRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user"}, {Name: "record_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "claimed_at", "updated_at"}),
	}).Create(record).Error
}

func (r *projectionRepository) FindRedemptionsByUser(ctx context.Context, user string) ([]*models.RedemptionRecord, error) {
	var records []*models.RedemptionRecord
	err := r.db.WithContext(ctx).
		Where("LOWER(\"user\") = LOWER(?)", user).
		Order("record_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *projectionRepository) UpsertQueueEntry(ctx context.Context, entry *models.GatewayQueueEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}},
		DoNothing: true,
	}).Create(entry).Error
}

func (r *projectionRepository) SettleQueueEntry(ctx context.Context, entryID string, status models.GatewayQueueStatus, underlying, fee string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.GatewayQueueEntry{}).
		Where("entry_id = ?", entryID).
		Updates(map[string]interface{}{
			"status":     status,
			"underlying": underlying,
			"fee":        fee,
			"settled_at": at,
		}).Error
}

func (r *projectionRepository) FindQueueEntries(ctx context.Context, status models.GatewayQueueStatus, page, pageSize int) ([]*models.GatewayQueueEntry, int64, error) {
	var entries []*models.GatewayQueueEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&models.GatewayQueueEntry{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = normalizePage(page, pageSize)
	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
