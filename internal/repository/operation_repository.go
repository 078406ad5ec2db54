package repository

import (
	"context"
	"fmt"

	"issuance-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OperationRepository defines the interface for the settlement operation log
type OperationRepository interface {
	// Append stores an operation and its events in one transaction.
	Append(ctx context.Context, op *models.SettlementOperation, events []models.SettlementEvent) error
	LastSequence(ctx context.Context) (uint64, error)
	// ListAfter returns up to limit operations with sequence > after, in order.
	ListAfter(ctx context.Context, after uint64, limit int) ([]*models.SettlementOperation, error)
	GetByOperationID(ctx context.Context, operationID string) (*models.SettlementOperation, error)
	FindEvents(ctx context.Context, filter EventFilter, page, pageSize int) ([]*models.SettlementEvent, int64, error)
}

// EventFilter narrows FindEvents; empty fields match everything.
type EventFilter struct {
	Component string
	Name      string
	Account   string // matched against any attribute value
}

type operationRepository struct {
	db *gorm.DB
}

// NewOperationRepository creates a new OperationRepository instance
func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Append(ctx context.Context, op *models.SettlementOperation, events []models.SettlementEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "operation_id"}},
			DoNothing: true,
		}).Create(op).Error; err != nil {
			return fmt.Errorf("insert operation %d: %w", op.Sequence, err)
		}
		if len(events) == 0 {
			return nil
		}
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("insert events for operation %d: %w", op.Sequence, err)
		}
		return nil
	})
}

func (r *operationRepository) LastSequence(ctx context.Context) (uint64, error) {
	var last *uint64
	err := r.db.WithContext(ctx).
		Model(&models.SettlementOperation{}).
		Select("MAX(sequence)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return *last, nil
}

func (r *operationRepository) ListAfter(ctx context.Context, after uint64, limit int) ([]*models.SettlementOperation, error) {
	var ops []*models.SettlementOperation
	query := r.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *operationRepository) GetByOperationID(ctx context.Context, operationID string) (*models.SettlementOperation, error) {
	var op models.SettlementOperation
	err := r.db.WithContext(ctx).Where("operation_id = ?", operationID).First(&op).Error
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *operationRepository) FindEvents(ctx context.Context, filter EventFilter, page, pageSize int) ([]*models.SettlementEvent, int64, error) {
	var events []*models.SettlementEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SettlementEvent{})
	if filter.Component != "" {
		query = query.Where("component = ?", filter.Component)
	}
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Account != "" {
		query = query.Where("EXISTS (SELECT 1 FROM jsonb_each_text(attributes) kv WHERE LOWER(kv.value) = LOWER(?))", filter.Account)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = normalizePage(page, pageSize)
	err := query.
		Order("sequence DESC, position ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return page, pageSize
}
