package repository

import (
	"context"
	"strings"

	"carflow/internal/model"
	"carflow/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SyncLogRepository interface {
	// Append writes a new row. Rows are never updated or deleted.
	Append(ctx context.Context, entry *model.SyncLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.SyncLog, error)
	List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error)
	// ListAll returns every row matching the filter without pagination, for
	// the audit export projection.
	ListAll(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, error)
}

// SyncLogFilter narrows the ledger query
type SyncLogFilter struct {
	EntityType string
	Status     string
	Search     string // free-text over message, local_id, remote_id
	Page       int
	Limit      int
}

type syncLogRepository struct {
	db *gorm.DB
}

func NewSyncLogRepository(db *gorm.DB) SyncLogRepository {
	return &syncLogRepository{db: db}
}

func (r *syncLogRepository) Append(ctx context.Context, entry *model.SyncLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *syncLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.SyncLog, error) {
	var entry model.SyncLog
	if err := GetDB(ctx, r.db).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func applySyncLogFilter(q *gorm.DB, filter SyncLogFilter) *gorm.DB {
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		q = q.Where("LOWER(message) LIKE ? OR LOWER(local_id) LIKE ? OR LOWER(remote_id) LIKE ?", like, like, like)
	}
	return q
}

func (r *syncLogRepository) List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error) {
	var entries []model.SyncLog
	var total int64

	db := GetDB(ctx, r.db)
	if err := applySyncLogFilter(db.Model(&model.SyncLog{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(filter.Page, filter.Limit)
	if err := applySyncLogFilter(db, filter).Order("created_at desc").Offset(offset).Limit(filter.Limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func (r *syncLogRepository) ListAll(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, error) {
	var entries []model.SyncLog
	if err := applySyncLogFilter(GetDB(ctx, r.db), filter).Order("created_at desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
