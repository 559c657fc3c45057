package repository

import (
	"context"
	"errors"

	"github.com/gridsense/pdmon/internal/db/models"
	"gorm.io/gorm"
)

// OfflineRepository defines operations on offline episodes
type OfflineRepository interface {
	Repository
	FindOpen(ctx context.Context, pointCode string) (*models.OfflineRecord, error)
	Insert(ctx context.Context, record *models.OfflineRecord) error
	Update(ctx context.Context, record *models.OfflineRecord) error
	ListByPoint(ctx context.Context, pointCode string, limit int) ([]models.OfflineRecord, error)
}

// offlineRepository implements OfflineRepository
type offlineRepository struct {
	BaseRepository
}

// NewOfflineRepository creates a new offline record repository
func NewOfflineRepository(db *gorm.DB) OfflineRepository {
	return &offlineRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// FindOpen returns the open episode of a point, or nil when the point is online
func (r *offlineRepository) FindOpen(ctx context.Context, pointCode string) (*models.OfflineRecord, error) {
	var record models.OfflineRecord
	err := r.GetDB().WithContext(ctx).
		Where("point_code = ? AND status = ?", pointCode, models.OfflineStatusOffline).
		Order("offline_at desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.handleError(err)
	}
	return &record, nil
}

// Insert opens a new episode. A second open episode for the same point is
// rejected with ErrConflict.
func (r *offlineRepository) Insert(ctx context.Context, record *models.OfflineRecord) error {
	err := r.GetDB().WithContext(ctx).Create(record).Error
	return r.handleError(err)
}

// Update saves a modified episode
func (r *offlineRepository) Update(ctx context.Context, record *models.OfflineRecord) error {
	if record.ID == 0 {
		return ErrInvalidInput
	}
	err := r.GetDB().WithContext(ctx).Save(record).Error
	return r.handleError(err)
}

// ListByPoint returns the episodes of a point, newest first
func (r *offlineRepository) ListByPoint(ctx context.Context, pointCode string, limit int) ([]models.OfflineRecord, error) {
	var records []models.OfflineRecord

	query := r.GetDB().WithContext(ctx).Where("point_code = ?", pointCode)
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Order("offline_at desc").Find(&records).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return records, nil
}
