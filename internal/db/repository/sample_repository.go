package repository

import (
	"context"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"gorm.io/gorm"
)

// SampleRepository defines operations on persisted acquisition samples
type SampleRepository interface {
	Repository
	Exists(ctx context.Context, pointCode string, acquiredAt time.Time) (bool, error)
	Insert(ctx context.Context, sample *models.AcquisitionSample) error
	InsertWithSnapshot(ctx context.Context, sample *models.AcquisitionSample, snapshot models.PointSnapshot) (bool, error)
	QueryWindow(ctx context.Context, pointCode string, from, to time.Time) ([]models.AcquisitionSample, error)
	Latest(ctx context.Context, pointCode string) (*models.AcquisitionSample, error)
	List(ctx context.Context, pointCode string, from, to time.Time, limit int) ([]models.AcquisitionSample, error)
}

// sampleRepository implements SampleRepository
type sampleRepository struct {
	BaseRepository
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *gorm.DB) SampleRepository {
	return &sampleRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Exists reports whether a sample for the point and timestamp is already stored
func (r *sampleRepository) Exists(ctx context.Context, pointCode string, acquiredAt time.Time) (bool, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&models.AcquisitionSample{}).
		Where("point_code = ? AND acquired_at = ?", pointCode, acquiredAt.UTC()).
		Count(&count).Error
	if err != nil {
		return false, r.handleError(err)
	}
	return count > 0, nil
}

// Insert persists a single sample
func (r *sampleRepository) Insert(ctx context.Context, sample *models.AcquisitionSample) error {
	err := r.GetDB().WithContext(ctx).Create(sample).Error
	return r.handleError(err)
}

// InsertWithSnapshot persists the sample and the point snapshot atomically.
// It reports whether the snapshot was newer than the stored one.
func (r *sampleRepository) InsertWithSnapshot(ctx context.Context, sample *models.AcquisitionSample, snapshot models.PointSnapshot) (bool, error) {
	applied := false
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sample).Error; err != nil {
			return err
		}

		var err error
		applied, err = updateSnapshot(tx, sample.PointCode, snapshot)
		return err
	})
	if err != nil {
		return false, r.handleError(err)
	}
	return applied, nil
}

// QueryWindow returns the samples of a point acquired in [from, to], oldest
// first. Payloads are not loaded.
func (r *sampleRepository) QueryWindow(ctx context.Context, pointCode string, from, to time.Time) ([]models.AcquisitionSample, error) {
	var samples []models.AcquisitionSample
	err := r.GetDB().WithContext(ctx).
		Omit("payload").
		Where("point_code = ? AND acquired_at >= ? AND acquired_at <= ?", pointCode, from.UTC(), to.UTC()).
		Order("acquired_at asc").
		Find(&samples).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return samples, nil
}

// Latest returns the most recent sample of a point
func (r *sampleRepository) Latest(ctx context.Context, pointCode string) (*models.AcquisitionSample, error) {
	var sample models.AcquisitionSample
	err := r.GetDB().WithContext(ctx).
		Omit("payload").
		Where("point_code = ?", pointCode).
		Order("acquired_at desc").
		Limit(1).
		First(&sample).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &sample, nil
}

// List returns the samples of a point in [from, to], newest first
func (r *sampleRepository) List(ctx context.Context, pointCode string, from, to time.Time, limit int) ([]models.AcquisitionSample, error) {
	var samples []models.AcquisitionSample

	query := r.GetDB().WithContext(ctx).
		Omit("payload").
		Where("point_code = ? AND acquired_at >= ? AND acquired_at <= ?", pointCode, from.UTC(), to.UTC())

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Order("acquired_at desc").Find(&samples).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return samples, nil
}
