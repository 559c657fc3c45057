package repository

import (
	"context"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PointRepository defines operations on the monitored point registry
type PointRepository interface {
	Repository
	Create(ctx context.Context, point *models.MonitoredPoint) error
	GetByCode(ctx context.Context, code string) (*models.MonitoredPoint, error)
	List(ctx context.Context) ([]models.MonitoredPoint, error)
	ListPage(ctx context.Context, offset, limit int) ([]models.MonitoredPoint, int64, error)
	UpsertIdentity(ctx context.Context, point *models.MonitoredPoint) (bool, error)
	UpdateSnapshot(ctx context.Context, code string, snapshot models.PointSnapshot) (bool, error)
	SetOffline(ctx context.Context, code string, offline bool) error
	ClearAlarmLevel(ctx context.Context, code string, alarmedBefore time.Time) (bool, error)
}

// pointRepository implements PointRepository
type pointRepository struct {
	BaseRepository
}

// NewPointRepository creates a new point repository
func NewPointRepository(db *gorm.DB) PointRepository {
	return &pointRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create registers a new point
func (r *pointRepository) Create(ctx context.Context, point *models.MonitoredPoint) error {
	err := r.GetDB().WithContext(ctx).Create(point).Error
	return r.handleError(err)
}

// GetByCode retrieves a point by its KKS code
func (r *pointRepository) GetByCode(ctx context.Context, code string) (*models.MonitoredPoint, error) {
	var point models.MonitoredPoint
	err := r.GetDB().WithContext(ctx).Where("kks_code = ?", code).First(&point).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &point, nil
}

// List returns every registered point ordered by code
func (r *pointRepository) List(ctx context.Context) ([]models.MonitoredPoint, error) {
	var points []models.MonitoredPoint
	err := r.GetDB().WithContext(ctx).Order("kks_code asc").Find(&points).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return points, nil
}

// ListPage returns one page of points and the total count
func (r *pointRepository) ListPage(ctx context.Context, offset, limit int) ([]models.MonitoredPoint, int64, error) {
	var total int64
	if err := r.GetDB().WithContext(ctx).Model(&models.MonitoredPoint{}).Count(&total).Error; err != nil {
		return nil, 0, r.handleError(err)
	}

	var points []models.MonitoredPoint
	err := r.GetDB().WithContext(ctx).
		Order("kks_code asc").
		Offset(offset).
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, 0, r.handleError(err)
	}

	return points, total, nil
}

// UpsertIdentity creates the point if its code is unknown, otherwise refreshes
// only its identity fields. Thresholds and the snapshot are never touched.
func (r *pointRepository) UpsertIdentity(ctx context.Context, point *models.MonitoredPoint) (bool, error) {
	created := false
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.MonitoredPoint
		err := tx.Where("kks_code = ?", point.KKSCode).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			created = true
			return tx.Create(point).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&existing).Updates(map[string]interface{}{
			"external_id":  point.ExternalID,
			"equipment_id": point.EquipmentID,
			"name":         point.Name,
		}).Error
	})
	if err != nil {
		return false, r.handleError(err)
	}
	return created, nil
}

// UpdateSnapshot writes the last-known sample state. Snapshots older than the
// one already stored are ignored so out-of-order ingestion never moves the
// point backwards in time. It reports whether the snapshot was applied.
func (r *pointRepository) UpdateSnapshot(ctx context.Context, code string, snapshot models.PointSnapshot) (bool, error) {
	applied, err := updateSnapshot(r.GetDB().WithContext(ctx), code, snapshot)
	if err != nil {
		return false, r.handleError(err)
	}
	return applied, nil
}

func updateSnapshot(tx *gorm.DB, code string, snapshot models.PointSnapshot) (bool, error) {
	result := tx.Model(&models.MonitoredPoint{}).
		Where("kks_code = ? AND (last_acquired_at IS NULL OR last_acquired_at <= ?)", code, snapshot.AcquiredAt.UTC()).
		Updates(map[string]interface{}{
			"last_magnitude":      decimal.NullDecimal{Decimal: snapshot.Magnitude, Valid: true},
			"last_status":         snapshot.Status,
			"last_discharge_type": snapshot.DischargeType,
			"last_alarm_level":    snapshot.AlarmLevel,
			"last_acquired_at":    snapshot.AcquiredAt.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	if snapshot.AlarmAt != nil {
		err := tx.Model(&models.MonitoredPoint{}).
			Where("kks_code = ? AND (last_alarm_at IS NULL OR last_alarm_at < ?)", code, snapshot.AlarmAt.UTC()).
			Update("last_alarm_at", snapshot.AlarmAt.UTC()).Error
		if err != nil {
			return false, err
		}
	}

	return result.RowsAffected > 0, nil
}

// SetOffline updates the denormalised offline flag
func (r *pointRepository) SetOffline(ctx context.Context, code string, offline bool) error {
	result := r.GetDB().WithContext(ctx).Model(&models.MonitoredPoint{}).
		Where("kks_code = ?", code).
		Update("offline", offline)
	if result.Error != nil {
		return r.handleError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAlarmLevel resets the snapshot alarm level when the last alarm happened
// at or before alarmedBefore. It reports whether a reset happened.
func (r *pointRepository) ClearAlarmLevel(ctx context.Context, code string, alarmedBefore time.Time) (bool, error) {
	result := r.GetDB().WithContext(ctx).Model(&models.MonitoredPoint{}).
		Where("kks_code = ? AND last_alarm_level > 0 AND (last_alarm_at IS NULL OR last_alarm_at <= ?)", code, alarmedBefore.UTC()).
		Update("last_alarm_level", 0)
	if result.Error != nil {
		return false, r.handleError(result.Error)
	}
	return result.RowsAffected > 0, nil
}
