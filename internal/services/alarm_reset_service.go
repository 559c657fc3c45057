package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// AlarmResetService clears the snapshot alarm level of points that raised no
// alarm for longer than their reset delay
type AlarmResetService struct {
	points    repository.PointRepository
	defaults  models.Thresholds
	publisher events.Publisher
	now       func() time.Time
	logger    *utils.Logger
}

// NewAlarmResetService creates a new alarm reset service
func NewAlarmResetService(repos *repository.RepositoryFactory, defaults models.Thresholds, publisher events.Publisher, logger *utils.Logger) *AlarmResetService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &AlarmResetService{
		points:    repos.Point(),
		defaults:  defaults,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.Named("alarm_reset_service"),
	}
}

// RunReset checks every alarmed point once
func (s *AlarmResetService) RunReset(ctx context.Context) (*scheduler.Result, error) {
	points, err := s.points.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}

	stats := newCounters("alarmed", "cleared", "failed_points")
	now := s.now().UTC()

	for idx := range points {
		point := &points[idx]
		if point.LastAlarmLevel == 0 {
			continue
		}
		stats.inc("alarmed")

		thresholds, _ := point.ResolveThresholds(s.defaults)
		cutoff := now.Add(-thresholds.AlarmResetDelay())
		if point.LastAlarmAt != nil && point.LastAlarmAt.After(cutoff) {
			continue
		}

		cleared, err := s.points.ClearAlarmLevel(ctx, point.KKSCode, cutoff)
		if err != nil {
			stats.inc("failed_points")
			s.logger.Warn("Failed to clear alarm level",
				zap.String("point_code", point.KKSCode),
				zap.Error(err),
			)
			continue
		}
		if !cleared {
			// a newer alarm arrived in the meantime
			continue
		}

		stats.inc("cleared")
		s.logger.Info("Alarm level cleared",
			zap.String("point_code", point.KKSCode),
			zap.Int("previous_level", point.LastAlarmLevel),
		)

		event := &events.PointStateEvent{
			ID:          events.NewID(),
			PointCode:   point.KKSCode,
			EquipmentID: point.EquipmentID,
			Transition:  events.TransitionAlarmCleared,
			Offline:     point.Offline,
			PublishedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishPointState(event); err != nil {
			s.logger.Warn("Failed to publish point state event",
				zap.String("point_code", point.KKSCode),
				zap.Error(err),
			)
		}
	}

	return stats.result(), nil
}
