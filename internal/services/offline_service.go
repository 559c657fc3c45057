package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/metrics"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// OfflineAction is the transition chosen for one point
type OfflineAction string

const (
	OfflineActionNone       OfflineAction = "none"
	OfflineActionGoOffline  OfflineAction = "go_offline"
	OfflineActionRecover    OfflineAction = "recover"
	OfflineActionRepairFlag OfflineAction = "repair_flag"
)

// OfflineDecision is the output of EvaluateOffline
type OfflineDecision struct {
	Action OfflineAction
	// OfflineAt is the episode start, set for go_offline
	OfflineAt time.Time
	// Offline is the flag value the point must end up with
	Offline bool
}

// EvaluateOffline decides the transition of a point given its open episode
// (nil when online). A point is stale when it never reported or its last
// acquisition is older than threshold. A never-seen point is considered
// offline since now - threshold.
func EvaluateOffline(point *models.MonitoredPoint, open *models.OfflineRecord, threshold time.Duration, now time.Time) OfflineDecision {
	stale := point.LastAcquiredAt == nil || now.Sub(*point.LastAcquiredAt) > threshold

	switch {
	case open == nil && stale:
		start := now.Add(-threshold)
		if point.LastAcquiredAt != nil {
			start = *point.LastAcquiredAt
		}
		return OfflineDecision{Action: OfflineActionGoOffline, OfflineAt: start, Offline: true}

	case open != nil && !stale:
		return OfflineDecision{Action: OfflineActionRecover, Offline: false}

	case point.Offline != (open != nil):
		return OfflineDecision{Action: OfflineActionRepairFlag, Offline: open != nil}
	}

	return OfflineDecision{Action: OfflineActionNone, Offline: point.Offline}
}

// OfflineService runs the offline/recovery sweep
type OfflineService struct {
	points    repository.PointRepository
	offline   repository.OfflineRepository
	defaults  models.Thresholds
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *utils.Logger
}

// NewOfflineService creates a new offline service
func NewOfflineService(
	repos *repository.RepositoryFactory,
	defaults models.Thresholds,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *utils.Logger,
) *OfflineService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OfflineService{
		points:    repos.Point(),
		offline:   repos.Offline(),
		defaults:  defaults,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
		logger:    logger.Named("offline_service"),
	}
}

// RunSweep applies EvaluateOffline to every point. Re-running it without any
// new acquisition performs no writes.
func (s *OfflineService) RunSweep(ctx context.Context) (*scheduler.Result, error) {
	points, err := s.points.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}

	stats := newCounters("points", "failed_points", "offline", "recovered", "repaired")
	now := s.now().UTC()

	for idx := range points {
		if err := ctx.Err(); err != nil {
			return stats.result(), fmt.Errorf("sweep interrupted: %w", err)
		}

		point := &points[idx]
		stats.inc("points")

		action, err := s.sweepPoint(ctx, point, now)
		if err != nil {
			stats.inc("failed_points")
			s.logger.Warn("Offline check failed",
				zap.String("point_code", point.KKSCode),
				zap.Error(err),
			)
			continue
		}

		switch action {
		case OfflineActionGoOffline:
			stats.inc("offline")
		case OfflineActionRecover:
			stats.inc("recovered")
		case OfflineActionRepairFlag:
			stats.inc("repaired")
		}
	}

	return stats.result(), nil
}

func (s *OfflineService) sweepPoint(ctx context.Context, point *models.MonitoredPoint, now time.Time) (OfflineAction, error) {
	thresholds, _ := point.ResolveThresholds(s.defaults)

	open, err := s.offline.FindOpen(ctx, point.KKSCode)
	if err != nil {
		return OfflineActionNone, err
	}

	decision := EvaluateOffline(point, open, thresholds.OfflineJudgment(), now)
	log := s.logger.With(zap.String("point_code", point.KKSCode))

	switch decision.Action {
	case OfflineActionGoOffline:
		return s.goOffline(ctx, point, decision, thresholds.OfflineJudgmentHours, log)

	case OfflineActionRecover:
		open.Close(now)
		if err := s.offline.Update(ctx, open); err != nil {
			return OfflineActionNone, err
		}
		if err := s.setFlag(ctx, point, false); err != nil {
			return OfflineActionNone, err
		}

		log.Info("Point recovered",
			zap.Time("offline_at", open.OfflineAt),
			zap.Int64("duration_seconds", *open.DurationSeconds),
		)
		s.metrics.RecordOfflineTransition(events.TransitionRecovered)
		s.publish(point, events.TransitionRecovered, open)
		return OfflineActionRecover, nil

	case OfflineActionRepairFlag:
		if err := s.setFlag(ctx, point, decision.Offline); err != nil {
			return OfflineActionNone, err
		}

		log.Warn("Offline flag disagreed with offline records, repaired",
			zap.Bool("offline", decision.Offline),
		)
		s.metrics.RecordOfflineTransition(events.TransitionRepaired)
		s.publish(point, events.TransitionRepaired, open)
		return OfflineActionRepairFlag, nil
	}

	return OfflineActionNone, nil
}

func (s *OfflineService) goOffline(ctx context.Context, point *models.MonitoredPoint, decision OfflineDecision, hours int, log *utils.Logger) (OfflineAction, error) {
	// An ingestion or a concurrent sweep may have changed things since the
	// first lookup
	open, err := s.offline.FindOpen(ctx, point.KKSCode)
	if err != nil {
		return OfflineActionNone, err
	}
	if open != nil {
		return OfflineActionNone, s.setFlag(ctx, point, true)
	}

	record := &models.OfflineRecord{
		PointCode:              point.KKSCode,
		EquipmentID:            point.EquipmentID,
		OfflineAt:              decision.OfflineAt.UTC(),
		Status:                 models.OfflineStatusOffline,
		JudgmentThresholdHours: hours,
	}

	if err := s.offline.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Debug("Offline episode opened concurrently")
			return OfflineActionNone, s.setFlag(ctx, point, true)
		}
		return OfflineActionNone, err
	}

	if err := s.setFlag(ctx, point, true); err != nil {
		return OfflineActionNone, err
	}

	log.Info("Point went offline",
		zap.Time("offline_at", record.OfflineAt),
		zap.Int("judgment_threshold_hours", hours),
	)
	s.metrics.RecordOfflineTransition(events.TransitionOffline)
	s.publish(point, events.TransitionOffline, record)
	return OfflineActionGoOffline, nil
}

// setFlag writes the offline flag only when it changes
func (s *OfflineService) setFlag(ctx context.Context, point *models.MonitoredPoint, offline bool) error {
	if point.Offline == offline {
		return nil
	}
	if err := s.points.SetOffline(ctx, point.KKSCode, offline); err != nil {
		return err
	}
	point.Offline = offline
	return nil
}

func (s *OfflineService) publish(point *models.MonitoredPoint, transition string, record *models.OfflineRecord) {
	event := &events.PointStateEvent{
		ID:          events.NewID(),
		PointCode:   point.KKSCode,
		EquipmentID: point.EquipmentID,
		Transition:  transition,
		Offline:     point.Offline,
		PublishedAt: time.Now().UTC(),
	}
	if record != nil {
		offlineAt := record.OfflineAt
		event.OfflineAt = &offlineAt
		event.RecoveredAt = record.RecoveredAt
		event.DurationSeconds = record.DurationSeconds
	}

	if err := s.publisher.PublishPointState(event); err != nil {
		s.logger.Warn("Failed to publish point state event",
			zap.String("point_code", point.KKSCode),
			zap.Error(err),
		)
	}
}
