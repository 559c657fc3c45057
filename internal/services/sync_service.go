package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/ingest"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/telemetry"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// PointStats are the per-point counts of one sync run
type PointStats struct {
	Inserted   int
	Duplicates int
	Skipped    int
	Alarms     int
	// Resume is the start of the window that was requested from the source
	Resume time.Time
}

// SyncService pulls new samples for every point and ingests them
type SyncService struct {
	points       repository.PointRepository
	samples      repository.SampleRepository
	source       telemetry.Source
	ingestor     *ingest.Ingestor
	workers      int
	lookbacks    []time.Duration
	defaultStart time.Time
	pointTimeout time.Duration
	now          func() time.Time
	logger       *utils.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	repos *repository.RepositoryFactory,
	source telemetry.Source,
	ingestor *ingest.Ingestor,
	cfg *config.SyncConfig,
	logger *utils.Logger,
) (*SyncService, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &SyncService{
		points:       repos.Point(),
		samples:      repos.Sample(),
		source:       source,
		ingestor:     ingestor,
		workers:      workers,
		lookbacks:    cfg.Lookbacks,
		defaultStart: start,
		pointTimeout: cfg.PointTimeout,
		now:          time.Now,
		logger:       logger.Named("sync_service"),
	}, nil
}

// RunSync synchronises every registered point. Points are spread over a
// bounded worker pool; a failing point never stops the others. The run fails
// only when the registry cannot be read or the context ends.
func (s *SyncService) RunSync(ctx context.Context) (*scheduler.Result, error) {
	points, err := s.points.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}

	stats := newCounters("points", "failed_points", "interrupted_points", "inserted", "duplicates", "skipped", "alarms")
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

dispatch:
	for idx := range points {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		point := &points[idx]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ps, err := s.SyncPoint(ctx, point)
			stats.inc("points")
			if ps != nil {
				stats.add("inserted", ps.Inserted)
				stats.add("duplicates", ps.Duplicates)
				stats.add("skipped", ps.Skipped)
				stats.add("alarms", ps.Alarms)
			}
			switch {
			case err == nil:
			case ctx.Err() != nil:
				stats.inc("interrupted_points")
				s.logger.Info("Point sync interrupted",
					zap.String("point_code", point.KKSCode),
					zap.Error(err),
				)
			default:
				stats.inc("failed_points")
				s.logger.Warn("Point sync failed",
					zap.String("point_code", point.KKSCode),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()

	result := stats.result()
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("sync interrupted: %w", err)
	}
	return result, nil
}

// SyncPoint ingests the samples of one point in ascending timestamp order.
// Decode and source errors skip the timestamp. A transient store error stops
// the point; the remaining timestamps are picked up by the next run. Once ctx
// is done the context error is returned instead of the failure it caused.
func (s *SyncService) SyncPoint(ctx context.Context, point *models.MonitoredPoint) (*PointStats, error) {
	if s.pointTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pointTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("point_code", point.KKSCode))

	if _, defaulted := s.ingestor.ResolveThresholds(point); len(defaulted) > 0 {
		log.Warn("Point has no configured value for some thresholds, using defaults",
			zap.Strings("fields", defaulted),
			zap.Error(utils.ErrConfiguration),
		)
	}

	now := s.now().UTC().Truncate(time.Second)
	resume, index, err := s.resolveWindow(ctx, point, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	stats := &PointStats{Resume: resume}
	if len(index) == 0 {
		return stats, nil
	}

	log.Debug("Syncing point",
		zap.Time("from", resume),
		zap.Int("timestamps", len(index)),
	)

	for _, ts := range index {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		res, err := s.ingestor.Ingest(ctx, point, ts)
		switch res.Outcome {
		case ingest.OutcomeInserted:
			stats.Inserted++
			if res.AlarmLevel > 0 {
				stats.Alarms++
			}
		case ingest.OutcomeDuplicate:
			stats.Duplicates++
		case ingest.OutcomeSkipped:
			stats.Skipped++
		}

		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		if utils.IsTransientStoreError(err) {
			log.Error("Record store unavailable, abandoning point until next run",
				zap.Time("timestamp", ts),
				zap.Error(err),
			)
			return stats, err
		}
		log.Warn("Skipping timestamp",
			zap.Time("timestamp", ts),
			zap.Error(err),
		)
	}

	return stats, nil
}

// resolveWindow picks the resume time and fetches the matching index. A
// point with history resumes one second after its latest sample. Otherwise
// the lookbacks are tried in order, then the default start; the first window
// holding any sample wins.
func (s *SyncService) resolveWindow(ctx context.Context, point *models.MonitoredPoint, now time.Time) (time.Time, []time.Time, error) {
	latest, err := s.samples.Latest(ctx, point.KKSCode)
	switch {
	case err == nil:
		resume := latest.AcquiredAt.UTC().Add(time.Second)
		if resume.After(now) {
			return resume, nil, nil
		}
		index, err := s.source.GetSampleIndex(ctx, point.ExternalID, resume, now)
		return resume, index, err
	case !errors.Is(err, repository.ErrNotFound):
		return time.Time{}, nil, fmt.Errorf("%w: latest sample: %w", utils.ErrTransientStore, err)
	}

	starts := make([]time.Time, 0, len(s.lookbacks)+1)
	for _, lb := range s.lookbacks {
		start := now.Add(-lb)
		if start.Before(s.defaultStart) {
			start = s.defaultStart
		}
		starts = append(starts, start)
	}
	starts = append(starts, s.defaultStart)

	var tried []time.Time
	for _, start := range starts {
		if containsTime(tried, start) {
			continue
		}
		tried = append(tried, start)

		index, err := s.source.GetSampleIndex(ctx, point.ExternalID, start, now)
		if err != nil {
			return start, nil, err
		}
		if len(index) > 0 {
			return start, index, nil
		}
	}

	return s.defaultStart, nil, nil
}

func containsTime(list []time.Time, t time.Time) bool {
	for _, v := range list {
		if v.Equal(t) {
			return true
		}
	}
	return false
}
