package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/telemetry"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// RegistryService mirrors the points published by the telemetry source into
// the local registry
type RegistryService struct {
	points   repository.PointRepository
	registry telemetry.Registry
	logger   *utils.Logger
}

// NewRegistryService creates a new registry service
func NewRegistryService(repos *repository.RepositoryFactory, registry telemetry.Registry, logger *utils.Logger) *RegistryService {
	return &RegistryService{
		points:   repos.Point(),
		registry: registry,
		logger:   logger.Named("registry_service"),
	}
}

// RunRegistrySync upserts every published point by KKS code. Only identity
// fields are written; thresholds and snapshots stay untouched.
func (s *RegistryService) RunRegistrySync(ctx context.Context) (*scheduler.Result, error) {
	descriptors, err := s.registry.ListPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source points: %w", err)
	}

	stats := newCounters("received", "created", "updated", "invalid", "failed")

	for _, d := range descriptors {
		stats.inc("received")

		code := strings.TrimSpace(d.KKSCode)
		if code == "" || d.ID == "" {
			stats.inc("invalid")
			s.logger.Warn("Ignoring source point without code or id", zap.String("external_id", d.ID))
			continue
		}

		created, err := s.points.UpsertIdentity(ctx, &models.MonitoredPoint{
			KKSCode:     code,
			ExternalID:  d.ID,
			EquipmentID: d.EquipmentID,
			Name:        d.Name,
		})
		if err != nil {
			stats.inc("failed")
			s.logger.Warn("Failed to upsert point",
				zap.String("point_code", code),
				zap.Error(err),
			)
			continue
		}

		if created {
			stats.inc("created")
			s.logger.Info("Registered new point", zap.String("point_code", code))
		} else {
			stats.inc("updated")
		}
	}

	return stats.result(), nil
}
