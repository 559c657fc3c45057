package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gridsense/pdmon/internal/classifier"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/db"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/ingest"
	"github.com/gridsense/pdmon/internal/kafka"
	"github.com/gridsense/pdmon/internal/metrics"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/stream"
	"github.com/gridsense/pdmon/internal/telemetry"
	"github.com/gridsense/pdmon/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ServiceProvider manages all services for the application
type ServiceProvider struct {
	logger   *utils.Logger
	config   *config.Config
	database *db.Database

	metrics      *metrics.Metrics
	repos        *repository.RepositoryFactory
	telemetry    *telemetry.Client
	kafkaManager *kafka.Manager
	hub          *stream.Hub
	publisher    events.Publisher
	ingestor     *ingest.Ingestor
	scheduler    *scheduler.Scheduler

	syncService       *SyncService
	offlineService    *OfflineService
	alarmResetService *AlarmResetService
	registryService   *RegistryService
}

// NewServiceProvider creates a new service provider
func NewServiceProvider(
	logger *utils.Logger,
	config *config.Config,
	database *db.Database,
) *ServiceProvider {
	return &ServiceProvider{
		logger:   logger.Named("services"),
		config:   config,
		database: database,
	}
}

// Initialize builds every service and registers the jobs. Nothing runs until
// Start, so one-shot commands can call RunJob right after Initialize.
func (sp *ServiceProvider) Initialize(ctx context.Context) error {
	var err error

	sp.metrics, err = metrics.New(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	thresholds, err := sp.config.Thresholds.Parse()
	if err != nil {
		return err
	}
	defaults := models.Thresholds(*thresholds)

	sp.repos = repository.NewRepositoryFactory(sp.database.DB)
	sp.telemetry = telemetry.NewClient(&sp.config.Telemetry, sp.logger)

	// Events always go to stream clients, and to Kafka when it is enabled
	sp.hub = stream.NewHub(sp.logger)
	publishers := events.MultiPublisher{sp.hub}
	if sp.config.Kafka.Enabled {
		sp.kafkaManager, err = kafka.NewManager(&sp.config.Kafka, sp.logger)
		if err != nil {
			return fmt.Errorf("failed to create Kafka manager: %w", err)
		}
		publishers = append(publishers, sp.kafkaManager)
		sp.logger.Info("Kafka publishing enabled", zap.String("brokers", sp.config.Kafka.Brokers))
	}
	sp.publisher = publishers

	var diag ingest.Classifier = classifier.Disabled{}
	if sp.config.Classifier.Enabled {
		diag = classifier.NewClient(&sp.config.Classifier, sp.logger)
		sp.logger.Info("Diagnosis classifier enabled", zap.String("url", sp.config.Classifier.URL))
	}

	sp.ingestor = ingest.NewIngestor(
		sp.repos.Sample(),
		sp.telemetry,
		diag,
		defaults,
		sp.logger,
		ingest.WithPublisher(sp.publisher),
		ingest.WithMetrics(sp.metrics),
	)

	sp.syncService, err = NewSyncService(sp.repos, sp.telemetry, sp.ingestor, &sp.config.Sync, sp.logger)
	if err != nil {
		return fmt.Errorf("failed to create sync service: %w", err)
	}
	sp.offlineService = NewOfflineService(sp.repos, defaults, sp.publisher, sp.metrics, sp.logger)
	sp.alarmResetService = NewAlarmResetService(sp.repos, defaults, sp.publisher, sp.logger)
	sp.registryService = NewRegistryService(sp.repos, sp.telemetry, sp.logger)

	sp.scheduler = scheduler.New(sp.logger, sp.metrics)
	for _, job := range sp.jobs() {
		if err := sp.scheduler.Register(job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}

	sp.logger.Info("All services initialized successfully", zap.Strings("jobs", sp.scheduler.Jobs()))
	return nil
}

// jobs lists the scheduled jobs. The registry job is left out when disabled.
func (sp *ServiceProvider) jobs() []scheduler.Job {
	jobs := []scheduler.Job{
		{Name: JobSampleSync, Interval: sp.config.Sync.Interval, Run: sp.syncService.RunSync},
		{Name: JobOfflineSweep, Interval: sp.config.Offline.Interval, Run: sp.offlineService.RunSweep},
		{Name: JobAlarmReset, Interval: sp.config.AlarmReset.Interval, Run: sp.alarmResetService.RunReset},
	}
	if sp.config.Registry.Enabled {
		jobs = append(jobs, scheduler.Job{
			Name:     JobRegistrySync,
			Interval: sp.config.Registry.Interval,
			Run:      sp.registryService.RunRegistrySync,
		})
	}
	return jobs
}

// Start subscribes to job requests when Kafka is enabled and starts the
// scheduler
func (sp *ServiceProvider) Start(ctx context.Context) error {
	if sp.scheduler == nil {
		return fmt.Errorf("service provider is not initialized")
	}

	if sp.kafkaManager != nil {
		if err := sp.kafkaManager.RegisterJobRequestHandler("pdmon", sp.handleJobRequest); err != nil {
			return fmt.Errorf("failed to register job request handler: %w", err)
		}
		if err := sp.kafkaManager.Start(); err != nil {
			return fmt.Errorf("failed to start Kafka manager: %w", err)
		}
		sp.logger.Info("Kafka manager started")
	}

	if err := sp.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// handleJobRequest triggers a requested job. A request for a job that is
// already running is dropped; an unknown job goes to the DLQ.
func (sp *ServiceProvider) handleJobRequest(request *events.JobRequest) error {
	log := sp.logger.With(zap.String("job", request.Job), zap.String("requested_by", request.RequestedBy))

	err := sp.scheduler.Trigger(request.Job)
	switch {
	case err == nil:
		log.Info("Job triggered by request")
		return nil
	case errors.Is(err, scheduler.ErrJobRunning):
		log.Info("Ignoring job request, job is already running")
		return nil
	default:
		return err
	}
}

// RunJob runs a job synchronously, outside of the schedule
func (sp *ServiceProvider) RunJob(ctx context.Context, name string) (*scheduler.Result, error) {
	return sp.scheduler.RunNow(ctx, name)
}

// Shutdown performs a graceful shutdown of all services
func (sp *ServiceProvider) Shutdown() error {
	sp.logger.Info("Shutting down services")

	if sp.scheduler != nil {
		sp.scheduler.Stop()
	}

	if sp.hub != nil {
		sp.hub.Close()
	}

	if sp.kafkaManager != nil {
		sp.logger.Info("Stopping Kafka manager")
		if err := sp.kafkaManager.Stop(); err != nil {
			sp.logger.Error("Failed to stop Kafka manager", zap.Error(err))
		}
	}

	sp.logger.Info("Services shut down successfully")
	return nil
}

// GetMetrics returns the worker metrics
func (sp *ServiceProvider) GetMetrics() *metrics.Metrics {
	return sp.metrics
}

// GetScheduler returns the job scheduler
func (sp *ServiceProvider) GetScheduler() *scheduler.Scheduler {
	return sp.scheduler
}

// GetRepositories returns the repository factory
func (sp *ServiceProvider) GetRepositories() *repository.RepositoryFactory {
	return sp.repos
}

// GetStreamHub returns the live event stream hub
func (sp *ServiceProvider) GetStreamHub() *stream.Hub {
	return sp.hub
}

// GetKafkaManager returns the Kafka manager, nil when Kafka is disabled
func (sp *ServiceProvider) GetKafkaManager() *kafka.Manager {
	return sp.kafkaManager
}

// GetSyncService returns the sync service
func (sp *ServiceProvider) GetSyncService() *SyncService {
	return sp.syncService
}
