// Package ingest persists one acquisition sample at a time: it deduplicates,
// decodes, diagnoses, escalates and stores the sample together with the
// owning point's snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridsense/pdmon/internal/alarm"
	"github.com/gridsense/pdmon/internal/classifier"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/decoder"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/metrics"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// Outcome describes what happened to one timestamp
type Outcome string

const (
	OutcomeInserted  Outcome = metrics.OutcomeInserted
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeSkipped   Outcome = metrics.OutcomeSkipped
	OutcomeFailed    Outcome = metrics.OutcomeFailed
)

// PayloadSource fetches raw sample frames
type PayloadSource interface {
	GetSamplePayload(ctx context.Context, externalID string, ts time.Time) ([]byte, error)
}

// Classifier re-scores a raw frame. Failures are tolerated.
type Classifier interface {
	Classify(ctx context.Context, payload []byte) (*classifier.Result, error)
}

// Result reports what happened to one timestamp
type Result struct {
	Outcome    Outcome
	AlarmLevel int
}

// Ingestor runs the per-sample pipeline
type Ingestor struct {
	samples    repository.SampleRepository
	source     PayloadSource
	classifier Classifier
	engine     *alarm.Engine
	defaults   models.Thresholds
	locker     *KeyedLocker
	publisher  events.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *utils.Logger
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithPublisher sets the alarm event publisher
func WithPublisher(p events.Publisher) Option {
	return func(i *Ingestor) { i.publisher = p }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock overrides the clock closing the alarm window
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// WithLocker shares a lock table between ingestors
func WithLocker(l *KeyedLocker) Option {
	return func(i *Ingestor) { i.locker = l }
}

// NewIngestor creates an ingestor. defaults fill the thresholds a point does
// not configure.
func NewIngestor(samples repository.SampleRepository, source PayloadSource, diag Classifier, defaults models.Thresholds, logger *utils.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		samples:    samples,
		source:     source,
		classifier: diag,
		engine:     alarm.NewEngine(samples),
		defaults:   defaults,
		locker:     NewKeyedLocker(),
		publisher:  events.NopPublisher{},
		now:        time.Now,
		logger:     logger.Named("ingestor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.classifier == nil {
		i.classifier = classifier.Disabled{}
	}
	return i
}

// Ingest processes the sample of point acquired at ts. It is idempotent: a
// sample that is already stored, or is stored concurrently, yields
// OutcomeDuplicate. Decode and source failures yield OutcomeSkipped. Store
// failures yield OutcomeFailed with an error wrapping utils.ErrTransientStore.
func (i *Ingestor) Ingest(ctx context.Context, point *models.MonitoredPoint, ts time.Time) (Result, error) {
	result, err := i.ingest(ctx, point, ts.UTC().Truncate(time.Second))
	i.metrics.RecordSample(string(result.Outcome))
	return result, err
}

// ResolveThresholds returns the thresholds in effect for point and the
// fields that fell back to defaults
func (i *Ingestor) ResolveThresholds(point *models.MonitoredPoint) (models.Thresholds, []string) {
	return point.ResolveThresholds(i.defaults)
}

func (i *Ingestor) ingest(ctx context.Context, point *models.MonitoredPoint, ts time.Time) (Result, error) {
	code := point.KKSCode
	log := i.logger.With(zap.String("point_code", code), zap.Time("timestamp", ts))

	release := i.locker.Acquire(code, ts)
	i.metrics.SetLockEntries(i.locker.Len())
	defer func() {
		release()
		i.metrics.SetLockEntries(i.locker.Len())
	}()

	exists, err := i.samples.Exists(ctx, code, ts)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, storeError(err)
	}
	if exists {
		log.Debug("Sample already stored")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	payload, err := i.source.GetSamplePayload(ctx, point.ExternalID, ts)
	if err != nil {
		return Result{Outcome: OutcomeSkipped}, fmt.Errorf("fetch payload: %w", err)
	}

	reading, err := decoder.Decode(payload)
	if err != nil {
		return Result{Outcome: OutcomeSkipped}, err
	}

	diagnosis := i.classify(ctx, payload, log)

	thresholds, _ := i.ResolveThresholds(point)

	input := alarm.Input{
		AcquiredAt:        ts,
		Magnitude:         reading.Magnitude,
		Status:            reading.Status,
		SiteDischargeType: reading.DischargeType.String(),
		DiagnosisLabel:    diagnosis.Label,
	}

	decision, err := i.engine.Evaluate(ctx, code, thresholds, input, i.now().UTC())
	if err != nil {
		return Result{Outcome: OutcomeFailed}, storeError(err)
	}

	sample := &models.AcquisitionSample{
		PointCode:      code,
		AcquiredAt:     ts,
		Frequency:      reading.Frequency,
		PulseCount:     reading.PulseCount,
		Magnitude:      reading.Magnitude,
		StatusCode:     reading.Status,
		DischargeType:  reading.DischargeType.String(),
		DiagnosisType:  diagnosis.Label,
		DiagnosisRaw:   diagnosis.Raw,
		Payload:        payload,
		DischargeEvent: decision.DischargeEvent,
		AlarmLevel:     decision.Level,
	}

	if _, err := i.samples.InsertWithSnapshot(ctx, sample, decision.Snapshot()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Debug("Sample stored concurrently")
			return Result{Outcome: OutcomeDuplicate}, nil
		}
		return Result{Outcome: OutcomeFailed}, storeError(err)
	}

	if decision.Alarmed() {
		i.metrics.RecordAlarm(decision.Level)
		i.publishAlarm(point, decision, log)
	}

	log.Debug("Sample stored",
		zap.Int("alarm_level", decision.Level),
		zap.Strings("rules", decision.Fired),
	)

	return Result{Outcome: OutcomeInserted, AlarmLevel: decision.Level}, nil
}

func (i *Ingestor) classify(ctx context.Context, payload []byte, log *utils.Logger) *classifier.Result {
	result, err := i.classifier.Classify(ctx, payload)
	if err != nil {
		i.metrics.RecordClassifierFailure()
		log.Warn("Diagnosis unavailable, using site diagnosis", zap.Error(err))
		return &classifier.Result{}
	}
	if result == nil {
		return &classifier.Result{}
	}
	return result
}

func (i *Ingestor) publishAlarm(point *models.MonitoredPoint, d *alarm.Decision, log *utils.Logger) {
	event := &events.AlarmEvent{
		ID:            events.NewID(),
		PointCode:     point.KKSCode,
		EquipmentID:   point.EquipmentID,
		AcquiredAt:    d.Input.AcquiredAt,
		Level:         d.Level,
		Magnitude:     d.Input.Magnitude.String(),
		DischargeType: d.DischargeType(),
		Rules:         d.Fired,
		Ratio:         d.Ratio.StringFixed(2),
		PublishedAt:   time.Now().UTC(),
	}

	if err := i.publisher.PublishAlarm(event); err != nil {
		log.Warn("Failed to publish alarm event", zap.Error(err))
	}
}

// storeError marks database failures as transient so the caller abandons the
// rest of the point until the next run
func storeError(err error) error {
	if errors.Is(err, repository.ErrDatabase) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", utils.ErrTransientStore, err)
	}
	return err
}
