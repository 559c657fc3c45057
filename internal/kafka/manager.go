// Package kafka publishes worker events and consumes job requests.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// Manager owns the event producer, the DLQ producer and the consumers
type Manager struct {
	config       *config.KafkaConfig
	logger       *utils.Logger
	mainProducer *Producer
	dlqProducer  *Producer

	mu        sync.Mutex
	consumers map[string]*Consumer
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	closed    bool

	processed atomic.Int64
	failed    atomic.Int64
}

var _ events.Publisher = (*Manager)(nil)

// NewManager creates a manager with its two producers. Consumers are added
// with AddConsumer and run after Start.
func NewManager(cfg *config.KafkaConfig, logger *utils.Logger) (*Manager, error) {
	kafkaLogger := logger.Named("kafka_manager")

	mainProducer, err := NewProducer(cfg, kafkaLogger, "pdmon-producer")
	if err != nil {
		return nil, fmt.Errorf("failed to create main producer: %w", err)
	}

	dlqProducer, err := NewProducer(cfg, kafkaLogger, "pdmon-dlq")
	if err != nil {
		mainProducer.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:       cfg,
		logger:       kafkaLogger,
		mainProducer: mainProducer,
		dlqProducer:  dlqProducer,
		consumers:    make(map[string]*Consumer),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start starts every registered consumer
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("kafka manager is stopped")
	}
	if m.isRunning {
		return fmt.Errorf("kafka manager is already running")
	}

	for name, consumer := range m.consumers {
		if err := consumer.Start(m.ctx); err != nil {
			m.stopConsumers()
			return fmt.Errorf("failed to start consumer %s: %w", name, err)
		}
		m.logger.Info("Started consumer", zap.String("name", name), zap.Strings("topics", consumer.Topics()))
	}

	m.isRunning = true
	return nil
}

// AddConsumer creates a named consumer for the given topic handlers
func (m *Manager) AddConsumer(name string, handlers map[string][]MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("cannot add consumer while manager is running")
	}
	if _, exists := m.consumers[name]; exists {
		return fmt.Errorf("consumer with name %s already exists", name)
	}

	consumer, err := NewConsumer(m.config, m.logger, m.dlqProducer)
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", name, err)
	}

	for topic, topicHandlers := range handlers {
		for _, handler := range topicHandlers {
			consumer.RegisterHandler(topic, m.countHandler(handler))
		}
	}

	m.consumers[name] = consumer
	return nil
}

func (m *Manager) countHandler(handler MessageHandler) MessageHandler {
	return func(msg *kafka.Message) error {
		err := handler(msg)
		m.processed.Add(1)
		if err != nil {
			m.failed.Add(1)
		}
		return err
	}
}

// Stats returns how many consumed messages were handled and how many of them
// went to a DLQ
func (m *Manager) Stats() (processed, failed int64) {
	return m.processed.Load(), m.failed.Load()
}

// ProduceMessage queues a message on the main producer
func (m *Manager) ProduceMessage(topic string, key string, value interface{}, headers map[string]string) error {
	return m.mainProducer.Produce(topic, &Message{
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UTC(),
		Headers:   headers,
	})
}

// PublishAlarm publishes an alarm event keyed by point code
func (m *Manager) PublishAlarm(event *events.AlarmEvent) error {
	return m.ProduceMessage(m.config.AlarmTopic, event.PointCode, event, map[string]string{
		"event_type": "alarm",
		"level":      strconv.Itoa(event.Level),
	})
}

// PublishPointState publishes a point state transition keyed by point code
func (m *Manager) PublishPointState(event *events.PointStateEvent) error {
	return m.ProduceMessage(m.config.PointStateTopic, event.PointCode, event, map[string]string{
		"event_type": "point_state",
		"transition": event.Transition,
	})
}

// RequestJob publishes a job request and waits for its delivery
func (m *Manager) RequestJob(job, requestedBy string) error {
	request := &events.JobRequest{
		Job:         job,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}

	return m.mainProducer.ProduceSync(m.config.JobRequestsTopic, &Message{
		Key:       job,
		Value:     request,
		Timestamp: request.RequestedAt,
	})
}

const jobRequestSchema = `{
	"type": "object",
	"required": ["job"],
	"properties": {
		"job": {"type": "string", "minLength": 1},
		"requested_by": {"type": "string"},
		"requested_at": {"type": "string", "format": "date-time"}
	}
}`

var messageSchemas = utils.NewJSONSchemaValidator().MustLoadSchema("job_request", jobRequestSchema)

// DecodeJobRequest validates and parses a job request message
func DecodeJobRequest(value []byte) (*events.JobRequest, error) {
	if err := messageSchemas.Validate("job_request", value); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}

	var request events.JobRequest
	if err := json.Unmarshal(value, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job request: %w", err)
	}
	return &request, nil
}

// RegisterJobRequestHandler adds a consumer for job requests. A handler error
// sends the request to the DLQ.
func (m *Manager) RegisterJobRequestHandler(name string, handler func(request *events.JobRequest) error) error {
	topic := m.config.JobRequestsTopic
	return m.AddConsumer(name+"-job-requests", map[string][]MessageHandler{
		topic: {func(msg *kafka.Message) error {
			request, err := DecodeJobRequest(msg.Value)
			if err != nil {
				return err
			}
			return handler(request)
		}},
	})
}

func (m *Manager) stopConsumers() {
	for name, consumer := range m.consumers {
		if err := consumer.Close(); err != nil {
			m.logger.Warn("Failed to close consumer", zap.String("name", name), zap.Error(err))
		}
	}
}

// Stop closes the consumers, then flushes and closes the producers. A manager
// that was only used for publishing is stopped the same way.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("kafka manager is already stopped")
	}

	m.cancel()
	m.stopConsumers()
	m.mainProducer.Close()
	m.dlqProducer.Close()

	processed, failed := m.processed.Load(), m.failed.Load()
	m.isRunning = false
	m.closed = true
	m.logger.Info("Kafka manager stopped", zap.Int64("processed_messages", processed), zap.Int64("failed_messages", failed))
	return nil
}

// IsRunning returns whether the consumers are running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}
