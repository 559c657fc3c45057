package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

const pollTimeout = 100 * time.Millisecond

// MessageHandler processes one consumed message. An error sends the message
// to the dead letter topic.
type MessageHandler func(msg *kafka.Message) error

// Consumer reads subscribed topics in a single goroutine and dispatches each
// message to the handlers of its topic
type Consumer struct {
	consumer    *kafka.Consumer
	logger      *utils.Logger
	handlers    map[string][]MessageHandler
	dlqProducer *Producer

	running   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConsumer creates a consumer in the configured group
func NewConsumer(cfg *config.KafkaConfig, logger *utils.Logger, dlqProducer *Producer) (*Consumer, error) {
	configMap, err := newConfigMap(cfg, kafka.ConfigMap{
		"group.id":                cfg.ConsumerGroup,
		"auto.offset.reset":       "earliest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:    consumer,
		logger:      logger.Named("kafka_consumer"),
		handlers:    make(map[string][]MessageHandler),
		dlqProducer: dlqProducer,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// RegisterHandler adds a handler for a topic. Handlers must be registered
// before Start.
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	c.handlers[topic] = append(c.handlers[topic], handler)
	c.logger.Info("Registered handler for topic", zap.String("topic", topic))
}

// Topics returns the topics with at least one handler, sorted
func (c *Consumer) Topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Start subscribes and starts the poll loop. The loop ends when ctx is
// cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	topics := c.Topics()
	if len(topics) == 0 {
		return fmt.Errorf("no topics registered")
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer is already running")
	}

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		c.running.Store(false)
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}
	c.logger.Info("Subscribed to topics", zap.Strings("topics", topics))

	go c.consumeLoop(ctx)
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		msg, err := c.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch runs every handler of the message topic. Each failing handler
// produces its own dead letter.
func (c *Consumer) dispatch(msg *kafka.Message) {
	if msg == nil || msg.TopicPartition.Topic == nil {
		return
	}

	topic := *msg.TopicPartition.Topic
	log := c.logger.With(
		zap.String("topic", topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
	)

	handlers := c.handlers[topic]
	if len(handlers) == 0 {
		log.Warn("No handlers registered for topic")
		return
	}

	for i, handler := range handlers {
		err := handler(msg)
		if err == nil {
			continue
		}

		log.Error("Handler failed to process message", zap.Int("handler_index", i), zap.Error(err))
		c.deadLetter(topic, msg, err)
	}
}

func (c *Consumer) deadLetter(topic string, msg *kafka.Message, cause error) {
	if c.dlqProducer == nil {
		return
	}

	dlq := dlqTopic(topic)
	err := c.dlqProducer.Produce(dlq, &Message{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Timestamp: time.Now().UTC(),
		Headers: map[string]string{
			"error":          cause.Error(),
			"original_topic": topic,
		},
	})
	if err != nil {
		c.logger.Error("Failed to send message to DLQ", zap.String("dlq_topic", dlq), zap.Error(err))
	}
}

// Stop ends the poll loop and waits for it
func (c *Consumer) Stop() {
	if c.running.CompareAndSwap(true, false) {
		close(c.stop)
		<-c.done
	}
}

// Close stops the loop and leaves the consumer group
func (c *Consumer) Close() error {
	c.Stop()

	var err error
	c.closeOnce.Do(func() {
		err = c.consumer.Close()
		c.logger.Info("Kafka consumer closed")
	})
	return err
}
