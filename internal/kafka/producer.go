package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

const flushTimeoutMs = 5000

// Producer writes JSON messages to Kafka topics
type Producer struct {
	producer *kafka.Producer
	logger   *utils.Logger
	done     chan struct{}
}

// NewProducer creates a producer identified by clientID. Delivery reports of
// asynchronous sends are logged.
func NewProducer(cfg *config.KafkaConfig, logger *utils.Logger, clientID string) (*Producer, error) {
	configMap, err := newConfigMap(cfg, kafka.ConfigMap{
		"client.id": clientID,
		"acks":      "all",
	})
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		logger:   logger.Named(clientID),
		done:     make(chan struct{}),
	}
	go p.deliveryReports()

	return p, nil
}

func (p *Producer) deliveryReports() {
	defer close(p.done)

	for e := range p.producer.Events() {
		msg, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		topic := ""
		if msg.TopicPartition.Topic != nil {
			topic = *msg.TopicPartition.Topic
		}

		if msg.TopicPartition.Error != nil {
			p.logger.Error("Failed to deliver message",
				zap.String("topic", topic),
				zap.ByteString("key", msg.Key),
				zap.Error(msg.TopicPartition.Error),
			)
			continue
		}
		p.logger.Debug("Message delivered",
			zap.String("topic", topic),
			zap.Int32("partition", msg.TopicPartition.Partition),
			zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		)
	}
}

// Message is an outgoing message. Value is JSON encoded unless it is already
// a byte slice.
type Message struct {
	Key       string
	Value     interface{}
	Timestamp time.Time
	Headers   map[string]string
}

func newKafkaMessage(topic string, message *Message) (*kafka.Message, error) {
	var value []byte
	switch v := message.Value.(type) {
	case []byte:
		value = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message value: %w", err)
		}
		value = encoded
	}

	kafkaMessage := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
		Timestamp:      message.Timestamp,
	}
	if message.Key != "" {
		kafkaMessage.Key = []byte(message.Key)
	}
	for k, v := range message.Headers {
		kafkaMessage.Headers = append(kafkaMessage.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafkaMessage, nil
}

// Produce queues a message. Delivery failures show up in the log only.
func (p *Producer) Produce(topic string, message *Message) error {
	kafkaMessage, err := newKafkaMessage(topic, message)
	if err != nil {
		return err
	}

	if err := p.producer.Produce(kafkaMessage, nil); err != nil {
		return fmt.Errorf("failed to produce message to %s: %w", topic, err)
	}
	return nil
}

// ProduceSync sends a message and waits for its delivery report
func (p *Producer) ProduceSync(topic string, message *Message) error {
	kafkaMessage, err := newKafkaMessage(topic, message)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := p.producer.Produce(kafkaMessage, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message to %s: %w", topic, err)
	}

	m, ok := (<-deliveryChan).(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event for %s", topic)
	}
	if m.TopicPartition.Error != nil {
		return fmt.Errorf("failed to deliver message to %s: %w", topic, m.TopicPartition.Error)
	}
	return nil
}

// Close flushes queued messages and closes the producer
func (p *Producer) Close() {
	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		p.logger.Warn("Messages left undelivered at close", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	<-p.done
}
