package kafka

import (
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gridsense/pdmon/internal/config"
)

// dlqSuffix is appended to a topic name to get its dead letter topic
const dlqSuffix = ".dlq"

// newConfigMap builds a librdkafka config from the broker settings plus the
// client specific keys
func newConfigMap(cfg *config.KafkaConfig, keys kafka.ConfigMap) (*kafka.ConfigMap, error) {
	configMap := kafka.ConfigMap{"bootstrap.servers": cfg.Brokers}
	for k, v := range keys {
		configMap[k] = v
	}

	if cfg.SecurityEnable {
		security := kafka.ConfigMap{
			"security.protocol": "SASL_SSL",
			"sasl.mechanisms":   "PLAIN",
			"sasl.username":     cfg.SecurityUser,
			"sasl.password":     cfg.SecurityPass,
		}
		for k, v := range security {
			if err := configMap.SetKey(k, v); err != nil {
				return nil, fmt.Errorf("failed to set %s: %w", k, err)
			}
		}
	}

	return &configMap, nil
}

// dlqTopic returns the dead letter topic of a topic
func dlqTopic(topic string) string {
	return topic + dlqSuffix
}
