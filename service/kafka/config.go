package kafka

import "github.com/Shopify/sarama"

// In-code config (no YAML).
type AppConfig struct {
	Brokers             []string
	EventTopic          string // sequenced message events for downstream consumers
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
}

var Cfg = AppConfig{
	Brokers:             []string{"127.0.0.1:9092"},
	EventTopic:          "chat.message.sequenced",
	ProducerRetries:     5,
	ProducerCompression: "snappy",
	KafkaVersion:        sarama.V2_1_0_0,
}
