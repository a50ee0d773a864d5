package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// Kafka publishes closed trades keyed by position id.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, topic), nil
}

func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

func (k *Kafka) Append(_ context.Context, rec lifecycle.ClosedTradeRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", rec.PositionID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(rec.PositionID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("tier"), Value: []byte(rec.Tier)},
			{Key: []byte("status"), Value: []byte(rec.Status)},
		},
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		observ.IncCounter("ledger_kafka_errors_total", nil)
		return fmt.Errorf("publish trade %s: %w", rec.PositionID, err)
	}
	observ.Log("ledger_published", map[string]any{"position_id": rec.PositionID, "partition": partition, "offset": offset})
	return nil
}

func (k *Kafka) Close() error { return k.producer.Close() }
