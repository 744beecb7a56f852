package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/config"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
)

// dlqRecord é o envelope publicado no tópico de DLQ. The original event
// travels as an opaque string so even unparseable payloads survive
// intact for later inspection.
type dlqRecord struct {
	OriginalEvent string `json:"original_event"`
	ErrorReason   string `json:"error_reason"`
	Timestamp     int64  `json:"timestamp"`
}

// DLQProducer publica mensagens envenenadas de forma síncrona. A DLQ
// publish is confirmed before the source offset commits, so a poison
// message is never both unprocessed and unrecorded.
type DLQProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger
	counters metrics.Counters

	ownsProducer bool
}

// NewDLQProducer connects a synchronous producer to the configured
// brokers. Producer acks are required; a fire-and-forget DLQ would
// silently lose the very messages it exists to keep.
func NewDLQProducer(cfg config.KafkaConfig, logger *logrus.Logger, counters metrics.Counters) (*DLQProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	applySASL(saramaConfig, cfg.Auth)

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	p := NewDLQProducerWith(producer, cfg.DLQTopic, logger, counters)
	p.ownsProducer = true
	return p, nil
}

// NewDLQProducerWith wraps an existing producer. Used by tests and by
// callers that share one producer across components.
func NewDLQProducerWith(producer sarama.SyncProducer, topic string, logger *logrus.Logger, counters metrics.Counters) *DLQProducer {
	if counters == nil {
		counters = metrics.NopCounters{}
	}
	return &DLQProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
		counters: counters,
	}
}

// Publish envia o evento original com o motivo da falha para a DLQ.
func (p *DLQProducer) Publish(ctx context.Context, originalEvent []byte, errorReason string) error {
	record := dlqRecord{
		OriginalEvent: string(originalEvent),
		ErrorReason:   errorReason,
		Timestamp:     time.Now().Unix(),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ record: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.counters.Inc("consumer_dlq_publish_failed")
		return fmt.Errorf("failed to publish to DLQ topic %s: %w", p.topic, err)
	}

	p.counters.Inc("consumer_dlq_published")
	p.logger.WithFields(logrus.Fields{
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
		"reason":    errorReason,
	}).Warn("Event published to DLQ")

	return nil
}

// Close releases the producer when this wrapper created it.
func (p *DLQProducer) Close() error {
	if !p.ownsProducer {
		return nil
	}
	return p.producer.Close()
}
