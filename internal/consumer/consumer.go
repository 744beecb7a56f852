package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/config"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

const (
	// statsLogInterval loga estatísticas a cada N eventos processados.
	statsLogInterval = 100

	// maxSessionBackoff limita o backoff entre sessões com erro.
	maxSessionBackoff = 30 * time.Second
)

// StreamConsumer lê o tópico de eventos de produto em um consumer group
// com commit manual: o offset de um registro só é confirmado depois que
// ele foi aplicado ou parqueado na DLQ.
//
// Each claimed partition is processed by exactly one goroutine, so
// per-product ordering holds without locks in the processor.
type StreamConsumer struct {
	cfg       config.KafkaConfig
	group     sarama.ConsumerGroup
	processor *EventProcessor
	dlq       types.DLQPublisher
	logger    *logrus.Logger
	counters  metrics.Counters

	eventsProcessed  atomic.Int64
	eventsSkipped    atomic.Int64
	eventsFailed     atomic.Int64
	eventsParseError atomic.Int64
	dlqPublished     atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mutex     sync.Mutex
	isRunning bool
}

// NewStreamConsumer cria o consumidor sobre o processador e a DLQ
// fornecidos.
func NewStreamConsumer(cfg config.KafkaConfig, processor *EventProcessor, dlq types.DLQPublisher, logger *logrus.Logger, counters metrics.Counters) (*StreamConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false
	saramaConfig.Consumer.Return.Errors = true
	applySASL(saramaConfig, cfg.Auth)

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	if counters == nil {
		counters = metrics.NopCounters{}
	}

	return &StreamConsumer{
		cfg:       cfg,
		group:     group,
		processor: processor,
		dlq:       dlq,
		logger:    logger,
		counters:  counters,
	}, nil
}

// Start inicia o loop de consumo em background.
func (c *StreamConsumer) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		return fmt.Errorf("stream consumer already running")
	}
	c.isRunning = true

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.WithFields(logrus.Fields{
		"topic":    c.cfg.Topic,
		"group_id": c.cfg.GroupID,
		"brokers":  c.cfg.Brokers,
	}).Info("Starting stream consumer")

	c.wg.Add(1)
	go c.runLoop()

	c.wg.Add(1)
	go c.errorLoop()

	return nil
}

// Stop cancels the session and waits for the in-flight record to
// finish. Uncommitted offsets are redelivered to the next session;
// idempotent application absorbs the duplicates.
func (c *StreamConsumer) Stop() error {
	c.mutex.Lock()
	if !c.isRunning {
		c.mutex.Unlock()
		return nil
	}
	c.isRunning = false
	c.mutex.Unlock()

	c.logger.Info("Stopping stream consumer")

	c.cancel()
	c.wg.Wait()

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}

	c.logger.Info("Stream consumer stopped")
	return nil
}

// GetStats devolve um snapshot dos contadores do consumidor.
func (c *StreamConsumer) GetStats() types.ConsumerStats {
	return types.ConsumerStats{
		EventsProcessed:  c.eventsProcessed.Load(),
		EventsSkipped:    c.eventsSkipped.Load(),
		EventsFailed:     c.eventsFailed.Load(),
		EventsParseError: c.eventsParseError.Load(),
		DLQPublished:     c.dlqPublished.Load(),
	}
}

// runLoop re-enters Consume across rebalances, backing off after
// session errors so a down broker does not spin the loop.
func (c *StreamConsumer) runLoop() {
	defer c.wg.Done()

	backoff := time.Second

	for {
		if c.ctx.Err() != nil {
			return
		}

		err := c.group.Consume(c.ctx, []string{c.cfg.Topic}, c)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.counters.Inc("consumer_session_errors")
			c.logger.WithError(err).WithField("backoff", backoff).
				Error("Consumer session failed, retrying")

			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}

			backoff *= 2
			if backoff > maxSessionBackoff {
				backoff = maxSessionBackoff
			}
			continue
		}

		// Clean return means rebalance; rejoin immediately.
		backoff = time.Second
	}
}

// errorLoop drena o canal de erros assíncronos do grupo.
func (c *StreamConsumer) errorLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.WithError(err).Warn("Consumer group error")
		}
	}
}

// Setup implementa sarama.ConsumerGroupHandler.
func (c *StreamConsumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.WithField("claims", session.Claims()).Info("Consumer session started")
	return nil
}

// Cleanup implementa sarama.ConsumerGroupHandler.
func (c *StreamConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer session ended")
	return nil
}

// ConsumeClaim processes one partition sequentially. Every record ends
// in exactly one of: applied, skipped as stale, or published to the
// DLQ. In all three cases its offset is committed.
func (c *StreamConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.handleMessage(session, message)
		}
	}
}

// handleMessage runs the per-record pipeline. Processing failures and
// parse failures both end in the DLQ; only a failed DLQ publish leaves
// the offset uncommitted, forcing redelivery.
func (c *StreamConsumer) handleMessage(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	event, err := ParseProductEvent(message.Value)
	if err != nil {
		c.eventsParseError.Add(1)
		c.counters.Inc("consumer_events_parse_error")
		c.sendToDLQ(session, message, fmt.Sprintf("parse error: %v", err))
		return
	}

	start := time.Now()
	applied, err := c.processor.Apply(session.Context(), event)
	if err != nil {
		c.eventsFailed.Add(1)
		c.counters.Inc("consumer_events_failed")
		c.logger.WithError(err).WithFields(logrus.Fields{
			"product_id": event.ProductID,
			"event_id":   event.EventID,
			"partition":  message.Partition,
			"offset":     message.Offset,
		}).Error("Failed to process event")
		c.sendToDLQ(session, message, fmt.Sprintf("processing failed after retries: %v", err))
		return
	}

	if !applied {
		c.eventsSkipped.Add(1)
	}

	c.logger.WithFields(logrus.Fields{
		"product_id": event.ProductID,
		"event_type": event.EventType,
		"partition":  message.Partition,
		"offset":     message.Offset,
		"applied":    applied,
		"elapsed":    time.Since(start),
	}).Debug("Event processed")

	c.commit(session, message)

	if total := c.eventsProcessed.Add(1); total%statsLogInterval == 0 {
		c.logger.WithFields(logrus.Fields{
			"processed":    total,
			"skipped":      c.eventsSkipped.Load(),
			"failed":       c.eventsFailed.Load(),
			"parse_errors": c.eventsParseError.Load(),
			"dlq":          c.dlqPublished.Load(),
		}).Info("Consumer progress")
	}
}

// sendToDLQ parks the record and commits its offset. A failed publish
// leaves the offset alone so the record comes back on redelivery rather
// than disappearing.
func (c *StreamConsumer) sendToDLQ(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage, reason string) {
	if err := c.dlq.Publish(session.Context(), message.Value, reason); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"partition": message.Partition,
			"offset":    message.Offset,
		}).Error("DLQ publish failed, offset not committed")
		return
	}

	c.dlqPublished.Add(1)
	c.commit(session, message)
}

func (c *StreamConsumer) commit(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	session.MarkMessage(message, "")
	session.Commit()
}
