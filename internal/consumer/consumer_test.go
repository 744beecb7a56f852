package consumer

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arnold-1324/AtlasSearch/internal/config"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
)

// stubSession implements sarama.ConsumerGroupSession, recording marks
// and commits.
type stubSession struct {
	ctx     context.Context
	mutex   sync.Mutex
	marked  []*sarama.ConsumerMessage
	commits int
}

func newStubSession() *stubSession {
	return &stubSession{ctx: context.Background()}
}

func (s *stubSession) Claims() map[string][]int32 { return nil }
func (s *stubSession) MemberID() string           { return "test-member" }
func (s *stubSession) GenerationID() int32        { return 1 }

func (s *stubSession) MarkOffset(topic string, partition int32, offset int64, metadata string)  {}
func (s *stubSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.marked = append(s.marked, msg)
}

func (s *stubSession) Commit() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.commits++
}

func (s *stubSession) Context() context.Context { return s.ctx }

func (s *stubSession) committed() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.commits
}

func (s *stubSession) markedCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.marked)
}

// stubClaim implements sarama.ConsumerGroupClaim over a channel.
type stubClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "product-events" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// stubDLQ records publishes and can be forced to fail.
type stubDLQ struct {
	mutex      sync.Mutex
	events     [][]byte
	reasons    []string
	publishErr error
}

func (d *stubDLQ) Publish(ctx context.Context, originalEvent []byte, errorReason string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.publishErr != nil {
		return d.publishErr
	}
	d.events = append(d.events, originalEvent)
	d.reasons = append(d.reasons, errorReason)
	return nil
}

func newDispatchConsumer(index *MockIndexStore, cache *MockCacheStore, dlq *stubDLQ) *StreamConsumer {
	logger := testLogger()
	return &StreamConsumer{
		cfg:       config.KafkaConfig{Topic: "product-events"},
		processor: NewEventProcessor(index, cache, logger, nil),
		dlq:       dlq,
		logger:    logger,
		counters:  metrics.NopCounters{},
	}
}

func record(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "product-events",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(value),
	}
}

func TestHandleMessagePoisonGoesToDLQAndCommits(t *testing.T) {
	index := new(MockIndexStore)
	cache := new(MockCacheStore)
	dlq := &stubDLQ{}
	consumer := newDispatchConsumer(index, cache, dlq)

	session := newStubSession()
	consumer.handleMessage(session, record(7, `{not valid json`))

	// Poison record travels to the DLQ unchanged, with a parse reason,
	// and its offset is committed.
	require.Len(t, dlq.events, 1)
	assert.Equal(t, `{not valid json`, string(dlq.events[0]))
	assert.True(t, strings.HasPrefix(dlq.reasons[0], "parse"))
	assert.Equal(t, 1, session.markedCount())
	assert.Equal(t, 1, session.committed())
	assert.Equal(t, int64(1), consumer.GetStats().EventsParseError)

	index.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessageProcessingFailureGoesToDLQ(t *testing.T) {
	index := new(MockIndexStore)
	cache := new(MockCacheStore)
	dlq := &stubDLQ{}
	consumer := newDispatchConsumer(index, cache, dlq)

	index.On("Get", mock.Anything, "products", "p1").Return(map[string]interface{}{}, nil)
	index.On("Upsert", mock.Anything, "products", "p1", mock.Anything, 3).Return(false)

	session := newStubSession()
	consumer.handleMessage(session, record(8,
		`{"product_id":"p1","event_type":"update","version":1,"updated_at":"2026-01-01T00:00:00Z","data":{}}`))

	require.Len(t, dlq.reasons, 1)
	assert.True(t, strings.HasPrefix(dlq.reasons[0], "processing failed"))
	assert.Equal(t, 1, session.committed())
	assert.Equal(t, int64(1), consumer.GetStats().EventsFailed)
}

func TestHandleMessageFailedDLQPublishWithholdsCommit(t *testing.T) {
	index := new(MockIndexStore)
	cache := new(MockCacheStore)
	dlq := &stubDLQ{publishErr: assert.AnError}
	consumer := newDispatchConsumer(index, cache, dlq)

	session := newStubSession()
	consumer.handleMessage(session, record(9, `{not valid json`))

	// The record must come back on redelivery rather than vanish.
	assert.Equal(t, 0, session.markedCount())
	assert.Equal(t, 0, session.committed())
	assert.Equal(t, int64(0), consumer.GetStats().DLQPublished)
}

func TestHandleMessageSuccessCommits(t *testing.T) {
	index := new(MockIndexStore)
	cache := new(MockCacheStore)
	dlq := &stubDLQ{}
	consumer := newDispatchConsumer(index, cache, dlq)

	index.On("Get", mock.Anything, "products", "p1").Return(map[string]interface{}{}, nil)
	index.On("Upsert", mock.Anything, "products", "p1", mock.Anything, 3).Return(true)
	cache.On("Set", mock.Anything, "product:p1", mock.Anything).Return(true)

	session := newStubSession()
	consumer.handleMessage(session, record(10,
		`{"product_id":"p1","event_type":"create","version":1,"updated_at":"2026-01-01T00:00:00Z","data":{"name":"widget"}}`))

	assert.Equal(t, 1, session.markedCount())
	assert.Equal(t, 1, session.committed())
	assert.Empty(t, dlq.events)
	assert.Equal(t, int64(1), consumer.GetStats().EventsProcessed)
}

func TestConsumeClaimContinuesAfterPoison(t *testing.T) {
	index := new(MockIndexStore)
	cache := new(MockCacheStore)
	dlq := &stubDLQ{}
	consumer := newDispatchConsumer(index, cache, dlq)

	index.On("Get", mock.Anything, "products", "p1").Return(map[string]interface{}{}, nil)
	index.On("Upsert", mock.Anything, "products", "p1", mock.Anything, 3).Return(true)
	cache.On("Set", mock.Anything, "product:p1", mock.Anything).Return(true)

	claim := &stubClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- record(1, `garbage`)
	claim.messages <- record(2,
		`{"product_id":"p1","event_type":"create","version":1,"updated_at":"2026-01-01T00:00:00Z","data":{}}`)
	close(claim.messages)

	session := newStubSession()
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	// Poison parked, next record still processed, both committed.
	assert.Len(t, dlq.events, 1)
	assert.Equal(t, 2, session.committed())
	assert.Equal(t, int64(1), consumer.GetStats().EventsProcessed)
	assert.Equal(t, int64(1), consumer.GetStats().EventsParseError)
}
