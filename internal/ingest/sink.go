package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

// HTTPSink entrega batches ao endpoint downstream via HTTP POST.
// Delivery is best effort: a single synchronous attempt whose outcome
// is reported as a boolean. Retrying is the caller's job (the batch
// file stays on disk until the sink acknowledges).
type HTTPSink struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Logger
}

// NewHTTPSink creates a sink posting batches to endpoint with the given
// request timeout.
func NewHTTPSink(endpoint string, timeout time.Duration, logger *logrus.Logger) *HTTPSink {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts the batch as a JSON array. Any 2xx response counts as
// delivered.
func (s *HTTPSink) Send(ctx context.Context, events []types.Event) bool {
	body, err := json.Marshal(events)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal batch for sink")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger.WithError(err).Error("Failed to build sink request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.SinkDeliverySeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.WithError(err).WithField("endpoint", s.endpoint).Warn("Sink delivery failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{
			"endpoint": s.endpoint,
			"status":   resp.StatusCode,
		}).Warn("Sink rejected batch")
		return false
	}

	s.logger.WithField("event_count", len(events)).Debug("Batch delivered to sink")
	return true
}

// FlakySink simula um sink com taxa de falha injetável. Production and
// tests share the Sink interface; this implementation backs local demos
// and failure-path tests.
type FlakySink struct {
	logger *logrus.Logger

	mutex       sync.Mutex
	failureRate float64
	latency     time.Duration
	rng         *rand.Rand
	delivered   [][]types.Event
}

// NewFlakySink creates a sink that fails a given fraction of deliveries
// (0.0 never fails, 1.0 always fails).
func NewFlakySink(failureRate float64, logger *logrus.Logger) *FlakySink {
	return &FlakySink{
		logger:      logger,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetFailureRate changes the simulated failure rate.
func (s *FlakySink) SetFailureRate(rate float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failureRate = rate
}

// SetLatency adds a fixed delay to every delivery.
func (s *FlakySink) SetLatency(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.latency = d
}

// Send records the batch on success; failures leave no trace, matching
// a downstream that never received the request.
func (s *FlakySink) Send(ctx context.Context, events []types.Event) bool {
	s.mutex.Lock()
	rate := s.failureRate
	latency := s.latency
	s.mutex.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return false
		}
	}

	if rate > 0 {
		s.mutex.Lock()
		roll := s.rng.Float64()
		s.mutex.Unlock()
		if roll < rate {
			s.logger.Debug("Simulated sink failure")
			return false
		}
	}

	batch := make([]types.Event, len(events))
	copy(batch, events)

	s.mutex.Lock()
	s.delivered = append(s.delivered, batch)
	s.mutex.Unlock()

	return true
}

// Delivered returns all successfully delivered batches in order.
func (s *FlakySink) Delivered() [][]types.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([][]types.Event, len(s.delivered))
	copy(out, s.delivered)
	return out
}
