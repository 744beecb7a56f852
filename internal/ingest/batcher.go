package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

// Batcher accumulates events and flushes them on size or time,
// whichever comes first. It is the single owner of the on-disk batch
// lifecycle: every flush writes the batch to the append log before the
// delivery attempt, and deletes the file only after the sink
// acknowledges. A failed delivery leaves the file for startup replay.
type Batcher struct {
	maxBatchSize int
	maxWait      time.Duration
	log          *AppendLog
	sink         types.Sink
	logger       *logrus.Logger
	counters     metrics.Counters

	batchMutex sync.Mutex
	pending    []types.Event
	wake       chan struct{}

	statsMutex sync.RWMutex
	stats      types.BatcherStats

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mutex     sync.Mutex
	isRunning bool
}

// NewBatcher creates a Batcher. Zero values get defaults: 100 events,
// 1 second wait.
func NewBatcher(maxBatchSize int, maxWait time.Duration, log *AppendLog, sink types.Sink, logger *logrus.Logger, counters metrics.Counters) *Batcher {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	if maxWait <= 0 {
		maxWait = time.Second
	}
	if counters == nil {
		counters = metrics.NopCounters{}
	}

	return &Batcher{
		maxBatchSize: maxBatchSize,
		maxWait:      maxWait,
		log:          log,
		sink:         sink,
		logger:       logger,
		counters:     counters,
		pending:      make([]types.Event, 0, maxBatchSize),
		wake:         make(chan struct{}, 1),
	}
}

// AddEvent appends an event to the in-memory batch and wakes the worker
// when the batch reaches maxBatchSize.
func (b *Batcher) AddEvent(event types.Event) {
	b.batchMutex.Lock()
	b.pending = append(b.pending, event)
	size := len(b.pending)
	b.batchMutex.Unlock()

	if size >= b.maxBatchSize {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Start launches the worker loop.
func (b *Batcher) Start(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isRunning {
		return fmt.Errorf("batcher already running")
	}
	b.isRunning = true

	b.ctx, b.cancel = context.WithCancel(ctx)

	b.logger.WithFields(logrus.Fields{
		"max_batch_size": b.maxBatchSize,
		"max_wait":       b.maxWait,
	}).Info("Starting batcher")

	b.wg.Add(1)
	go b.workerLoop()

	return nil
}

// Stop halts the worker, then drains any in-memory batch to disk and
// attempts one final delivery before returning.
func (b *Batcher) Stop() error {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return nil
	}
	b.isRunning = false
	b.mutex.Unlock()

	b.logger.Info("Stopping batcher")

	b.cancel()
	b.wg.Wait()

	// Final flush outside the worker so shutdown never loses the
	// in-memory tail.
	b.flush(context.Background())

	b.logger.Info("Batcher stopped")
	return nil
}

// workerLoop waits until the pending batch fills or maxWait elapses,
// then flushes whatever accumulated.
func (b *Batcher) workerLoop() {
	defer b.wg.Done()

	timer := time.NewTimer(b.maxWait)
	defer timer.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		b.flush(b.ctx)
		timer.Reset(b.maxWait)
	}
}

// flush owns the durable write-then-send-then-delete sequence for one
// batch. After WriteBatch returns, the events are durable until the
// sink acknowledges and the file is deleted.
func (b *Batcher) flush(ctx context.Context) {
	b.batchMutex.Lock()
	if len(b.pending) == 0 {
		b.batchMutex.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]types.Event, 0, b.maxBatchSize)
	b.batchMutex.Unlock()

	filename, err := b.log.WriteBatch(batch)
	if err != nil {
		// The batch only exists in memory at this point; losing it is a
		// durability violation, so shout.
		b.logger.WithError(err).WithField("event_count", len(batch)).
			Error("DROPPING BATCH: append log write failed, events are lost")
		b.counters.Add("ingest_events_dropped", float64(len(batch)))
		b.updateStats(func(s *types.BatcherStats) { s.WriteErrors++ })
		return
	}

	b.counters.Inc("ingest_batches_written")
	b.updateStats(func(s *types.BatcherStats) {
		s.BatchesWritten++
		s.EventsFlushed += int64(len(batch))
		s.LastFlushTime = time.Now()
	})

	if b.sink.Send(ctx, batch) {
		if err := b.log.DeleteBatch(filename); err != nil {
			b.logger.WithError(err).WithField("filename", filename).
				Warn("Failed to delete delivered batch, replay will duplicate it")
		}
		b.counters.Inc("ingest_batches_delivered")
		b.updateStats(func(s *types.BatcherStats) { s.BatchesDelivered++ })
	} else {
		b.logger.WithFields(logrus.Fields{
			"filename":    filename,
			"event_count": len(batch),
		}).Warn("Batch delivery failed, keeping file for replay")
		b.counters.Inc("ingest_batches_failed")
		b.updateStats(func(s *types.BatcherStats) { s.BatchesFailed++ })
	}
}

// PendingSize returns the current in-memory batch size.
func (b *Batcher) PendingSize() int {
	b.batchMutex.Lock()
	defer b.batchMutex.Unlock()
	return len(b.pending)
}

// GetStats returns a snapshot of batcher statistics.
func (b *Batcher) GetStats() types.BatcherStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()
	return b.stats
}

func (b *Batcher) updateStats(fn func(*types.BatcherStats)) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()
	fn(&b.stats)
}
