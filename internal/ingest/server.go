package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/config"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

// Server terminates HTTP for the ingestion pipeline, enforces
// backpressure through the accept queue, and performs startup replay of
// batches left on disk by a previous run.
//
// Startup order is strict: replay pending batches, start the batcher,
// start the queue consumer, then bind the HTTP listener. Nothing is
// accepted before replay finishes.
type Server struct {
	cfg       config.IngestConfig
	appendLog *AppendLog
	sink      types.Sink
	batcher   *Batcher
	queue     *AcceptQueue
	logger    *logrus.Logger
	counters  metrics.Counters

	httpServer *http.Server
	listener   net.Listener

	replayMutex sync.RWMutex
	replayStats types.ReplayStats

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mutex     sync.Mutex
	isRunning bool
}

// NewServer wires the append log, accept queue and batcher for the
// given configuration. Fails if the log directory is unusable.
func NewServer(cfg config.IngestConfig, sink types.Sink, logger *logrus.Logger, counters metrics.Counters) (*Server, error) {
	appendLog, err := NewAppendLog(cfg.LogDir, logger)
	if err != nil {
		return nil, err
	}

	if counters == nil {
		counters = metrics.NopCounters{}
	}

	batcher := NewBatcher(cfg.BatchSize, time.Duration(cfg.BatchWaitMs)*time.Millisecond,
		appendLog, sink, logger, counters)

	return &Server{
		cfg:       cfg,
		appendLog: appendLog,
		sink:      sink,
		batcher:   batcher,
		queue:     NewAcceptQueue(cfg.QueueSize),
		logger:    logger,
		counters:  counters,
	}, nil
}

// Start runs the startup sequence and binds the HTTP listener. It
// returns once the server is accepting traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.isRunning {
		s.mutex.Unlock()
		return fmt.Errorf("ingest server already running")
	}
	s.isRunning = true
	s.mutex.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	// 1. Replay must complete before any HTTP listener binds.
	s.replayPending(s.ctx)

	// 2. Batcher.
	if err := s.batcher.Start(s.ctx); err != nil {
		return err
	}

	// 3. Accept queue consumer.
	s.wg.Add(1)
	go s.consumerLoop()

	// 4. HTTP traffic.
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener

	router := mux.NewRouter()
	s.registerHandlers(router)

	s.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server stopped with error")
		}
	}()

	s.logger.WithField("addr", listener.Addr().String()).Info("Ingest server started")
	return nil
}

// Stop shuts down cooperatively: refuse new requests, drain the accept
// queue into the batcher, then stop the batcher (which flushes).
func (s *Server) Stop() error {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return nil
	}
	s.isRunning = false
	s.mutex.Unlock()

	s.logger.Info("Stopping ingest server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("HTTP shutdown did not complete cleanly")
		}
	}

	s.cancel()
	s.wg.Wait()

	// In-flight handlers already drained into the queue; move the
	// remainder into the batcher before the final flush.
	drained := 0
	for {
		event, ok := s.queue.TryPop()
		if !ok {
			break
		}
		s.batcher.AddEvent(event)
		drained++
	}
	if drained > 0 {
		s.logger.WithField("drained", drained).Info("Drained accept queue into batcher")
	}

	if err := s.batcher.Stop(); err != nil {
		return err
	}

	s.logger.Info("Ingest server stopped")
	return nil
}

// Addr returns the bound listener address, for tests and logs.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// replayPending sends every on-disk batch in chronological order. A
// failure (corrupt file or sink rejection) leaves that file in place
// and moves on to the next; failing files are retried on the next
// startup.
func (s *Server) replayPending(ctx context.Context) {
	pending, err := s.appendLog.ListPending()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list pending batches, skipping replay")
		return
	}

	stats := types.ReplayStats{FilesFound: len(pending)}

	if len(pending) == 0 {
		s.logger.Info("No pending batches to replay")
	} else {
		s.logger.WithField("pending_count", len(pending)).Info("Replaying pending batches")
	}

	for _, filename := range pending {
		events, err := s.appendLog.ReadBatch(filename)
		if err != nil {
			s.logger.WithError(err).WithField("filename", filename).
				Error("Failed to read pending batch, leaving file for next cycle")
			stats.FilesFailed++
			continue
		}

		if !s.sink.Send(ctx, events) {
			s.logger.WithField("filename", filename).Warn("Replay delivery failed, keeping file")
			stats.FilesFailed++
			continue
		}

		if err := s.appendLog.DeleteBatch(filename); err != nil {
			s.logger.WithError(err).WithField("filename", filename).Warn("Failed to delete replayed batch")
		}
		s.counters.Inc("ingest_batches_replayed")
		stats.FilesReplayed++

		s.logger.WithFields(logrus.Fields{
			"filename":    filename,
			"event_count": len(events),
		}).Info("Replayed batch")
	}

	stats.CompletedAt = time.Now()

	s.replayMutex.Lock()
	s.replayStats = stats
	s.replayMutex.Unlock()

	metrics.PendingBatchFiles.Set(float64(stats.FilesFound - stats.FilesReplayed))

	if stats.FilesFound > 0 {
		s.logger.WithFields(logrus.Fields{
			"found":    stats.FilesFound,
			"replayed": stats.FilesReplayed,
			"failed":   stats.FilesFailed,
		}).Info("Replay complete")
	}
}

// consumerLoop moves events from the accept queue into the batcher.
func (s *Server) consumerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue.C():
			s.batcher.AddEvent(event)
			metrics.AcceptQueueDepth.Set(float64(s.queue.Len()))
		}
	}
}

func (s *Server) registerHandlers(router *mux.Router) {
	router.Handle("/events", metrics.Middleware(http.HandlerFunc(s.handlePostEvent))).Methods("POST")
	router.Handle("/health", metrics.Middleware(http.HandlerFunc(s.handleHealth))).Methods("GET")
	router.Handle("/stats", metrics.Middleware(http.HandlerFunc(s.handleStats))).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// eventPayload é o corpo aceito em POST /events.
type eventPayload struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&payload); err != nil {
		s.counters.Inc("ingest_events_invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	// An event without an id could never be read back from a batch file,
	// so accepting it would break the replay contract.
	if payload.ID == "" {
		s.counters.Inc("ingest_events_invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing event id"})
		return
	}

	event := types.Event{
		ID:        payload.ID,
		Type:      payload.Type,
		Data:      payload.Data,
		Timestamp: time.Now().UnixMilli(),
	}

	if !s.queue.TryPush(event) {
		s.counters.Inc("ingest_events_rejected")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "queue full"})
		return
	}

	s.counters.Inc("ingest_events_accepted")
	metrics.AcceptQueueDepth.Set(float64(s.queue.Len()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ingest-demo",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.replayMutex.RLock()
	replay := s.replayStats
	s.replayMutex.RUnlock()

	pending, err := s.appendLog.ListPending()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list pending batches for stats")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue": map[string]int{
			"depth":    s.queue.Len(),
			"capacity": s.queue.Cap(),
		},
		"batcher":       s.batcher.GetStats(),
		"replay":        replay,
		"pending_files": len(pending),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
