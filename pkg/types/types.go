package types

import (
	"context"
	"time"
)

// Event representa um evento aceito pelo servidor de ingestão.
// Timestamp is assigned by the server on receipt (milliseconds since epoch).
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// ProductEvent representa um evento de produto consumido do stream.
type ProductEvent struct {
	ProductID string                 `json:"product_id"`
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Version   int64                  `json:"version"`
	UpdatedAt string                 `json:"updated_at"`
	Data      map[string]interface{} `json:"data"`
}

// Event types recognized by the indexing consumer.
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// Sink interface para o destino downstream de batches.
// Send returns the delivery outcome only; the adapter never retries and
// never mutates the batch.
type Sink interface {
	Send(ctx context.Context, events []Event) bool
}

// IndexStore interface para leitura e escrita no índice de busca.
// Get returns an empty document (not an error) when the id is absent.
type IndexStore interface {
	Get(ctx context.Context, index, id string) (map[string]interface{}, error)
	Upsert(ctx context.Context, index, id string, doc map[string]interface{}, maxRetries int) bool
	Delete(ctx context.Context, index, id string) bool
}

// CacheStore interface para o cache de produtos.
// Operations report success only; retry policy belongs to the caller.
type CacheStore interface {
	Set(ctx context.Context, key, value string) bool
	Del(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) string
}

// DLQPublisher interface para publicação de mensagens envenenadas.
type DLQPublisher interface {
	Publish(ctx context.Context, originalEvent []byte, errorReason string) error
}

// BatcherStats estatísticas do batcher de ingestão.
type BatcherStats struct {
	BatchesWritten   int64     `json:"batches_written"`
	BatchesDelivered int64     `json:"batches_delivered"`
	BatchesFailed    int64     `json:"batches_failed"`
	WriteErrors      int64     `json:"write_errors"`
	EventsFlushed    int64     `json:"events_flushed"`
	LastFlushTime    time.Time `json:"last_flush_time"`
}

// ReplayStats estatísticas do replay de startup.
type ReplayStats struct {
	FilesFound    int       `json:"files_found"`
	FilesReplayed int       `json:"files_replayed"`
	FilesFailed   int       `json:"files_failed"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ConsumerStats estatísticas do consumidor de indexação.
type ConsumerStats struct {
	EventsProcessed  int64 `json:"events_processed"`
	EventsSkipped    int64 `json:"events_skipped"`
	EventsFailed     int64 `json:"events_failed"`
	EventsParseError int64 `json:"events_parse_error"`
	DLQPublished     int64 `json:"dlq_published"`
}
