// Package consumer implementa o consumidor de indexação: ele lê eventos
// de produto do stream, aplica-os no índice de busca e no cache, e envia
// mensagens envenenadas para a DLQ.
//
// Delivery is at-least-once; correctness comes from idempotent
// application. An event is applied only when it is strictly newer than
// the indexed document (version first, then updated_at), so replays and
// duplicates collapse into no-ops.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

const (
	// productIndex é o índice de produtos no Elasticsearch.
	productIndex = "products"

	// cacheKeyPrefix prefixa as chaves do cache de produtos.
	cacheKeyPrefix = "product:"

	// upsertMaxRetries limita as tentativas de escrita no índice.
	upsertMaxRetries = 3
)

// EventProcessor aplica um evento de produto nas duas stores.
type EventProcessor struct {
	index    types.IndexStore
	cache    types.CacheStore
	logger   *logrus.Logger
	counters metrics.Counters
}

// NewEventProcessor cria um processador sobre as stores fornecidas.
func NewEventProcessor(index types.IndexStore, cache types.CacheStore, logger *logrus.Logger, counters metrics.Counters) *EventProcessor {
	if counters == nil {
		counters = metrics.NopCounters{}
	}
	return &EventProcessor{
		index:    index,
		cache:    cache,
		logger:   logger,
		counters: counters,
	}
}

// ParseProductEvent decodes and validates a raw stream record. A
// missing product_id or event_type is a parse failure, not a processing
// failure: the record can never become applicable.
func ParseProductEvent(raw []byte) (types.ProductEvent, error) {
	var event types.ProductEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return types.ProductEvent{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if event.ProductID == "" {
		return types.ProductEvent{}, fmt.Errorf("missing product_id")
	}
	if event.EventType == "" {
		return types.ProductEvent{}, fmt.Errorf("missing event_type")
	}
	switch event.EventType {
	case types.EventTypeCreate, types.EventTypeUpdate, types.EventTypeDelete:
	default:
		return types.ProductEvent{}, fmt.Errorf("unknown event_type %q", event.EventType)
	}
	return event, nil
}

// Apply runs the full pipeline for one event: fetch the current
// document, decide whether the event is newer, mutate the index, then
// mutate the cache. A stale event is skipped, which counts as success
// (applied=false, nil error). Returns an error only when the index
// mutation ultimately fails; cache failures degrade to invalidation and
// never fail the event.
func (p *EventProcessor) Apply(ctx context.Context, event types.ProductEvent) (applied bool, err error) {
	current, err := p.index.Get(ctx, productIndex, event.ProductID)
	if err != nil {
		return false, fmt.Errorf("fetch current document for %s: %w", event.ProductID, err)
	}

	if !shouldApply(event, current) {
		p.counters.Inc("consumer_events_skipped")
		p.logger.WithFields(logrus.Fields{
			"product_id": event.ProductID,
			"event_id":   event.EventID,
			"version":    event.Version,
		}).Info("Event skipped, not newer than indexed document")
		return false, nil
	}

	cacheKey := cacheKeyPrefix + event.ProductID

	if event.EventType == types.EventTypeDelete {
		if !p.index.Delete(ctx, productIndex, event.ProductID) {
			return false, fmt.Errorf("delete document %s from index failed", event.ProductID)
		}
		// Cache removal failure is tolerable: the key either expires or
		// gets overwritten by the next applied event.
		if !p.cache.Del(ctx, cacheKey) {
			p.logger.WithField("product_id", event.ProductID).
				Warn("Cache delete failed after index delete")
		}
		p.counters.Inc("consumer_events_applied")
		return true, nil
	}

	doc := p.buildDocument(event)
	if !p.index.Upsert(ctx, productIndex, event.ProductID, doc, upsertMaxRetries) {
		return false, fmt.Errorf("upsert document %s into index failed", event.ProductID)
	}

	p.refreshCache(ctx, cacheKey, doc)

	p.counters.Inc("consumer_events_applied")
	return true, nil
}

// buildDocument monta o documento indexado a partir do evento.
func (p *EventProcessor) buildDocument(event types.ProductEvent) map[string]interface{} {
	doc := make(map[string]interface{}, len(event.Data)+3)
	for k, v := range event.Data {
		doc[k] = v
	}
	doc["product_id"] = event.ProductID
	doc["version"] = event.Version
	doc["updated_at"] = event.UpdatedAt
	return doc
}

// refreshCache writes the fresh document into the cache. When the write
// fails the stale entry is deleted instead, so the cache can miss but
// never serve a document older than the index.
func (p *EventProcessor) refreshCache(ctx context.Context, key string, doc map[string]interface{}) {
	value, err := json.Marshal(doc)
	if err != nil {
		p.logger.WithError(err).WithField("key", key).Warn("Failed to marshal document for cache")
		p.invalidate(ctx, key)
		return
	}

	if !p.cache.Set(ctx, key, string(value)) {
		p.logger.WithField("key", key).Warn("Cache set failed, invalidating entry")
		p.invalidate(ctx, key)
	}
}

func (p *EventProcessor) invalidate(ctx context.Context, key string) {
	if !p.cache.Del(ctx, key) {
		p.counters.Inc("consumer_cache_invalidation_failed")
		p.logger.WithField("key", key).Warn("Cache invalidation failed, entry may be stale")
	}
}

// shouldApply decides whether the event is strictly newer than the
// indexed document. With no indexed document every event applies.
// Both ordering fields are checked in sequence: the event must carry a
// strictly higher version AND a strictly later updated_at than whatever
// the document records. Equal on either field means replay, skip.
func shouldApply(event types.ProductEvent, current map[string]interface{}) bool {
	if len(current) == 0 {
		return true
	}

	if _, ok := current["version"]; ok {
		if event.Version <= numericField(current, "version") {
			return false
		}
	}

	if currentUpdatedAt, ok := current["updated_at"].(string); ok && currentUpdatedAt != "" {
		if event.UpdatedAt <= currentUpdatedAt {
			return false
		}
	}

	return true
}

// numericField lê um campo numérico do documento indexado. JSON decode
// delivers numbers as float64; documents written before the version
// field existed read as zero.
func numericField(doc map[string]interface{}, field string) int64 {
	switch v := doc[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
