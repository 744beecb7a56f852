// Package store holds the external state adapters of the indexing
// consumer: the Elasticsearch document store and the Redis cache. Both
// convert transport failures into structured outcomes at the boundary;
// retry and invalidation policy live in the event processor.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"
)

// upsertRetryBase is the delay before the second upsert attempt; it
// doubles on every further attempt.
const upsertRetryBase = 100 * time.Millisecond

// ElasticStore lê e escreve documentos no Elasticsearch.
//
// Get treats a 404 as an explicit "absent document" value rather than
// an error, which keeps the idempotency decision in the processor free
// of exception plumbing.
type ElasticStore struct {
	client *elasticsearch.Client
	logger *logrus.Logger
}

// NewElasticStore creates a store speaking to the given base address
// (e.g. http://localhost:9200).
func NewElasticStore(address string, logger *logrus.Logger) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
		// The client retries 502/503/504 on its own; that would stack on
		// top of the Upsert backoff loop, which owns the retry policy.
		DisableRetry: true,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	logger.WithField("address", address).Info("Elasticsearch store initialized")

	return &ElasticStore{client: client, logger: logger}, nil
}

// Ping verifies connectivity. Callers may treat failures as
// non-fatal; every operation carries its own error handling.
func (s *ElasticStore) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// Get fetches the _source of a document. An absent document (404)
// returns an empty map and no error; any other failure is an error.
func (s *ElasticStore) Get(ctx context.Context, index, id string) (map[string]interface{}, error) {
	req := esapi.GetRequest{Index: index, DocumentID: id}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get %s/%s failed: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return map[string]interface{}{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch get %s/%s: %s", index, id, res.Status())
	}

	var body struct {
		Source map[string]interface{} `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode elasticsearch response: %w", err)
	}
	if body.Source == nil {
		return map[string]interface{}{}, nil
	}

	return body.Source, nil
}

// Upsert writes a document with create-or-replace semantics, retrying
// transient failures with exponential backoff (100ms, 200ms, ...).
// Returns false once maxRetries attempts are exhausted.
func (s *ElasticStore) Upsert(ctx context.Context, index, id string, doc map[string]interface{}, maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	body, err := json.Marshal(doc)
	if err != nil {
		s.logger.WithError(err).WithField("document_id", id).Error("Failed to marshal document")
		return false
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req := esapi.IndexRequest{
			Index:      index,
			DocumentID: id,
			Body:       bytes.NewReader(body),
		}

		res, err := req.Do(ctx, s.client)
		if err == nil {
			if !res.IsError() {
				res.Body.Close()
				return true
			}
			err = fmt.Errorf("elasticsearch upsert %s/%s: %s", index, id, res.Status())
			res.Body.Close()
		}

		s.logger.WithError(err).WithFields(logrus.Fields{
			"document_id": id,
			"attempt":     attempt,
			"max_retries": maxRetries,
		}).Warn("Upsert attempt failed")

		if attempt == maxRetries {
			break
		}

		backoff := upsertRetryBase << uint(attempt-1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": id,
		"max_retries": maxRetries,
	}).Error("Failed to upsert document after retries")
	return false
}

// Delete removes a document in a single attempt. A 404 counts as
// success so replayed deletes stay idempotent; other failures are
// logged and reported false.
func (s *ElasticStore) Delete(ctx context.Context, index, id string) bool {
	req := esapi.DeleteRequest{Index: index, DocumentID: id}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		s.logger.WithError(err).WithField("document_id", id).Error("Failed to delete document")
		return false
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return true
	}
	if res.IsError() {
		s.logger.WithFields(logrus.Fields{
			"document_id": id,
			"status":      res.Status(),
		}).Error("Failed to delete document")
		return false
	}

	return true
}
