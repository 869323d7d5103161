// Package ingest drains documents from a Kafka topic into collections and
// publishes index lifecycle events. It is the asynchronous ingestion path;
// the HTTP API remains the synchronous one.
//
// The worker owns its Kafka reader and writer outright. Offsets are
// committed whether or not a message indexed cleanly, so a poison document
// cannot wedge the partition; the failure is logged and counted instead.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/prismsearch/prism/internal/collection"
	"github.com/prismsearch/prism/pkg/config"
	"github.com/prismsearch/prism/pkg/logger"
	"github.com/prismsearch/prism/pkg/metrics"
)

// publishAttempts bounds the delivery tries for one index event; event loss
// is tolerable, so after that the event is dropped with a log line.
const (
	publishAttempts = 3
	publishBackoff  = 250 * time.Millisecond
)

// Message is the wire format of one document on the ingest topic.
type Message struct {
	Collection string          `json:"collection"`
	Document   json.RawMessage `json:"document"`
}

// IndexEvent is published after a document is indexed.
type IndexEvent struct {
	Type       string `json:"type"` // "indexed"
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Timestamp  int64  `json:"timestamp"`
}

// Worker consumes ingest messages and adds them to their collections.
type Worker struct {
	manager *collection.Manager
	reader  *kafka.Reader
	writer  *kafka.Writer
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewWorker wires a Worker to the configured document and event topics.
// metrics may be nil.
func NewWorker(cfg config.KafkaConfig, manager *collection.Manager, m *metrics.Metrics) *Worker {
	return &Worker{
		manager: manager,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topics.DocumentIngest,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topics.IndexEvents,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		metrics: m,
		log:     logger.Component("ingest-worker"),
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("ingest worker started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("ingest worker stopping", "reason", ctx.Err())
				return nil
			}
			w.log.Error("failed to fetch message", "error", err)
			continue
		}
		w.process(ctx, msg)
		if err := w.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			w.log.Error("failed to commit offset",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close releases the Kafka clients.
func (w *Worker) Close() error {
	w.writer.Close()
	return w.reader.Close()
}

func (w *Worker) process(ctx context.Context, msg kafka.Message) {
	var m Message
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		w.count("invalid")
		w.log.Error("malformed ingest message", "offset", msg.Offset, "error", err)
		return
	}
	coll, err := w.manager.Get(m.Collection)
	if err != nil {
		w.count("invalid")
		w.log.Warn("ingest for unknown collection", "collection", m.Collection)
		return
	}
	docID, err := coll.Add(string(m.Document))
	if err != nil {
		w.count("failed")
		w.log.Error("ingest add failed", "collection", m.Collection, "error", err)
		return
	}
	w.count("ok")
	w.publishEvent(ctx, IndexEvent{
		Type:       "indexed",
		Collection: m.Collection,
		DocumentID: docID,
		Timestamp:  time.Now().Unix(),
	})
}

// publishEvent emits an index event, retrying a couple of times with a flat
// backoff before giving the event up.
func (w *Worker) publishEvent(ctx context.Context, event IndexEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		w.log.Error("failed to encode index event", "error", err)
		return
	}
	msg := kafka.Message{Key: []byte(event.Collection), Value: value}
	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if lastErr = w.writer.WriteMessages(ctx, msg); lastErr == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(publishBackoff):
		case <-ctx.Done():
			return
		}
	}
	w.log.Error("dropping index event after retries",
		"collection", event.Collection,
		"document_id", event.DocumentID,
		"error", fmt.Errorf("%d attempts: %w", publishAttempts, lastErr),
	)
}

func (w *Worker) count(status string) {
	if w.metrics != nil {
		w.metrics.IngestEventsTotal.WithLabelValues(status).Inc()
	}
}
