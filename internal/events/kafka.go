package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// KafkaQueue publishes events to a Kafka topic and consumes them through a
// consumer group.
type KafkaQueue struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	topic   string
	groupID string
	readTTL time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	size   int // approximate; Kafka has no queue length
}

// NewKafkaQueue connects a writer and a group reader to the configured
// topic. No broker round trip happens until the first call.
func NewKafkaQueue(cfg registry.InternalKafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "rpc-absorber-events"
	}
	readTTL := cfg.ReadTimeout
	if readTTL <= 0 {
		readTTL = time.Second
	}

	log := logger.Component(logger.New(), "events").With().
		Str("topic", cfg.Topic).Str("group", cfg.GroupID).Logger()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchBytes:   int64(cfg.MaxMessageBytes),
		MaxAttempts:  3,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	log.Info().Strs("brokers", cfg.Brokers).Msg("kafka event queue ready")
	return &KafkaQueue{
		writer:  writer,
		reader:  reader,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		readTTL: readTTL,
		log:     log,
	}, nil
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Enqueue writes the event keyed by site so one site's events stay ordered
// within a partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, event *core.Event) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := validate(event); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.SiteID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "site", Value: []byte(event.SiteID)},
		},
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		q.log.Error().Err(err).Str("type", string(event.Type)).Dur("took", time.Since(start)).Msg("produce failed")
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	q.log.Debug().Str("type", string(event.Type)).Dur("took", time.Since(start)).Msg("produced")
	return nil
}

// Dequeue reads up to batchSize events, committing each offset as it goes.
// A read that times out ends the batch.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Event, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	events := make([]*core.Event, 0, batchSize)
	for len(events) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.readTTL)
		msg, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				q.log.Warn().Err(err).Msg("fetch failed")
			}
			break
		}

		var event core.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			q.log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("skipping malformed event")
		} else {
			events = append(events, &event)
		}
		if err := q.reader.CommitMessages(ctx, msg); err != nil {
			q.log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}

	if len(events) > 0 {
		q.mu.Lock()
		q.size -= len(events)
		if q.size < 0 {
			q.size = 0
		}
		q.mu.Unlock()
	}
	return events, nil
}

func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	werr := q.writer.Close()
	rerr := q.reader.Close()
	return errors.Join(werr, rerr)
}
