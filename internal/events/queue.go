package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

var (
	// ErrQueueClosed is returned when enqueuing to a closed queue.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room left.
	ErrQueueFull = errors.New("event queue is full")

	// ErrInvalidEvent is returned for events without a type.
	ErrInvalidEvent = errors.New("invalid event")
)

const defaultBatchSize = 100

func validate(event *core.Event) error {
	if event == nil {
		return ErrInvalidEvent
	}
	if event.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return nil
}

// MemoryQueue is an in-process core.EventQueue on a buffered channel.
type MemoryQueue struct {
	queue  chan *core.Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to bufferSize events.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryQueue{queue: make(chan *core.Event, bufferSize)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event *core.Event) error {
	if err := validate(event); err != nil {
		return err
	}

	// the read lock keeps Close from closing the channel mid-send
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Event, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	events := make([]*core.Event, 0, batchSize)
	for len(events) < batchSize {
		select {
		case event, ok := <-q.queue:
			if !ok {
				return events, nil
			}
			events = append(events, event)
		case <-ctx.Done():
			return events, ctx.Err()
		default:
			return events, nil
		}
	}
	return events, nil
}

func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops accepting events. Queued events can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}

// ListOperations is the subset of Redis list commands the Redis queue needs.
// kvstore.RedisKVStore implements it.
type ListOperations interface {
	// ListPush appends a value (RPUSH).
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the head (LPOP); nil when empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListLength returns the list length (LLEN).
	ListLength(ctx context.Context, key string) (int64, error)
}

// RedisQueue stores events as JSON in a Redis list so several processes
// can share one notification stream.
type RedisQueue struct {
	ops ListOperations
	key string

	mu     sync.RWMutex
	closed bool
}

// NewRedisQueue creates a queue on the list named key.
func NewRedisQueue(ops ListOperations, key string) *RedisQueue {
	if key == "" {
		key = "rpcabsorber:events"
	}
	return &RedisQueue{ops: ops, key: key}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *RedisQueue) Enqueue(ctx context.Context, event *core.Event) error {
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
	if err := q.ops.ListPush(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Event, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	events := make([]*core.Event, 0, batchSize)
	for len(events) < batchSize {
		data, err := q.ops.ListPop(ctx, q.key)
		if err != nil {
			if len(events) > 0 {
				return events, nil
			}
			return nil, fmt.Errorf("failed to dequeue events: %w", err)
		}
		if data == nil {
			break
		}

		var event core.Event
		if err := json.Unmarshal(data, &event); err != nil {
			// not ours; drop it
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func (q *RedisQueue) Size() int {
	if q.isClosed() {
		return 0
	}
	n, err := q.ops.ListLength(context.Background(), q.key)
	if err != nil {
		return 0
	}
	return int(n)
}

// Close marks the queue closed. The list and its connection are owned by
// the KV store.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
