package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/kvstore"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// fakeLists is an in-memory ListOperations.
type fakeLists struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func newFakeLists() *fakeLists {
	return &fakeLists{lists: make(map[string][][]byte)}
}

func (f *fakeLists) ListPush(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], append([]byte(nil), value...))
	return nil
}

func (f *fakeLists) ListPop(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if len(l) == 0 {
		return nil, nil
	}
	f.lists[key] = l[1:]
	return l[0], nil
}

func (f *fakeLists) ListLength(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func event(t core.EventType, site string) *core.Event {
	return &core.Event{ID: site + "-" + string(t), Type: t, SiteID: site}
}

func TestQueuesAreFIFO(t *testing.T) {
	ctx := context.Background()
	queues := map[string]core.EventQueue{
		"memory": NewMemoryQueue(10),
		"redis":  NewRedisQueue(newFakeLists(), "test:events"),
	}

	for name, q := range queues {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Enqueue(ctx, event(core.EventSessionExpired, "a")))
			require.NoError(t, q.Enqueue(ctx, event(core.EventUserDeleted, "b")))
			require.NoError(t, q.Enqueue(ctx, event(core.EventUserSuspended, "c")))
			assert.Equal(t, 3, q.Size())

			first, err := q.Dequeue(ctx, 2)
			require.NoError(t, err)
			require.Len(t, first, 2)
			assert.Equal(t, "a", first[0].SiteID)
			assert.Equal(t, "b", first[1].SiteID)
			assert.False(t, first[0].Timestamp.IsZero())

			rest, err := q.Dequeue(ctx, 10)
			require.NoError(t, err)
			require.Len(t, rest, 1)
			assert.Equal(t, core.EventUserSuspended, rest[0].Type)

			empty, err := q.Dequeue(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, q.Close())
			assert.ErrorIs(t, q.Enqueue(ctx, event(core.EventUserNoLogin, "d")), ErrQueueClosed)
		})
	}
}

func TestMemoryQueueRejectsWhenFull(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(ctx, event(core.EventSessionExpired, "a")))
	assert.ErrorIs(t, q.Enqueue(ctx, event(core.EventSessionExpired, "b")), ErrQueueFull)
	assert.ErrorIs(t, q.Enqueue(ctx, &core.Event{}), ErrInvalidEvent)
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(registry.InternalEventsConfig{QueueType: "memory", QueueBufferSize: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = NewQueue(registry.InternalEventsConfig{QueueType: "redis"}, kvstore.NewMemoryKVStore())
	assert.Error(t, err, "memory KV store has no list operations")

	_, err = NewQueue(registry.InternalEventsConfig{QueueType: "kafka"}, nil)
	assert.Error(t, err, "kafka without brokers")

	_, err = NewQueue(registry.InternalEventsConfig{QueueType: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestNotifierStampsEvents(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	q := NewMemoryQueue(10)
	n := NewNotifier(q, clock)

	require.NoError(t, n.Notify(ctx, core.EventSessionExpired, "site1", "core_get_info", "token expired"))

	events, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, core.EventSessionExpired, ev.Type)
	assert.Equal(t, "site1", ev.SiteID)
	assert.Equal(t, "core_get_info", ev.Method)
	assert.Equal(t, "token expired", ev.Message)
	assert.Equal(t, clock.Now(), ev.Timestamp)
}

func fastConfig() DispatcherConfig {
	return DispatcherConfig{
		Rate:         1000,
		BatchSize:    5,
		PollInterval: time.Millisecond,
		MaxRetries:   3,
		BackoffBase:  time.Millisecond,
		BackoffMax:   2 * time.Millisecond,
	}
}

func TestDispatcherRoutesByType(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	d := NewDispatcher(q, fastConfig())

	var expired, deleted []string
	d.Subscribe(core.EventSessionExpired, func(_ context.Context, ev *core.Event) error {
		expired = append(expired, ev.SiteID)
		return nil
	})
	unsubscribe := d.Subscribe(core.EventUserDeleted, func(_ context.Context, ev *core.Event) error {
		deleted = append(deleted, ev.SiteID)
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, event(core.EventSessionExpired, "a")))
	require.NoError(t, q.Enqueue(ctx, event(core.EventUserDeleted, "b")))
	n, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a"}, expired)
	assert.Equal(t, []string{"b"}, deleted)

	unsubscribe()
	unsubscribe()
	require.NoError(t, q.Enqueue(ctx, event(core.EventUserDeleted, "c")))
	_, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, deleted)
	assert.Equal(t, int64(2), d.Stats().Delivered)
}

func TestDispatcherRetriesFailingHandler(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	d := NewDispatcher(q, fastConfig())

	attempts := 0
	d.Subscribe(core.EventUserSuspended, func(context.Context, *core.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("busy")
		}
		return nil
	})
	alwaysFails := 0
	d.Subscribe(core.EventUserNoLogin, func(context.Context, *core.Event) error {
		alwaysFails++
		return errors.New("down")
	})

	require.NoError(t, q.Enqueue(ctx, event(core.EventUserSuspended, "a")))
	require.NoError(t, q.Enqueue(ctx, event(core.EventUserNoLogin, "b")))
	_, err := d.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 4, alwaysFails, "first attempt plus three retries")
	assert.Equal(t, DispatcherStats{Delivered: 1, Failed: 1}, d.Stats())
}

func TestDispatcherStartStop(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)
	d := NewDispatcher(q, fastConfig())

	var got atomic.Int32
	d.Subscribe(core.EventSitePolicyNotAgreed, func(context.Context, *core.Event) error {
		got.Add(1)
		return nil
	})

	require.NoError(t, d.Start(ctx))
	assert.Error(t, d.Start(ctx))

	require.NoError(t, q.Enqueue(ctx, event(core.EventSitePolicyNotAgreed, "a")))
	require.NoError(t, q.Enqueue(ctx, event(core.EventSitePolicyNotAgreed, "b")))
	assert.Eventually(t, func() bool { return got.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
}
