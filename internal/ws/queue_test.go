package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

func newTestQueue(tr core.Transport, limit int, delay time.Duration) *batchQueue {
	return newBatchQueue(tr, "en", limit, delay, clockwork.NewRealClock(), zerolog.Nop())
}

func waitItem(t *testing.T, it *queueItem) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := it.wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return data, err
}

func defaultSettings() core.Settings {
	return ReadDirectives().settings("en", false)
}

func TestQueueFlushesWhenFull(t *testing.T) {
	tr := newFakeTransport()
	q := newTestQueue(tr, 3, time.Hour)
	defer q.drain()

	items := make([]*queueItem, 3)
	for i := range items {
		items[i] = q.enqueue(fmt.Sprint(i), fmt.Sprintf("method%d", i), map[string]any{"n": i}, defaultSettings(), true)
	}

	for i, it := range items {
		data, err := waitItem(t, it)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"method":"method%d","args":{"n":%d}}`, i, i), string(data))
	}
	assert.Equal(t, 1, tr.batchCount())
	assert.Zero(t, tr.callCount())
	assert.Zero(t, q.size())
}

func TestQueueFlushesAfterDelay(t *testing.T) {
	tr := newFakeTransport()
	q := newTestQueue(tr, 10, 50*time.Millisecond)
	defer q.drain()

	first := q.enqueue("a", "getA", nil, defaultSettings(), true)
	second := q.enqueue("b", "getB", nil, defaultSettings(), true)
	_, err := waitItem(t, first)
	require.NoError(t, err)
	_, err = waitItem(t, second)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.batchCount())

	alone := q.enqueue("c", "getC", nil, defaultSettings(), true)
	_, err = waitItem(t, alone)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.batchCount())
	assert.Equal(t, 1, tr.callCount(), "a single call is sent on its own")
}

func TestQueueHoistsLanguage(t *testing.T) {
	tr := newFakeTransport()
	q := newTestQueue(tr, 2, time.Hour)
	defer q.drain()

	clean := defaultSettings()
	clean.CleanUnicode = true
	a := q.enqueue("a", "getA", nil, defaultSettings(), false)
	b := q.enqueue("b", "getB", nil, clean, false)
	_, err := waitItem(t, a)
	require.NoError(t, err)
	_, err = waitItem(t, b)
	require.NoError(t, err)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.settings, 1)
	assert.Equal(t, "en", tr.settings[0].Lang)
	assert.True(t, tr.settings[0].CleanUnicode)
	assert.True(t, tr.settings[0].ResponseExpected)
	for _, c := range tr.batches[0] {
		assert.True(t, c.Filter)
		assert.True(t, c.FileURL)
	}
}

func TestQueueResendsMissingResponses(t *testing.T) {
	tr := newFakeTransport()
	tr.multi = func(calls []core.MultiCall) ([]core.Slot, error) {
		return []core.Slot{{Data: `{"first":true}`}}, nil
	}
	q := newTestQueue(tr, 2, 50*time.Millisecond)
	defer q.drain()

	a := q.enqueue("a", "getA", nil, defaultSettings(), true)
	b := q.enqueue("b", "getB", nil, defaultSettings(), true)

	data, err := waitItem(t, a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":true}`, string(data))

	data, err = waitItem(t, b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"getB","args":null}`, string(data))
	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "getB", sent[0].method)
}

func TestQueueIsolatesSlotErrors(t *testing.T) {
	tr := newFakeTransport()
	tr.setHandler(func(method string, args any, s core.Settings) (json.RawMessage, error) {
		if method == "bad" {
			return nil, serverError("invalidrecord")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	q := newTestQueue(tr, 2, time.Hour)
	defer q.drain()

	good := q.enqueue("good", "good", nil, defaultSettings(), true)
	bad := q.enqueue("bad", "bad", nil, defaultSettings(), true)

	data, err := waitItem(t, good)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = waitItem(t, bad)
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalidrecord", se.ErrorCode)
}

func TestQueueEnvelopeFailureRejectsAll(t *testing.T) {
	tr := newFakeTransport()
	tr.multi = func([]core.MultiCall) ([]core.Slot, error) {
		return nil, &core.TransportError{Err: errors.New("connection refused")}
	}
	q := newTestQueue(tr, 3, time.Hour)
	defer q.drain()

	var items []*queueItem
	for i := 0; i < 3; i++ {
		items = append(items, q.enqueue(fmt.Sprint(i), "get", map[string]any{"i": i}, defaultSettings(), true))
	}
	for _, it := range items {
		_, err := waitItem(t, it)
		var te *core.TransportError
		assert.ErrorAs(t, err, &te)
	}
}

func TestQueueReusesPendingCalls(t *testing.T) {
	tr := newFakeTransport()
	q := newTestQueue(tr, 10, time.Hour)

	a := q.enqueue("same", "get", nil, defaultSettings(), true)
	b := q.enqueue("same", "get", nil, defaultSettings(), true)
	c := q.enqueue("same", "get", nil, defaultSettings(), false)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, q.size())

	q.drain()
	for _, it := range []*queueItem{a, c} {
		_, err := waitItem(t, it)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tr.batchCount())
}

func TestDecodeSlot(t *testing.T) {
	data, err := decodeSlot(core.Slot{Data: "null"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	_, err = decodeSlot(core.Slot{Data: "{broken"})
	assert.True(t, hasCode(err, "invalidresponse"))

	_, err = decodeSlot(core.Slot{Error: true, Exception: "plain text failure"})
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unknown", se.ErrorCode)
	assert.Equal(t, "plain text failure", se.Message)

	_, err = decodeSlot(core.Slot{Error: true, Exception: `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`})
	assert.Equal(t, KindSessionExpired, Classify(err))
}

func TestOrchestratorBatchesConcurrentCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueLimit = 3
	h := newHarnessWithConfig(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.o.Read(ctx, "getWidget", map[string]any{"id": i})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.JSONEq(t, fmt.Sprintf(`{"method":"getWidget","args":{"id":%d}}`, i), string(results[i]))
	}
	assert.Equal(t, 1, h.tr.batchCount())

	_, err := h.o.Read(ctx, "getGadget", nil, Immediate)
	require.NoError(t, err)
	assert.Equal(t, 1, h.tr.callCount(), "immediate calls skip the queue")
}
