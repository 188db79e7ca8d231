package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// queueItem is a call waiting to be sent in a batch.
type queueItem struct {
	id       string
	method   string
	args     any
	settings core.Settings

	done chan struct{}
	data json.RawMessage
	err  error
}

func (it *queueItem) resolve(data json.RawMessage, err error) {
	it.data, it.err = data, err
	close(it.done)
}

func (it *queueItem) wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-it.done:
		return it.data, it.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// batchQueue coalesces calls into composite requests. It flushes when
// limit items are queued or delay after the first item, whichever comes
// first.
type batchQueue struct {
	tr    core.Transport
	lang  string
	limit int
	delay time.Duration
	clock clockwork.Clock
	log   zerolog.Logger

	mu    sync.Mutex
	items []*queueItem
	gen   uint64 // bumped on every flush so stale timers do nothing

	stop     chan struct{}
	stopOnce sync.Once
	flushes  sync.WaitGroup
}

func newBatchQueue(tr core.Transport, lang string, limit int, delay time.Duration, clock clockwork.Clock, log zerolog.Logger) *batchQueue {
	return &batchQueue{
		tr:    tr,
		lang:  lang,
		limit: limit,
		delay: delay,
		clock: clock,
		log:   log,
		stop:  make(chan struct{}),
	}
}

// enqueue adds a call and returns the item to wait on. With reuse an
// identical queued call is returned instead.
func (q *batchQueue) enqueue(id, method string, args any, settings core.Settings, reuse bool) *queueItem {
	q.mu.Lock()
	if reuse {
		for _, it := range q.items {
			if it.id == id {
				q.mu.Unlock()
				return it
			}
		}
	}
	it := &queueItem{
		id:       id,
		method:   method,
		args:     args,
		settings: settings,
		done:     make(chan struct{}),
	}
	q.push(it)
	return it
}

// push appends it and schedules a flush. Callers hold mu; push releases it.
func (q *batchQueue) push(it *queueItem) {
	q.items = append(q.items, it)
	switch {
	case len(q.items) >= q.limit:
		batch := q.take()
		q.mu.Unlock()
		q.flushAsync(batch)
	case len(q.items) == 1:
		gen := q.gen
		q.mu.Unlock()
		q.flushes.Add(1)
		go func() {
			defer q.flushes.Done()
			select {
			case <-q.clock.After(q.delay):
			case <-q.stop:
			}
			q.mu.Lock()
			if q.gen != gen {
				q.mu.Unlock()
				return
			}
			batch := q.take()
			q.mu.Unlock()
			q.flush(batch)
		}()
	default:
		q.mu.Unlock()
	}
}

// take empties the queue. Callers hold mu.
func (q *batchQueue) take() []*queueItem {
	batch := q.items
	q.items = nil
	q.gen++
	return batch
}

func (q *batchQueue) flushAsync(batch []*queueItem) {
	q.flushes.Add(1)
	go func() {
		defer q.flushes.Done()
		q.flush(batch)
	}()
}

// size returns the number of queued calls.
func (q *batchQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain flushes whatever is queued and waits for every flush in flight.
// Calls queued afterwards are sent without waiting for the delay.
func (q *batchQueue) drain() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.mu.Lock()
	batch := q.take()
	q.mu.Unlock()
	q.flush(batch)
	q.flushes.Wait()
}

func (q *batchQueue) flush(batch []*queueItem) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()

	if len(batch) == 1 {
		it := batch[0]
		data, err := q.tr.Call(ctx, it.method, it.args, it.settings)
		it.resolve(data, err)
		return
	}

	calls := make([]core.MultiCall, len(batch))
	cleanUnicode := false
	for i, it := range batch {
		calls[i] = core.MultiCall{
			Method:  it.method,
			Args:    it.args,
			Filter:  it.settings.Filter,
			FileURL: it.settings.FileURL,
		}
		cleanUnicode = cleanUnicode || it.settings.CleanUnicode
	}

	start := q.clock.Now()
	slots, err := q.tr.CallMulti(ctx, calls, core.Settings{
		Lang:             q.lang,
		CleanUnicode:     cleanUnicode,
		ResponseExpected: true,
	})
	if err != nil {
		q.log.Warn().Err(err).Int("calls", len(batch)).Msg("batch failed")
		for _, it := range batch {
			it.resolve(nil, err)
		}
		return
	}
	q.log.Debug().Int("calls", len(batch)).Int("responses", len(slots)).Dur("took", q.clock.Since(start)).Msg("batch sent")

	for i, it := range batch {
		if i >= len(slots) {
			// the server stopped early; send the rest again
			q.requeue(it)
			continue
		}
		it.resolve(decodeSlot(slots[i]))
	}
}

func (q *batchQueue) requeue(it *queueItem) {
	q.mu.Lock()
	q.push(it)
}

func decodeSlot(s core.Slot) (json.RawMessage, error) {
	if s.Error {
		if se, ok := core.ParseServerError([]byte(s.Exception)); ok {
			return nil, se
		}
		return nil, &core.ServerError{
			Exception: "moodle_exception",
			ErrorCode: "unknown",
			Message:   s.Exception,
		}
	}
	if s.Data == "" || s.Data == "null" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(s.Data)) {
		return nil, &core.ServerError{
			Exception: "invalid_response_exception",
			ErrorCode: "invalidresponse",
			Message:   "malformed response data",
		}
	}
	return json.RawMessage(s.Data), nil
}
