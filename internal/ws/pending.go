package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Result is one value produced for a call.
type Result struct {
	Data json.RawMessage
	Err  error

	// Cached is set when the value came from the cache.
	Cached bool
}

// pendingCall broadcasts the results of one in-flight call to every
// caller that joined it. A standard call emits once; a background refresh
// emits the cached value and then the fresh one.
type pendingCall struct {
	mu      sync.Mutex
	results []Result
	done    bool
	changed chan struct{}
}

func newPendingCall() *pendingCall {
	return &pendingCall{changed: make(chan struct{})}
}

func (p *pendingCall) emit(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.results = append(p.results, r)
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *pendingCall) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	close(p.changed)
}

func (p *pendingCall) emitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func (p *pendingCall) snapshot() ([]Result, bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results, p.done, p.changed
}

var errNoResult = errors.New("call finished without a result")

// first waits for the first result.
func (p *pendingCall) first(ctx context.Context) Result {
	for {
		results, done, changed := p.snapshot()
		if len(results) > 0 {
			return results[0]
		}
		if done {
			return Result{Err: errNoResult}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		}
	}
}

// subscribe replays every result, past and future, and closes the channel
// once the call finishes or ctx ends.
func (p *pendingCall) subscribe(ctx context.Context) <-chan Result {
	out := make(chan Result, 2)
	go func() {
		defer close(out)
		sent := 0
		for {
			results, done, changed := p.snapshot()
			for ; sent < len(results); sent++ {
				select {
				case out <- results[sent]:
				case <-ctx.Done():
					return
				}
			}
			if done {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
