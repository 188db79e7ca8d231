package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/database"
)

type sentCall struct {
	method   string
	args     any
	settings core.Settings
}

// fakeTransport records every dispatch and answers with handler.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []sentCall
	batches  [][]core.MultiCall
	settings []core.Settings
	gate     chan struct{}

	handler func(method string, args any, s core.Settings) (json.RawMessage, error)
	multi   func(calls []core.MultiCall) ([]core.Slot, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func echo(method string, args any, _ core.Settings) (json.RawMessage, error) {
	data, err := json.Marshal(map[string]any{"method": method, "args": args})
	return data, err
}

func (f *fakeTransport) Call(_ context.Context, method string, args any, s core.Settings) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{method: method, args: args, settings: s})
	gate, handler := f.gate, f.handler
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if handler == nil {
		handler = echo
	}
	return handler(method, args, s)
}

func (f *fakeTransport) CallMulti(_ context.Context, calls []core.MultiCall, s core.Settings) ([]core.Slot, error) {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.settings = append(f.settings, s)
	multi, handler := f.multi, f.handler
	f.mu.Unlock()

	if multi != nil {
		return multi(calls)
	}
	if handler == nil {
		handler = echo
	}
	slots := make([]core.Slot, len(calls))
	for i, c := range calls {
		data, err := handler(c.Method, c.Args, core.Settings{Filter: c.Filter, FileURL: c.FileURL})
		if err != nil {
			se, ok := err.(*core.ServerError)
			if !ok {
				return nil, err
			}
			slots[i] = core.Slot{Error: true, Exception: string(se.Raw())}
			continue
		}
		slots[i] = core.Slot{Data: string(data)}
	}
	return slots, nil
}

func (f *fakeTransport) setHandler(h func(method string, args any, s core.Settings) (json.RawMessage, error)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeTransport) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func serverError(code string) *core.ServerError {
	return &core.ServerError{
		Exception: "moodle_exception",
		ErrorCode: code,
		Message:   fmt.Sprintf("error %s", code),
	}
}

func constant(payload string) func(string, any, core.Settings) (json.RawMessage, error) {
	return func(string, any, core.Settings) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func failing(err error) func(string, any, core.Settings) (json.RawMessage, error) {
	return func(string, any, core.Settings) (json.RawMessage, error) {
		return nil, err
	}
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type harness struct {
	o     *Orchestrator
	tr    *fakeTransport
	net   *StaticNetwork
	clock fakeClock
	store *database.MemoryStore
}

// newHarness builds an orchestrator without batching on a fake clock.
func newHarness(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SiteID = "site1"
	cfg.DisableQueue = true
	return newHarnessWithConfig(t, cfg, opts...)
}

func newHarnessWithConfig(t *testing.T, cfg Config, opts ...OrchestratorOption) *harness {
	t.Helper()
	h := &harness{
		tr:    newFakeTransport(),
		net:   NewStaticNetwork(true, false),
		clock: clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		store: database.NewMemoryStore(),
	}
	all := append([]OrchestratorOption{WithClock(h.clock), WithNetwork(h.net)}, opts...)
	o, err := New(context.Background(), cfg, h.tr, h.store, all...)
	require.NoError(t, err)
	h.o = o
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return h
}

func collect(t *testing.T, ch <-chan Result) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("stream was not closed")
			return out
		}
	}
}
