package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// future is assigned exactly once with the initialized table or the
// error that prevented it.
type future struct {
	done  chan struct{}
	table core.Table
	err   error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(t core.Table, err error) {
	f.table, f.err = t, err
	close(f.done)
}

func (f *future) wait(ctx context.Context) (core.Table, error) {
	select {
	case <-f.done:
		return f.table, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Proxy picks the strategy from its configuration and exposes it behind
// the table contract. Calls issued before initialization finishes wait
// for it rather than fail.
type Proxy struct {
	store  core.RowStore
	schema *core.Schema
	opts   []Option

	mu      sync.Mutex
	cfg     Config
	current *future
	started bool

	// serializes Initialize, Reconfigure and Destroy
	lifecycle sync.Mutex
}

// NewProxy returns an uninitialized proxy.
func NewProxy(cfg Config, store core.RowStore, sc *core.Schema, opts ...Option) *Proxy {
	return &Proxy{
		store:   store,
		schema:  sc,
		opts:    opts,
		cfg:     cfg,
		current: newFuture(),
	}
}

// Config returns the configuration of the current target.
func (p *Proxy) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Target waits for and returns the concrete table.
func (p *Proxy) Target(ctx context.Context) (core.Table, error) {
	p.mu.Lock()
	f := p.current
	p.mu.Unlock()
	return f.wait(ctx)
}

func build(ctx context.Context, cfg Config, store core.RowStore, sc *core.Schema, opts []Option) (core.Table, error) {
	t, err := New(cfg, store, sc, opts...)
	if err != nil {
		return nil, err
	}
	if err := t.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize table %s: %w", sc.TableName, err)
	}
	return t, nil
}

// Initialize builds and initializes the configured strategy. Only the
// first call does the work; later calls return its outcome.
func (p *Proxy) Initialize(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	f, cfg, started := p.current, p.cfg, p.started
	p.started = true
	p.mu.Unlock()

	if started {
		_, err := f.wait(ctx)
		return err
	}
	t, err := build(ctx, cfg, p.store, p.schema, p.opts)
	f.resolve(t, err)
	return err
}

// Reconfigure switches to another strategy. Calls issued meanwhile wait for
// the new target; the old one is destroyed once the new one is ready.
func (p *Proxy) Reconfigure(ctx context.Context, cfg Config) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	next := newFuture()
	p.mu.Lock()
	prev := p.current
	p.current, p.cfg, p.started = next, cfg, true
	p.mu.Unlock()

	t, err := build(ctx, cfg, p.store, p.schema, p.opts)
	next.resolve(t, err)

	select {
	case <-prev.done:
		if prev.table != nil {
			if derr := prev.table.Destroy(ctx); derr != nil && err == nil {
				err = derr
			}
		}
	default:
		// never initialized; nothing to destroy
		prev.resolve(t, err)
	}
	return err
}

// Destroy waits for the target and destroys it.
func (p *Proxy) Destroy(ctx context.Context) error {
	// Initialize needs the lifecycle lock to resolve the future.
	if _, err := p.Target(ctx); err != nil {
		return err
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.Destroy(ctx)
}

func (p *Proxy) Schema() *core.Schema {
	return p.schema
}

func (p *Proxy) GetMany(ctx context.Context, where core.Record, opts core.Query) ([]core.Record, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return nil, err
	}
	return t.GetMany(ctx, where, opts)
}

func (p *Proxy) GetManyWhere(ctx context.Context, conds core.Conditions) ([]core.Record, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return nil, err
	}
	return t.GetManyWhere(ctx, conds)
}

func (p *Proxy) GetOne(ctx context.Context, where core.Record, opts core.Query) (core.Record, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return nil, err
	}
	return t.GetOne(ctx, where, opts)
}

func (p *Proxy) GetOneByPrimaryKey(ctx context.Context, key core.Record) (core.Record, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return nil, err
	}
	return t.GetOneByPrimaryKey(ctx, key)
}

func (p *Proxy) Reduce(ctx context.Context, reducer core.Reducer, conds core.Conditions) (any, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return nil, err
	}
	return t.Reduce(ctx, reducer, conds)
}

func (p *Proxy) HasAny(ctx context.Context, where core.Record) (bool, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return false, err
	}
	return t.HasAny(ctx, where)
}

func (p *Proxy) HasAnyByPrimaryKey(ctx context.Context, key core.Record) (bool, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return false, err
	}
	return t.HasAnyByPrimaryKey(ctx, key)
}

func (p *Proxy) Count(ctx context.Context, where core.Record) (int, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return 0, err
	}
	return t.Count(ctx, where)
}

func (p *Proxy) Insert(ctx context.Context, record core.Record) (int64, error) {
	t, err := p.Target(ctx)
	if err != nil {
		return 0, err
	}
	return t.Insert(ctx, record)
}

func (p *Proxy) Update(ctx context.Context, values, where core.Record) error {
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.Update(ctx, values, where)
}

func (p *Proxy) UpdateWhere(ctx context.Context, values core.Record, conds core.Conditions) error {
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.UpdateWhere(ctx, values, conds)
}

func (p *Proxy) Delete(ctx context.Context, where core.Record) error {
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.Delete(ctx, where)
}

func (p *Proxy) DeleteWhere(ctx context.Context, conds core.Conditions) error {
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.DeleteWhere(ctx, conds)
}

func (p *Proxy) DeleteByPrimaryKey(ctx context.Context, key core.Record) error {
	t, err := p.Target(ctx)
	if err != nil {
		return err
	}
	return t.DeleteByPrimaryKey(ctx, key)
}
