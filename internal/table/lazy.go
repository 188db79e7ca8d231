package table

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// LazyTable memoizes single-record reads. An index entry is either a
// cached record or nil, which marks a key confirmed absent; keys not in
// the index were never looked up. The whole index is cleared every
// lifetime.
type LazyTable struct {
	*NoneTable

	clock    clockwork.Clock
	lifetime time.Duration

	mu    sync.RWMutex
	index map[string]core.Record

	stop chan struct{}
	done chan struct{}
}

func newLazy(store core.RowStore, sc *core.Schema, lifetime time.Duration, o options) *LazyTable {
	return &LazyTable{
		NoneTable: newNone(store, sc, o),
		clock:     o.clock,
		lifetime:  lifetime,
		index:     make(map[string]core.Record),
	}
}

// Initialize creates the table and starts the clearing ticker.
func (t *LazyTable) Initialize(ctx context.Context) error {
	if err := t.NoneTable.Initialize(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	ticker := t.clock.NewTicker(t.lifetime)
	go t.clearLoop(ticker, t.stop, t.done)
	return nil
}

func (t *LazyTable) clearLoop(ticker clockwork.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.clear()
			t.log.Debug().Msg("lazy index cleared")
		}
	}
}

func (t *LazyTable) clear() {
	t.mu.Lock()
	t.index = make(map[string]core.Record)
	t.mu.Unlock()
}

// Destroy stops the ticker and drops the index.
func (t *LazyTable) Destroy(context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	t.clear()
	return nil
}

// Size returns the number of index entries, absent markers included.
func (t *LazyTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

func (t *LazyTable) remember(key string, r core.Record) {
	t.mu.Lock()
	t.index[key] = r
	t.mu.Unlock()
}

// findCached returns a cached record matching conds.
func (t *LazyTable) findCached(conds core.Conditions) (core.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.index {
		if r != nil && conds.Matches(r) {
			return r.Clone(), true
		}
	}
	return nil, false
}

// GetOne answers from the index when a cached record matches. Ordered or
// paged lookups always go to the store since the index cannot rank.
func (t *LazyTable) GetOne(ctx context.Context, where core.Record, opts core.Query) (core.Record, error) {
	ordered := len(opts.Sort) > 0 || opts.Offset > 0
	if !ordered {
		if r, ok := t.findCached(core.Equal(where)); ok {
			return r.Project(opts.Columns), nil
		}
	}

	r, err := t.NoneTable.GetOne(ctx, where, core.Query{Sort: opts.Sort, Offset: opts.Offset})
	if err != nil {
		return nil, err
	}
	if key, err := t.key(r); err == nil {
		t.remember(key, r.Clone())
	}
	return r.Project(opts.Columns), nil
}

func (t *LazyTable) GetOneByPrimaryKey(ctx context.Context, key core.Record) (core.Record, error) {
	conds, serialized, err := t.primaryKey(key)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	r, seen := t.index[serialized]
	t.mu.RUnlock()
	if seen {
		if r == nil {
			return nil, notFound(t.name, conds)
		}
		return r.Clone(), nil
	}

	r, err = t.store.GetRecord(ctx, t.name, conds)
	if errors.Is(err, core.ErrNotFound) {
		t.remember(serialized, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	t.remember(serialized, r.Clone())
	return r, nil
}

// HasAny trusts a positive match in the index. A miss proves nothing
// since the index is partial.
func (t *LazyTable) HasAny(ctx context.Context, where core.Record) (bool, error) {
	if _, ok := t.findCached(core.Equal(where)); ok {
		return true, nil
	}
	return t.NoneTable.HasAny(ctx, where)
}

func (t *LazyTable) HasAnyByPrimaryKey(ctx context.Context, key core.Record) (bool, error) {
	_, serialized, err := t.primaryKey(key)
	if err != nil {
		return false, err
	}
	t.mu.RLock()
	r, seen := t.index[serialized]
	t.mu.RUnlock()
	if seen {
		return r != nil, nil
	}
	return t.NoneTable.HasAnyByPrimaryKey(ctx, key)
}

func (t *LazyTable) Insert(ctx context.Context, record core.Record) (int64, error) {
	id, r, err := t.insert(ctx, record)
	if err != nil {
		return 0, err
	}
	if key, err := t.key(r); err == nil {
		t.remember(key, r)
	}
	return id, nil
}

func (t *LazyTable) Update(ctx context.Context, values, where core.Record) error {
	return t.UpdateWhere(ctx, values, core.Equal(where))
}

func (t *LazyTable) UpdateWhere(ctx context.Context, values core.Record, conds core.Conditions) error {
	vals, err := t.tr.NormalizeRecord(values, t.schema)
	if err != nil {
		return err
	}
	if err := t.store.UpdateRecordsWhere(ctx, t.name, values, conds); err != nil {
		return err
	}

	// Moving a record to another key could invalidate absent markers.
	if t.touchesPrimaryKey(vals) || !conds.Evaluable() {
		t.clear()
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, r := range t.index {
		if r == nil || !conds.Matches(r) {
			continue
		}
		updated := r.Clone()
		for k, v := range vals {
			updated[k] = v
		}
		t.index[key] = updated
	}
	return nil
}

func (t *LazyTable) Delete(ctx context.Context, where core.Record) error {
	if err := t.store.DeleteRecords(ctx, t.name, where); err != nil {
		return err
	}
	if len(where) == 0 {
		t.clear()
		return nil
	}
	t.forget(core.Equal(where))
	return nil
}

func (t *LazyTable) DeleteWhere(ctx context.Context, conds core.Conditions) error {
	if err := t.store.DeleteRecordsSelect(ctx, t.name, conds); err != nil {
		return err
	}
	if !conds.Evaluable() {
		t.clear()
		return nil
	}
	t.forget(conds)
	return nil
}

func (t *LazyTable) DeleteByPrimaryKey(ctx context.Context, key core.Record) error {
	conds, serialized, err := t.primaryKey(key)
	if err != nil {
		return err
	}
	if err := t.store.DeleteRecordsSelect(ctx, t.name, conds); err != nil {
		return err
	}
	t.remember(serialized, nil)
	return nil
}

// forget drops cached records matching conds; absent markers stay valid.
func (t *LazyTable) forget(conds core.Conditions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, r := range t.index {
		if r != nil && conds.Matches(r) {
			delete(t.index, key)
		}
	}
}
